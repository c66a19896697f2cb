package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/ports"
)

// ProfileService reads profiles and applies administrative role changes.
type ProfileService struct {
	repo   ports.ProfileRepository
	events ports.AuthEventPublisher
	audit  ports.AuditSink
	log    zerolog.Logger
}

func NewProfileService(repo ports.ProfileRepository, events ports.AuthEventPublisher, audit ports.AuditSink, log zerolog.Logger) *ProfileService {
	return &ProfileService{repo: repo, events: events, audit: audit, log: log}
}

func (s *ProfileService) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	if id == "" {
		return nil, domain.ErrProfileNotFound
	}
	return s.repo.FindByID(ctx, id)
}

// SetRole changes the role on a profile and notifies the user's clients so
// they re-resolve it.
func (s *ProfileService) SetRole(ctx context.Context, id string, role domain.Role, changedBy string) (*domain.Profile, error) {
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	now := time.Now().UTC()
	profile, err := s.repo.UpdateRole(ctx, id, role, now)
	if err != nil {
		return nil, err
	}

	if err := s.events.Publish(ctx, domain.RemoteAuthEvent{
		UserID:     id,
		Kind:       domain.EventUserUpdated,
		OccurredAt: now,
	}); err != nil {
		s.log.Warn().Err(err).Str("user_id", id).Msg("failed to publish role change")
	}

	s.audit.Enqueue(domain.AuditRecord{
		UserID:     id,
		Action:     domain.AuditRoleChanged,
		Detail:     "role=" + string(role) + " by=" + changedBy,
		OccurredAt: now,
	})

	s.log.Info().Str("user_id", id).Str("role", string(role)).Str("changed_by", changedBy).Msg("role changed")
	return profile, nil
}
