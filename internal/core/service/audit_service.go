package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fitcoach/coach-system/internal/api/metrics"
	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/ports"
)

// AuditService writes audit records handed over by the dispatcher.
type AuditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditService {
	return &AuditService{repo: repo, log: log}
}

// Record persists a single audit record.
func (s *AuditService) Record(ctx context.Context, record domain.AuditRecord) error {
	if err := s.repo.Insert(ctx, &record); err != nil {
		metrics.AuditRecordsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("record audit: %w", err)
	}
	metrics.AuditRecordsTotal.WithLabelValues("ok").Inc()
	s.log.Debug().Str("user_id", record.UserID).Str("action", record.Action).Msg("audit recorded")
	return nil
}
