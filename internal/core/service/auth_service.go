package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/fitcoach/coach-system/internal/api/metrics"
	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/ports"
)

// TokenConfig controls token lifetimes and signing.
type TokenConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthService implements sign-up, password login, refresh and logout.
type AuthService struct {
	users    ports.UserRepository
	profiles ports.ProfileRepository
	tokens   ports.RefreshTokenStore
	events   ports.AuthEventPublisher
	audit    ports.AuditSink
	cfg      TokenConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewAuthService(
	users ports.UserRepository,
	profiles ports.ProfileRepository,
	tokens ports.RefreshTokenStore,
	events ports.AuthEventPublisher,
	audit ports.AuditSink,
	cfg TokenConfig,
	log zerolog.Logger,
) *AuthService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &AuthService{
		users:    users,
		profiles: profiles,
		tokens:   tokens,
		events:   events,
		audit:    audit,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates the account and its profile with the default role.
func (s *AuthService) Register(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	created, err := s.users.Create(ctx, &domain.User{
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	profile := &domain.Profile{
		ID:        created.ID,
		Email:     created.Email,
		FullName:  created.FullName,
		Role:      domain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		// The account exists without a profile; role resolution falls back
		// to the default role until one is created.
		s.log.Error().Err(err).Str("user_id", created.ID).Msg("failed to create profile")
	}

	s.audit.Enqueue(domain.AuditRecord{UserID: created.ID, Action: domain.AuditSignup, OccurredAt: now})
	return created, nil
}

// Login verifies the password and opens a new session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			metrics.AuthLoginsTotal.WithLabelValues("unknown_user").Inc()
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		metrics.AuthLoginsTotal.WithLabelValues("bad_password").Inc()
		s.audit.Enqueue(domain.AuditRecord{UserID: user.ID, Action: domain.AuditLoginFailed, OccurredAt: s.now()})
		return nil, domain.ErrInvalidCredentials
	}

	session, err := s.issueSession(ctx, user.Identity())
	if err != nil {
		return nil, err
	}

	metrics.AuthLoginsTotal.WithLabelValues("success").Inc()
	s.audit.Enqueue(domain.AuditRecord{UserID: user.ID, Action: domain.AuditLogin, OccurredAt: s.now()})
	return session, nil
}

// Refresh rotates a refresh token into a new session. The old token is
// consumed whether or not the rotation succeeds.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	if refreshToken == "" {
		return nil, domain.ErrInvalidToken
	}

	userID, err := s.tokens.Consume(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}

	session, err := s.issueSession(ctx, user.Identity())
	if err != nil {
		return nil, err
	}

	s.audit.Enqueue(domain.AuditRecord{UserID: user.ID, Action: domain.AuditRefresh, OccurredAt: s.now()})
	return session, nil
}

// Logout revokes the refresh token (if given) and tells other clients of
// the user that the session ended.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) error {
	if refreshToken != "" {
		owner, err := s.tokens.Owner(ctx, refreshToken)
		switch {
		case errors.Is(err, domain.ErrInvalidToken):
			// Already expired or rotated away; nothing to revoke.
		case err != nil:
			return fmt.Errorf("logout: %w", err)
		case owner != userID:
			s.log.Warn().Str("user_id", userID).Msg("logout with a refresh token owned by another user")
			return domain.ErrInvalidToken
		default:
			if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
		}
	}

	now := s.now()
	if err := s.events.Publish(ctx, domain.RemoteAuthEvent{
		UserID:     userID,
		Kind:       domain.EventSignedOut,
		OccurredAt: now,
	}); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to publish sign-out event")
	}

	s.audit.Enqueue(domain.AuditRecord{UserID: userID, Action: domain.AuditLogout, OccurredAt: now})
	return nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *AuthService) issueSession(ctx context.Context, identity domain.Identity) (*domain.Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)

	claims := jwt.RegisteredClaims{
		Subject:   identity.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email:            identity.Email,
		RegisteredClaims: claims,
	}).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := uuid.NewString()
	if err := s.tokens.Save(ctx, refresh, identity.ID, s.cfg.RefreshTTL); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		Identity:     identity,
	}, nil
}

// accessClaims is the payload of an access token.
type accessClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ParseAccessToken validates an HS256 access token and returns the identity
// it was issued to.
func ParseAccessToken(token, secret string) (domain.Identity, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	return domain.Identity{ID: claims.Subject, Email: claims.Email}, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
