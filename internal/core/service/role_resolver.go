package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitcoach/coach-system/internal/api/metrics"
	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/ports"
)

const (
	DefaultRoleRetryBase  = time.Second
	DefaultRoleMaxRetries = 3
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RoleResolverOptions tunes the retry policy.
type RoleResolverOptions struct {
	// BaseDelay is the wait before the first retry; it doubles afterwards.
	BaseDelay time.Duration
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// Sleep defaults to a timer bound to ctx.
	Sleep Sleeper
}

// RoleResolver derives a Role for an identity. It never fails: lookups that
// cannot complete resolve to domain.FallbackRole.
type RoleResolver struct {
	lookup     ports.ProfileRoleLookup
	baseDelay  time.Duration
	maxRetries int
	sleep      Sleeper
	log        zerolog.Logger
}

func NewRoleResolver(lookup ports.ProfileRoleLookup, opts RoleResolverOptions, log zerolog.Logger) *RoleResolver {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultRoleRetryBase
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultRoleMaxRetries
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &RoleResolver{
		lookup:     lookup,
		baseDelay:  opts.BaseDelay,
		maxRetries: opts.MaxRetries,
		sleep:      opts.Sleep,
		log:        log,
	}
}

// Resolve looks up the role stored on the profile of identityID. Transient
// failures are retried with exponential backoff (base, 2×base, 4×base, …).
// Exhausted retries, missing profiles, unset or unknown roles and
// non-retryable errors all resolve to domain.FallbackRole.
func (r *RoleResolver) Resolve(ctx context.Context, identityID string) domain.Role {
	if identityID == "" {
		r.log.Warn().Msg("role lookup skipped: empty identity id")
		return r.fallback("empty_identity", 0)
	}

	attempts := 0
	for attempt := 0; ; attempt++ {
		attempts++
		raw, err := r.lookup.QueryProfileRole(ctx, identityID)
		if err == nil {
			role, perr := domain.ParseRole(string(raw))
			if perr != nil {
				r.log.Warn().Str("user_id", identityID).Str("role", string(raw)).Msg("profile has no usable role")
				return r.fallback("no_role", attempts)
			}
			metrics.RoleResolutionsTotal.WithLabelValues("resolved").Inc()
			metrics.RoleLookupAttempts.Observe(float64(attempts))
			return role
		}

		if errors.Is(err, domain.ErrProfileNotFound) {
			r.log.Warn().Str("user_id", identityID).Msg("profile not found")
			return r.fallback("not_found", attempts)
		}
		if !domain.IsTransient(err) {
			r.log.Error().Err(err).Str("user_id", identityID).Msg("role lookup failed")
			return r.fallback("error", attempts)
		}
		if attempt >= r.maxRetries {
			r.log.Error().Err(err).Str("user_id", identityID).Int("attempts", attempts).Msg("role lookup retries exhausted")
			return r.fallback("exhausted", attempts)
		}

		delay := r.baseDelay << attempt
		r.log.Warn().Err(err).
			Str("user_id", identityID).
			Int("attempt", attempts).
			Dur("retry_in", delay).
			Msg("transient role lookup failure")

		if err := r.sleep(ctx, delay); err != nil {
			r.log.Warn().Err(err).Str("user_id", identityID).Msg("role lookup abandoned")
			return r.fallback("cancelled", attempts)
		}
	}
}

func (r *RoleResolver) fallback(outcome string, attempts int) domain.Role {
	metrics.RoleResolutionsTotal.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		metrics.RoleLookupAttempts.Observe(float64(attempts))
	}
	return domain.FallbackRole
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
