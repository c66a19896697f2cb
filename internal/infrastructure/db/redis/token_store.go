package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

// TokenStore keeps refresh tokens in Redis.
// Key format: refresh:<token> → user ID, expiring with the token.
type TokenStore struct {
	client *redis.Client
}

// NewTokenStore creates a TokenStore wrapping the given Redis client.
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

func (s *TokenStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(token), userID, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// Consume returns the owner of token and deletes it in one round trip, so a
// refresh token can be rotated at most once.
func (s *TokenStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, s.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrInvalidToken
		}
		return "", fmt.Errorf("consume refresh token: %w", err)
	}
	return userID, nil
}

func (s *TokenStore) Owner(ctx context.Context, token string) (string, error) {
	userID, err := s.client.Get(ctx, s.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrInvalidToken
		}
		return "", fmt.Errorf("look up refresh token: %w", err)
	}
	return userID, nil
}

func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *TokenStore) key(token string) string {
	return "refresh:" + token
}
