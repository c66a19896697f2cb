package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutBody struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type tokenPayload struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    int64           `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	User         domain.Identity `json:"user"`
}

type profilePayload struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// toSession converts a token answer into a Session. The expiry comes from
// expires_at, then expires_in, then the exp claim of the access token.
func (t tokenPayload) toSession(now time.Time) *domain.Session {
	s := &domain.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Identity:     t.User,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	default:
		s.ExpiresAt = tokenExpiry(t.AccessToken)
	}
	if s.Identity.ID == "" {
		s.Identity.ID = tokenSubject(t.AccessToken)
	}
	return s
}

// The client cannot verify the signature; these only read claims the
// backend already vouched for by returning the token.
func unverifiedClaims(token string) *jwt.RegisteredClaims {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	return &claims
}

func tokenExpiry(token string) time.Time {
	claims := unverifiedClaims(token)
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func tokenSubject(token string) string {
	claims := unverifiedClaims(token)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// do sends a JSON request and decodes a JSON answer into out. Non-2xx
// answers become *domain.BackendError; transport failures are wrapped so
// domain.IsTransient can classify them.
func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ep errorPayload
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&ep)
		return &domain.BackendError{StatusCode: resp.StatusCode, Message: ep.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
