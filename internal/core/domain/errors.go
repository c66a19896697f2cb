package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

var (
	ErrProfileNotFound    = errors.New("profile not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNoSession          = errors.New("no active session")
	ErrForbidden          = errors.New("access forbidden")
)

// BackendError is a non-2xx answer from the auth backend.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend: status %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is worth retrying: a 5xx answer, a
// network failure, or a transport timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.StatusCode >= http.StatusInternalServerError
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}
