package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Error kinds surfaced to the routing layer. Match with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInternal      = errors.New("internal failure")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnavailable   = errors.New("unavailable")
)

// ErrInvalidCredentials is returned by login for both an unknown email and a
// wrong password.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)

// internalFailure logs the store's native error and hides it behind
// ErrInternal.
func internalFailure(ctx context.Context, logger *slog.Logger, op string, err error) error {
	logger.ErrorContext(ctx, "persistence failure", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, ErrInternal)
}
