package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/party-roster/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContextOr(ctx, base)
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}

// failureLevel is the level a failed operation is logged at. Faults caused by
// the caller are warnings; everything else is an error.
func failureLevel(err error) slog.Level {
	switch ErrorKind(err) {
	case "validation", "not_active", "invalid_credentials", "unauthorized":
		return slog.LevelWarn
	}
	return slog.LevelError
}

func logFailure(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.Log(ctx, failureLevel(err), msg, "error", err, "error_kind", ErrorKind(err))
}
