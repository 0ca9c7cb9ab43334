package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/party-roster/internal/application"
	"github.com/example/party-roster/internal/logging"
	"github.com/example/party-roster/internal/scheduler"
	"github.com/gin-gonic/gin"
)

var (
	errBadRequestBody     = errors.New("invalid request body")
	errMissingBearerToken = errors.New("a bearer token is required")
	errAuthDisabled       = errors.New("operator login is not configured")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(c *gin.Context, status int, payload any) {
	if status == http.StatusNoContent || payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}

func (r responder) writeError(c *gin.Context, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(c).ErrorContext(c.Request.Context(), "request failed", "status", status, "error", err)
	}
	r.writeJSON(c, status, errorResponse{Message: message})
}

// handleServiceError maps service and scheduler errors onto status codes.
func (r responder) handleServiceError(c *gin.Context, err error) {
	if err == nil {
		r.writeError(c, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	switch {
	case errors.Is(err, application.ErrUnauthorized), errors.Is(err, application.ErrInvalidCredentials):
		r.writeJSON(c, http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_UNAUTHORIZED", Message: "authentication required"})
	case errors.Is(err, application.ErrNotFound), errors.Is(err, scheduler.ErrUnknownCommunity):
		r.writeJSON(c, http.StatusNotFound, errorResponse{Message: "community not found"})
	case errors.Is(err, scheduler.ErrNotRunning), errors.Is(err, scheduler.ErrStopped):
		r.writeJSON(c, http.StatusConflict, errorResponse{ErrorCode: "COMMUNITY_NOT_RUNNING", Message: err.Error()})
	default:
		var vErr *application.ValidationError
		if errors.As(err, &vErr) {
			r.writeJSON(c, http.StatusUnprocessableEntity, errorResponse{
				Message: "request is invalid",
				Errors:  vErr.FieldErrors,
			})
			return
		}
		r.writeJSON(c, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func (r responder) loggerFor(c *gin.Context) *slog.Logger {
	return logging.FromContextOr(c.Request.Context(), r.logger)
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
