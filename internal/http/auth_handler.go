package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/party-roster/internal/application"
	"github.com/gin-gonic/gin"
)

type authService interface {
	Enabled() bool
	Login(ctx context.Context, password string) (application.OperatorToken, error)
}

type AuthHandler struct {
	service   authService
	responder responder
	logger    *slog.Logger
}

func NewAuthHandler(service authService, logger *slog.Logger) *AuthHandler {
	base := defaultLogger(logger)
	return &AuthHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AuthHandler) log(c *gin.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(c.Request.Context(), h.logger, "AuthHandler", operation, attrs...)
}

// Login exchanges the operator password for a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	if !h.service.Enabled() {
		h.responder.writeJSON(c, http.StatusServiceUnavailable, errorResponse{Message: errAuthDisabled.Error()})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log(c, "Login", "error_kind", "bad_request").ErrorContext(c.Request.Context(), "failed to decode login request", "error", err)
		h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(c, "Login")
	token, err := h.service.Login(c.Request.Context(), req.Password)
	if err != nil {
		logger.ErrorContext(c.Request.Context(), "login rejected", "error", err, "error_kind", application.ErrorKind(err))
		if errors.Is(err, application.ErrInvalidCredentials) {
			h.responder.writeJSON(c, http.StatusUnauthorized, errorResponse{
				ErrorCode: "AUTH_INVALID_CREDENTIALS",
				Message:   "password is incorrect",
			})
			return
		}
		h.responder.handleServiceError(c, err)
		return
	}

	logger.InfoContext(c.Request.Context(), "operator authenticated", "token_id", token.ID)
	h.responder.writeJSON(c, http.StatusCreated, loginResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}
