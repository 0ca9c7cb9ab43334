package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/party-roster/internal/application"
	"github.com/example/party-roster/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TokenVerifier validates operator bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (application.OperatorClaims, error)
}

// RequireOperator rejects requests without a valid operator bearer token.
func RequireOperator(verifier TokenVerifier, logger *slog.Logger) gin.HandlerFunc {
	responder := newResponder(logger)

	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			responder.writeJSON(c, http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_UNAUTHORIZED", Message: errMissingBearerToken.Error()})
			c.Abort()
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			responder.handleServiceError(c, err)
			c.Abort()
			return
		}

		ctx := ContextWithOperator(c.Request.Context(), claims)
		if logger := logging.FromContext(ctx); logger != nil {
			ctx = logging.ContextWithLogger(ctx, logger.With("token_id", claims.ID))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger attaches a request-scoped logger and logs each request once it completes.
func RequestLogger(base *slog.Logger) gin.HandlerFunc {
	base = defaultLogger(base)

	return func(c *gin.Context) {
		logger := base.With(
			"request_id", uuid.NewString(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)

		ctx := logging.ContextWithLogger(c.Request.Context(), logger)
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()
		logger.InfoContext(ctx, "request completed", "status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
