package http

import (
	"context"

	"github.com/example/party-roster/internal/application"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// ContextWithOperator returns a derived context containing the authenticated operator claims.
func ContextWithOperator(ctx context.Context, claims application.OperatorClaims) context.Context {
	return context.WithValue(ctx, operatorContextKey, claims)
}

// OperatorFromContext extracts the authenticated operator claims if available.
func OperatorFromContext(ctx context.Context) (application.OperatorClaims, bool) {
	claims, ok := ctx.Value(operatorContextKey).(application.OperatorClaims)
	return claims, ok
}
