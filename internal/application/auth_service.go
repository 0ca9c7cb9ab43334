package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const operatorIssuer = "party-roster"

// PasswordVerifier compares a stored hash with a candidate password.
type PasswordVerifier func(hashedPassword, password string) error

// OperatorClaims are carried by operator bearer tokens.
type OperatorClaims struct {
	jwt.RegisteredClaims
}

// OperatorToken is an issued bearer token.
type OperatorToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// AuthService authenticates the operator of the admin API. There is a single
// operator identified by a password hash; sessions are stateless HS256 tokens.
type AuthService struct {
	passwordHash   string
	secret         []byte
	verifyPassword PasswordVerifier
	tokenID        func() string
	now            func() time.Time
	tokenTTL       time.Duration
	logger         *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(passwordHash string, secret []byte, verify PasswordVerifier, tokenID func() string, now func() time.Time, tokenTTL time.Duration) *AuthService {
	return NewAuthServiceWithLogger(passwordHash, secret, verify, tokenID, now, tokenTTL, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(passwordHash string, secret []byte, verify PasswordVerifier, tokenID func() string, now func() time.Time, tokenTTL time.Duration, logger *slog.Logger) *AuthService {
	if verify == nil {
		verify = VerifyPassword
	}
	if tokenID == nil {
		tokenID = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AuthService{
		passwordHash:   strings.TrimSpace(passwordHash),
		secret:         secret,
		verifyPassword: verify,
		tokenID:        tokenID,
		now:            now,
		tokenTTL:       tokenTTL,
		logger:         defaultLogger(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// Enabled reports whether operator login is configured.
func (s *AuthService) Enabled() bool {
	return s != nil && s.passwordHash != "" && len(s.secret) > 0
}

// Login verifies the operator password and issues a bearer token.
func (s *AuthService) Login(ctx context.Context, password string) (token OperatorToken, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Login")
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "operator login failed", err)
			return
		}
		logger.With("token_id", token.ID).InfoContext(ctx, "operator logged in")
	}()

	if !s.Enabled() {
		err = ErrUnauthorized
		return
	}
	if password == "" {
		err = ErrInvalidCredentials
		return
	}
	if vErr := s.verifyPassword(s.passwordHash, password); vErr != nil {
		if !errors.Is(vErr, ErrInvalidCredentials) {
			logger.WarnContext(ctx, "stored operator hash is unusable", "error", vErr)
		}
		err = ErrInvalidCredentials
		return
	}

	now := s.now()
	token.ID = s.tokenID()
	token.ExpiresAt = now.Add(s.tokenTTL).Truncate(time.Second)
	claims := OperatorClaims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        token.ID,
		Issuer:    operatorIssuer,
		Subject:   "operator",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
	}}
	token.Token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		err = fmt.Errorf("sign token: %w", err)
	}
	return
}

// Verify validates a bearer token. Any problem yields ErrUnauthorized.
func (s *AuthService) Verify(ctx context.Context, raw string) (OperatorClaims, error) {
	if !s.Enabled() {
		return OperatorClaims{}, ErrUnauthorized
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return OperatorClaims{}, ErrUnauthorized
	}

	claims := OperatorClaims{}
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(operatorIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		s.loggerWith(ctx, "Verify").DebugContext(ctx, "rejected operator token", "error", err)
		return OperatorClaims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}
