package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/infrastructure/auth"
	"github.com/iho/guardledger/internal/infrastructure/logger"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// UserContextKey is the context key for the authenticated user
	UserContextKey ContextKey = "user"
)

// Auth failure reasons.
const (
	ReasonMissing   = "missing"
	ReasonMalformed = "malformed"
	ReasonExpired   = "expired"
	ReasonInvalid   = "invalid"
	ReasonForbidden = "forbidden"
)

// AuthRecorder counts rejected credentials.
type AuthRecorder interface {
	RecordAuthFailure(reason string)
}

type nopAuthRecorder struct{}

func (nopAuthRecorder) RecordAuthFailure(string) {}

// Authenticator verifies bearer tokens and attaches the caller.
type Authenticator struct {
	jwt      *auth.JWTManager
	recorder AuthRecorder
}

// NewAuthenticator creates an Authenticator. recorder may be nil.
func NewAuthenticator(jwtManager *auth.JWTManager, recorder AuthRecorder) *Authenticator {
	if recorder == nil {
		recorder = nopAuthRecorder{}
	}
	return &Authenticator{jwt: jwtManager, recorder: recorder}
}

// Required rejects requests without a valid bearer token.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			a.recorder.RecordAuthFailure(ReasonMissing)
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		token, ok := bearerToken(authHeader)
		if !ok {
			a.recorder.RecordAuthFailure(ReasonMalformed)
			http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := a.jwt.Verify(token)
		if err != nil {
			reason := ReasonInvalid
			if errors.Is(err, domain.ErrExpiredToken) {
				reason = ReasonExpired
			}
			a.recorder.RecordAuthFailure(reason)
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), claims.User())))
	})
}

// Optional attaches the caller when a valid token is present and lets the
// request through either way.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
			if claims, err := a.jwt.Verify(token); err == nil {
				r = r.WithContext(withUser(r.Context(), claims.User()))
			}
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole admits only users holding one of roles. It must run after
// Required.
func (a *Authenticator) RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUserFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			a.recorder.RecordAuthFailure(ReasonForbidden)
			http.Error(w, "insufficient permissions", http.StatusForbidden)
		})
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func withUser(ctx context.Context, user *domain.User) context.Context {
	ctx = context.WithValue(ctx, UserContextKey, user)
	return logger.WithCaller(ctx, user.ID)
}

// GetUserFromContext extracts the authenticated user from context
func GetUserFromContext(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*domain.User)
	return user, ok
}
