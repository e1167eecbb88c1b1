package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Claims are the verified token claims of a session.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles,omitempty"`
	KioskID string   `json:"kioskId,omitempty"`
}

// ContextKey is used for storing claims in request context.
type ContextKey string

const (
	ClaimsKey ContextKey = "claims"
)

// Anonymous is the user recorded for unauthenticated sessions.
const Anonymous = "anonymous"

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, error)
}

// Middleware authenticates requests with a bearer token.
type Middleware struct {
	verifier TokenVerifier
}

// NewMiddleware creates a middleware over verifier.
func NewMiddleware(verifier TokenVerifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth rejects requests without a valid token and stores the claims
// in the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

// extractToken reads the token from the Authorization header, falling back
// to the access_token query parameter for browser WebSocket clients.
func extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", fmt.Errorf("invalid Authorization header format")
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			return "", fmt.Errorf("empty token")
		}
		return token, nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("missing token")
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// ClaimsFromContext returns the claims stored by RequireAuth, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if ctx == nil {
		return nil
	}
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}

// UserFromContext returns the authenticated subject, or Anonymous.
func UserFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return Anonymous
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	})
}
