package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

// AuthMiddleware verifies bearer tokens issued by the platform's session
// service. This service verifies tokens only; it never mints them.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates an auth middleware with the shared HMAC
// secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// RequireAuth resolves the authenticated user from the Authorization
// header (or a token query parameter, for websocket clients that cannot
// set headers) and stores the user id in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			jsonError(w, http.StatusUnauthorized, "token has no subject")
			return
		}
		userID, err := uuid.Parse(sub)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid subject")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the authenticated user id, or uuid.Nil when the
// request was not authenticated.
func UserFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(userContextKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Browser websocket clients cannot set Authorization headers.
	return r.URL.Query().Get("token")
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
