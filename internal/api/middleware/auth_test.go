package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHandler(t *testing.T, captured *uuid.UUID) http.Handler {
	m := NewAuthMiddleware(testSecret)
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRequireAuthValidToken(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var got uuid.UUID
	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	authHandler(t, &got).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got != userID {
		t.Errorf("user from context = %s, want %s", got, userID)
	}
}

func TestRequireAuthQueryToken(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var got uuid.UUID
	req := httptest.NewRequest(http.MethodGet, "/ws/chats/x?token="+token, nil)
	rec := httptest.NewRecorder()
	authHandler(t, &got).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got != userID {
		t.Errorf("user from context = %s, want %s", got, userID)
	}
}

func TestRequireAuthRejections(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong secret", signTokenHelper(t, "other-secret", uuid.New().String(), time.Hour)},
		{"expired", signTokenHelper(t, testSecret, uuid.New().String(), -time.Hour)},
		{"no subject", signToken(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})},
		{"non-uuid subject", signTokenHelper(t, testSecret, "bob", time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got uuid.UUID
			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			authHandler(t, &got).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func signTokenHelper(t *testing.T, secret, sub string, ttl time.Duration) string {
	return signToken(t, secret, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(ttl).Unix(),
	})
}
