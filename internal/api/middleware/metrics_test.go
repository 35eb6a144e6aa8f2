package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/api/chats", "/api/chats"},
		{
			"/api/chats/7b41a9a1-7d5b-4a3e-9f25-2c8f6f8f0a11/messages",
			"/api/chats/:id/messages",
		},
		{
			"/api/chats/7b41a9a1-7d5b-4a3e-9f25-2c8f6f8f0a11/messages/01J9ZX3V5E8Q2N4T6W8YABCDEF/read",
			"/api/chats/:id/messages/:id/read",
		},
		{
			"/ws/chats/7b41a9a1-7d5b-4a3e-9f25-2c8f6f8f0a11",
			"/ws/chats/:id",
		},
		// 26 chars but not base32 alphanumeric.
		{"/x/not-a-ulid-with-hyphens-xx", "/x/not-a-ulid-with-hyphens-xx"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

// Websocket upgrades hijack the connection; the metrics wrapper must not
// sever the Hijacker chain.
func TestMetricsWriterSupportsHijack(t *testing.T) {
	rec := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}

	h := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("response writer lost http.Hijacker")
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Fatalf("hijack: %v", err)
		}
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/chats/x", nil))

	if !rec.hijacked {
		t.Fatal("hijack did not reach the underlying writer")
	}
}
