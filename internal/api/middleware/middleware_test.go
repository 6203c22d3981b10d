package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/session"
)

func TestRequireIdentity(t *testing.T) {
	var got session.Identity
	h := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = session.FromContext(r.Context())
	}))

	tests := []struct {
		name     string
		username string
		userID   string
		want     int
	}{
		{"username only", "ana", "", http.StatusOK},
		{"with id", "ana", "2b9a3f0c-3a4e-4f5e-9a43-6b1f6f1c2d3e", http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"blank", "   ", "", http.StatusUnauthorized},
		{"bad id", "ana", "not-a-uuid", http.StatusUnauthorized},
		{"too long", strings.Repeat("a", 151), "", http.StatusUnauthorized},
		{"control characters", "ana\x00", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = session.Identity{}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(HeaderUsername, tt.username)
			req.Header.Set(HeaderUserID, tt.userID)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				if got.Username != strings.TrimSpace(tt.username) {
					t.Errorf("username = %q", got.Username)
				}
				if tt.userID != "" && got.ID.String() != tt.userID {
					t.Errorf("id = %s", got.ID)
				}
			}
		})
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	if ip := RealIP(req); ip != "192.0.2.1" {
		t.Errorf("RealIP = %q", ip)
	}
	req.Header.Set("X-Real-IP", "198.51.100.7")
	if ip := RealIP(req); ip != "198.51.100.7" {
		t.Errorf("RealIP = %q", ip)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := RealIP(req); ip != "203.0.113.9" {
		t.Errorf("RealIP = %q", ip)
	}
}

func TestWhitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"127.0.0.1", "10.0.0.0/8", "bogus/99"},
	})
	for ip, want := range map[string]bool{
		"127.0.0.1":  true,
		"10.20.30.1": true,
		"192.0.2.1":  false,
		"garbage":    false,
	} {
		if got := rl.isWhitelisted(ip); got != want {
			t.Errorf("isWhitelisted(%q) = %v, want %v", ip, got, want)
		}
	}
	if rl.limit != 60 || rl.window.Minutes() != 1 {
		t.Errorf("defaults = %d per %v", rl.limit, rl.window)
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"too long"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", rec.Code)
	}
}
