package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/donatonuis/chatsync/internal/session"
)

// Identity headers set by the upstream authenticator.
const (
	HeaderUserID   = "X-Chatsync-User"
	HeaderUsername = "X-Chatsync-Username"
)

const maxUsernameLength = 150

// RequireIdentity reads the caller from the identity headers and rejects
// requests without a usable username.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(HeaderUsername))
		if username == "" {
			jsonError(w, http.StatusUnauthorized, "missing identity headers")
			return
		}
		if len(username) > maxUsernameLength || strings.ContainsFunc(username, unicode.IsControl) {
			jsonError(w, http.StatusUnauthorized, "invalid username")
			return
		}

		id := session.Identity{Username: username}
		if raw := r.Header.Get(HeaderUserID); raw != "" {
			userID, err := uuid.Parse(raw)
			if err != nil {
				jsonError(w, http.StatusUnauthorized, "invalid user ID format")
				return
			}
			id.ID = userID
		}

		next.ServeHTTP(w, r.WithContext(session.WithIdentity(r.Context(), id)))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
