package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

type contextKey string

const identityKey contextKey = "identity"

const RoleAdmin = "admin"

// Identity is the caller as reported by the authenticating proxy or token.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// ExtractIdentity resolves the caller from a bearer token when tokens is set,
// otherwise from the user and role headers set by the reverse proxy.
// With auth disabled an anonymous caller becomes a local admin.
func ExtractIdentity(authDisabled bool, tokens *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerToken(r.Header); raw != "" && tokens != nil {
				id, err := tokens.Verify(raw)
				if err != nil {
					log.Warn().Err(err).Str("path", r.URL.Path).Msg("authentication failed: bad bearer token")
					respondError(w, errUnauthenticated)
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
				return
			}

			// Traefik BasicAuth sets this header
			userID := r.Header.Get("X-Auth-User")
			if userID == "" {
				userID = r.Header.Get("X-Forwarded-User")
			}
			if userID == "" {
				userID = r.Header.Get("Remote-User")
			}
			role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Auth-Role")))

			if userID == "" && authDisabled {
				userID, role = "dev-user", RoleAdmin
			}
			if authDisabled && role == "" {
				role = RoleAdmin
			}

			if userID == "" {
				log.Warn().Str("path", r.URL.Path).Msg("authentication failed: no user header found")
				respondError(w, errUnauthenticated)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, Identity{UserID: userID, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers without the operator role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r)
		if !id.IsAdmin() {
			log.Warn().Str("user_id", id.UserID).Str("path", r.URL.Path).Msg("command rejected: not an operator")
			respondError(w, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func IdentityFrom(r *http.Request) Identity {
	id, _ := r.Context().Value(identityKey).(Identity)
	return id
}
