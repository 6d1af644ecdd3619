package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// Authenticate resolves the access token from the Authorization header or the
// access_token cookie and stores the principal in the request context.
func Authenticate(tokens ports.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "Unauthorized: missing access token", http.StatusUnauthorized)
				return
			}

			principal, err := tokens.Verify(raw)
			if err != nil {
				http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalFrom(r)
			if !ok {
				http.Error(w, "Unauthorized: missing principal", http.StatusUnauthorized)
				return
			}
			if principal.Role != role {
				http.Error(w, "Forbidden: requires role "+string(role), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFrom(r *http.Request) (*domain.Principal, bool) {
	principal, ok := r.Context().Value(PrincipalKey).(*domain.Principal)
	return principal, ok && principal != nil
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}
