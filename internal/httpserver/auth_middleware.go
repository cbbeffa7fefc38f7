package httpserver

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"walletchat/internal/domain"
	"walletchat/internal/security"
	"walletchat/internal/service"
)

type contextKey string

const identityContextKey contextKey = "currentIdentity"

// WithIdentity returns a new context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// CurrentIdentity extracts the authenticated identity from the request
// context, if any.
func CurrentIdentity(r *http.Request) *domain.Identity {
	if v := r.Context().Value(identityContextKey); v != nil {
		if id, ok := v.(*domain.Identity); ok {
			return id
		}
	}
	return nil
}

// AuthMiddleware validates the Bearer token and attaches the identity to the
// context.
func AuthMiddleware(tokens *security.TokenService, directory *service.DirectoryService, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid Authorization header"})
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			sub, _ := claims["sub"].(string)
			if sub == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token subject"})
				return
			}

			identity, err := directory.Get(r.Context(), sub)
			if err != nil {
				log.Warn("auth lookup failed", zap.String("sub", security.ShortAddress(sub)), zap.Error(err))
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user not found"})
				return
			}
			if !identity.IsActive || identity.IsBanned {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user not found"})
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
