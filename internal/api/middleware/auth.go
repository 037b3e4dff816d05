package middleware

import (
	"context"
	"net/http"

	"github.com/entranthq/server/internal/auth"
	"github.com/entranthq/server/internal/domain/registrations"
)

const actorContextKey contextKey = "actor"

// BearerAuth validates the Authorization header and stores the resulting
// actor in the request context. Requests without a valid token get 401.
func BearerAuth(jwt *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.TokenFromHeader(r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			claims, err := jwt.Validate(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			actor := registrations.Actor{
				ID:   claims.Subject,
				Role: auth.NormalizeRole(claims.Role),
			}
			ctx := context.WithValue(r.Context(), actorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStaff gates a handler to organizer and admin roles. Must run after
// BearerAuth.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !actor.Privileged() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithActor stores an actor in the context directly, bypassing token
// validation. Handler tests use this in place of BearerAuth.
func WithActor(ctx context.Context, actor registrations.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (registrations.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(registrations.Actor)
	return actor, ok
}
