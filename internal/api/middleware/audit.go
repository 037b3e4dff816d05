package middleware

import (
	"net/http"
	"strconv"

	"github.com/entranthq/server/internal/audit"
)

// AuditStaff records every staff mutation with the acting user, so wrap it
// inside BearerAuth and RequireStaff where the actor is already resolved.
func AuditStaff(logger *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			status := "success"
			if rw.status >= 400 {
				status = "failure"
			}
			entry := audit.Entry{
				Action:    r.Method + " " + r.URL.Path,
				IPAddress: audit.ClientIP(r),
				Status:    status,
				Details:   map[string]string{"http_status": strconv.Itoa(rw.status)},
			}
			if actor, ok := ActorFromContext(r.Context()); ok {
				entry.Actor = actor.ID
				entry.Role = string(actor.Role)
			}
			logger.Log(entry)
		})
	}
}
