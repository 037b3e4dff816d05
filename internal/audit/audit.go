// Package audit records staff actions as structured log entries so that
// capacity overrides, refund decisions, and round progression remain
// attributable after the fact.
package audit

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Actor     string            `json:"actor"`
	Role      string            `json:"role,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Status    string            `json:"status"`
	Details   map[string]string `json:"details,omitempty"`
}

// Logger writes audit entries through zerolog under a nested "audit" field,
// keeping them greppable alongside regular request logs.
type Logger struct {
	log zerolog.Logger
}

func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Log(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.log.Info().Interface("audit", entry).Msg("audit")
}

// ClientIP resolves the originating address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
