// Package problem writes RFC 9457 problem+json error responses. Outside
// development, error detail is replaced with the generic status text so
// internals never leak to clients.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

const contentType = "application/problem+json"

type Details struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Write sends a problem response and logs the underlying error: 5xx at error
// level, 4xx at warn. env controls whether err's text reaches the client.
func Write(w http.ResponseWriter, r *http.Request, status int, typ, title string, err error, env string) {
	details := Details{
		Type:   typ,
		Title:  title,
		Status: status,
	}

	if err != nil {
		if env == "development" || env == "test" {
			details.Detail = err.Error()
		} else {
			details.Detail = http.StatusText(status)
		}
	}
	if r != nil {
		details.Instance = r.URL.Path
	}

	if err != nil && r != nil {
		event := zerolog.Ctx(r.Context()).Warn()
		if status >= 500 {
			event = zerolog.Ctx(r.Context()).Error()
		}
		event.
			Err(err).
			Int("status", status).
			Str("type", typ).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg(title)
	}

	payload, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"about:blank","title":"Internal Server Error","status":500}`))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
