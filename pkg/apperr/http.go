package apperr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// wireError is a single entry in the API's error envelope.
//
//	{"errors": [{"status": "404", "code": "not_found", "title": "...", "detail": "...", "field": "..."}]}
type wireError struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Field  string `json:"field,omitempty"`
}

type envelope struct {
	Errors []wireError `json:"errors"`
}

// WriteHTTP renders err as the API's standard error envelope and logs
// internal errors with their cause; the cause is never sent to the client.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := As(err)
	if !ok {
		e = Internal(err)
	}

	if e.Kind == KindInternal {
		slog.Error("internal error",
			"request_id", r.Header.Get("X-Request-ID"),
			"path", r.URL.Path,
			"error", e.Unwrap(),
		)
	}

	status := e.Status()
	body := envelope{Errors: []wireError{{
		Status: fmt.Sprintf("%d", status),
		Code:   string(e.Kind),
		Title:  e.Title,
		Detail: e.Detail,
		Field:  e.Field,
	}}}

	if e.Kind == KindRateLimited {
		w.Header().Set("Retry-After", "5")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
