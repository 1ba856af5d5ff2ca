package httpapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/packforge/distro/pkg/ledger"
	"github.com/packforge/distro/pkg/observability"
)

// LedgerMiddleware attaches a ledger registry to the request context so
// handlers several calls deep can append tamper-evident entries without
// threading a registry through every constructor. A nil registry makes
// this a no-op.
func LedgerMiddleware(reg *ledger.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reg == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ledger.WithRegistry(r.Context(), reg)))
		})
	}
}

// TracingMiddleware wraps every request in an observability span and
// records RED metrics against it.
func TracingMiddleware(obs *observability.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if obs == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx, finish := obs.TrackOperation(r.Context(), r.Method+" "+r.URL.Path,
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			var err error
			if rec.status >= 500 {
				err = errStatus(rec.status)
			}
			finish(err)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

type errStatus int

func (e errStatus) Error() string {
	return http.StatusText(int(e))
}
