package httpapi

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/packforge/distro/pkg/apperr"
)

// limiterStore hands out one token bucket per actor (authenticated
// userId, falling back to remote addr), applied at the HTTP edge; the
// external mod client instead shares one process-wide bucket.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterStore(requestsPerSecond float64, burst int) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (s *limiterStore) limiterFor(actorID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[actorID]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.limiters[actorID] = l
	}
	return l
}

// RateLimitMiddleware rejects requests once an actor exceeds
// requestsPerSecond, responding 429 with Retry-After per spec §7.
func RateLimitMiddleware(requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	store := newLimiterStore(requestsPerSecond, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := r.RemoteAddr
			if p, err := GetPrincipal(r.Context()); err == nil {
				actorID = p.UserID
			}
			if !store.limiterFor(actorID).Allow() {
				apperr.WriteHTTP(w, r, apperr.New(apperr.KindRateLimited, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
