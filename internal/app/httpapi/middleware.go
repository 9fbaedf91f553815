package httpapi

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/savepop/savepop/internal/errors"
	"github.com/savepop/savepop/pkg/logger"
)

// publicPaths skip authentication and rate limiting.
var publicPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

func (h *handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.log.WithField("path", r.URL.Path).
					WithField("panic", fmt.Sprint(rec)).
					Error("handler panic")
				writeError(w, errors.Internal("unexpected failure", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := h.auth.identify(r)
		if err != nil {
			h.log.WithField("path", r.URL.Path).WithError(err).Debug("authentication failed")
			writeError(w, err)
			return
		}
		noteUser(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

// accessLog logs every request and audits the state-changing ones.
func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		// authenticate runs after this middleware and notes the user on rec.
		next.ServeHTTP(rec, r.WithContext(withRecorder(r.Context(), rec)))

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		entry := h.log.WithField("method", r.Method).
			WithField("route", route).
			WithField("status", rec.status).
			WithField("duration", elapsed.String())
		if rec.userID != "" {
			entry = entry.WithField("user_id", rec.userID)
		}
		if rec.status >= http.StatusInternalServerError {
			entry.Warn("request failed")
		} else {
			entry.Debug("request handled")
		}

		if h.audit != nil && r.Method != http.MethodGet && r.Method != http.MethodHead && rec.userID != "" {
			h.audit.add(auditEntry{
				Time:       start.UTC(),
				User:       rec.userID,
				Method:     r.Method,
				Route:      route,
				Path:       r.URL.Path,
				Status:     rec.status,
				DurationMS: elapsed.Milliseconds(),
				RemoteAddr: r.RemoteAddr,
			})
		}
	})
}

// rateLimiter throttles callers by user id, or by remote address when the
// request is anonymous.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	log      *logger.Logger
}

func newRateLimiter(perSecond float64, burst int, log *logger.Logger) *rateLimiter {
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		log:      log,
	}
}

func (rl *rateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) > 10000 {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *rateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		key := UserID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		if !rl.limiter(key).Allow() {
			rl.log.WithField("key", key).WithField("path", r.URL.Path).Warn("rate limit exceeded")
			writeError(w, errors.RateLimitExceeded(int(rl.rate), "1s"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	userID string
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
