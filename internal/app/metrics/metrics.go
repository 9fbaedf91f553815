package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "savepop",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savepop",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "savepop",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	contributions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savepop",
			Subsystem: "goals",
			Name:      "contributions_total",
			Help:      "Contributions routed through the allocator.",
		},
		[]string{"outcome"},
	)

	cascadeSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "savepop",
			Subsystem: "goals",
			Name:      "contribution_steps",
			Help:      "Goals touched by a single contribution.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		},
	)

	goalEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savepop",
			Subsystem: "goals",
			Name:      "events_total",
			Help:      "Goal lifecycle events such as level-ups, completions and expiries.",
		},
		[]string{"event"},
	)

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savepop",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger mutations by reason and result.",
		},
		[]string{"reason", "result"},
	)

	placements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savepop",
			Subsystem: "grid",
			Name:      "placements_total",
			Help:      "Grid placement attempts.",
		},
		[]string{"result"},
	)

	votes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savepop",
			Subsystem: "court",
			Name:      "votes_total",
			Help:      "Veto court votes by verdict and result.",
		},
		[]string{"verdict", "result"},
	)

	advisorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savepop",
			Subsystem: "levels",
			Name:      "advisor_calls_total",
			Help:      "Advisory hook outcomes; anything but ok means the fallback plan was used.",
		},
		[]string{"outcome"},
	)

	advisorDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "savepop",
			Subsystem: "levels",
			Name:      "advisor_duration_seconds",
			Help:      "Latency of advisory hook calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		contributions,
		cascadeSteps,
		goalEvents,
		ledgerEntries,
		placements,
		votes,
		advisorCalls,
		advisorDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request metrics labelled by the matched route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := "unmatched"
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordContribution records one allocator run.
func RecordContribution(outcome string, steps int) {
	contributions.WithLabelValues(outcome).Inc()
	if steps > 0 {
		cascadeSteps.Observe(float64(steps))
	}
}

// RecordGoalEvent counts level-ups, completions, promotions and expiries.
func RecordGoalEvent(event string, n int) {
	if n <= 0 {
		return
	}
	goalEvents.WithLabelValues(event).Add(float64(n))
}

// RecordLedgerEntry counts balance mutations.
func RecordLedgerEntry(reason string, applied bool) {
	result := "applied"
	if !applied {
		result = "duplicate"
	}
	ledgerEntries.WithLabelValues(reason, result).Inc()
}

// RecordPlacement counts grid placement attempts.
func RecordPlacement(result string) {
	placements.WithLabelValues(result).Inc()
}

// RecordVote counts veto court votes.
func RecordVote(verdict, result string) {
	if verdict == "" {
		verdict = "unknown"
	}
	votes.WithLabelValues(verdict, result).Inc()
}

// RecordAdvisorCall records the advisory hook outcome and latency.
func RecordAdvisorCall(outcome string, duration time.Duration) {
	advisorCalls.WithLabelValues(outcome).Inc()
	if duration > 0 {
		advisorDuration.Observe(duration.Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
