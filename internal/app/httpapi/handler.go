package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/savepop/savepop/internal/app"
	"github.com/savepop/savepop/internal/app/metrics"
	"github.com/savepop/savepop/internal/errors"
	"github.com/savepop/savepop/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Options configure the HTTP surface.
type Options struct {
	// JWTSecret enables HS256 bearer auth. Empty trusts the X-User-ID header.
	JWTSecret string
	// RateLimit is the per-caller request rate per second. Zero disables it.
	RateLimit float64
	RateBurst int
	// Hub serves /ws. Nil disables the event stream.
	Hub *Hub
	// Audit persists state-changing requests in addition to the in-memory log.
	Audit    *FileAuditSink
	AuditMax int
	Log      *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	auth  authenticator
	hub   *Hub
	audit *auditLog
	log   *logger.Logger
}

// NewHandler returns a router exposing the REST API, metrics and the event
// stream.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	var sink auditSink
	if opts.Audit != nil {
		sink = opts.Audit
	}
	h := &handler{
		app:   application,
		auth:  authenticator{secret: []byte(opts.JWTSecret)},
		hub:   opts.Hub,
		audit: newAuditLog(opts.AuditMax, sink),
		log:   log,
	}
	if h.auth.devMode() {
		log.Warn("jwt secret not set; trusting X-User-ID header")
	}

	r := mux.NewRouter()
	r.Use(h.recoverer, metrics.Middleware, h.accessLog, h.authenticate)
	if opts.RateLimit > 0 {
		r.Use(newRateLimiter(opts.RateLimit, opts.RateBurst, log).Handler)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, errors.NotFound("route", "requested"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "MethodNotAllowed", Message: "method not allowed"})
	})

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if h.hub != nil {
		r.HandleFunc("/ws", h.hub.ServeWS).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/goals", h.createGoal).Methods(http.MethodPost)
	api.HandleFunc("/goals", h.listGoals).Methods(http.MethodGet)
	api.HandleFunc("/goals/reorder", h.reorderGoals).Methods(http.MethodPost)
	api.HandleFunc("/goals/expire", h.expireGoals).Methods(http.MethodPost)
	api.HandleFunc("/goals/{id}", h.getGoal).Methods(http.MethodGet)
	api.HandleFunc("/goals/{id}", h.updateGoal).Methods(http.MethodPatch)
	api.HandleFunc("/goals/{id}", h.deleteGoal).Methods(http.MethodDelete)
	api.HandleFunc("/goals/{id}/contribute", h.contribute).Methods(http.MethodPost)
	api.HandleFunc("/goals/{id}/archive", h.archiveGoal).Methods(http.MethodPost)

	api.HandleFunc("/rewards/balance", h.balance).Methods(http.MethodGet)
	api.HandleFunc("/rewards/leaderboard", h.leaderboard).Methods(http.MethodGet)
	api.HandleFunc("/rewards/history", h.history).Methods(http.MethodGet)
	api.HandleFunc("/rewards/daily-login", h.dailyLogin).Methods(http.MethodPost)

	api.HandleFunc("/grid", h.board).Methods(http.MethodGet)
	api.HandleFunc("/grid/place", h.place).Methods(http.MethodPost)

	api.HandleFunc("/veto-requests", h.listVetoRequests).Methods(http.MethodGet)
	api.HandleFunc("/veto-requests", h.createVetoRequest).Methods(http.MethodPost)
	api.HandleFunc("/veto-requests/{id}", h.getVetoRequest).Methods(http.MethodGet)
	api.HandleFunc("/veto-requests/{id}/votes", h.vote).Methods(http.MethodPost)

	api.HandleFunc("/quests", h.questCatalog).Methods(http.MethodGet)
	api.HandleFunc("/quests/assignments", h.listAssignments).Methods(http.MethodGet)
	api.HandleFunc("/quests/assignments/{id}/complete", h.completeQuest).Methods(http.MethodPost)
	api.HandleFunc("/quests/{kind}/accept", h.acceptQuest).Methods(http.MethodPost)

	api.HandleFunc("/system/services", h.services).Methods(http.MethodGet)
	api.HandleFunc("/activity", h.activity).Methods(http.MethodGet)

	return r
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) services(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Descriptors())
}

func (h *handler) activity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.forUser(UserID(r.Context()), limit))
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return errors.InvalidInput("request body required")
		}
		return errors.InvalidInput(fmt.Sprintf("malformed request body: %v", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders err with its mapped status. Foreign errors are reported
// as Internal without leaking their text.
func writeError(w http.ResponseWriter, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("internal error", err)
	}
	status := se.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	msg := se.Message
	if se.Code == errors.CodeInternal && msg == "" {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: string(se.Code), Message: msg, Details: se.Details})
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.InvalidInput("limit must be a positive integer")
	}
	return n, nil
}
