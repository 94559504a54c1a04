// Package handlers exposes the daemon's ops surface: health, readiness,
// metrics, and a snapshot of the currently authenticated servers.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/state"
)

// Pinger is anything with a context-aware liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger (the Redis client's Ping returns a
// command, not an error).
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// SessionSource lists the currently authenticated servers.
type SessionSource interface {
	AuthenticatedServerIDs() []int64
}

// DepthReporter exposes the archive backlog for readiness reporting.
type DepthReporter interface {
	QueueDepth() int
}

type Config struct {
	Postgres   Pinger
	ClickHouse Pinger
	Redis      Pinger
	Sessions   SessionSource
	States     *state.Manager
	Archive    DepthReporter
	Logger     *zap.Logger
}

type Handler struct {
	pg       Pinger
	ch       Pinger
	redis    Pinger
	sessions SessionSource
	states   *state.Manager
	archive  DepthReporter
	logger   *zap.SugaredLogger
}

func New(cfg Config) *Handler {
	return &Handler{
		pg:       cfg.Postgres,
		ch:       cfg.ClickHouse,
		redis:    cfg.Redis,
		sessions: cfg.Sessions,
		states:   cfg.States,
		archive:  cfg.Archive,
		logger:   cfg.Logger.Sugar(),
	}
}

// Router assembles the admin mux.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET"},
		AllowedOrigins: []string{"*"},
	}))

	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/v1/servers", h.Servers)
	return r
}

// Health handles GET /healthz
// @Summary Liveness probe
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "OK"
// @Router /healthz [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// Ready handles GET /readyz
// @Summary Readiness probe
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Ready"
// @Failure 503 {object} map[string]interface{} "Not Ready"
// @Router /readyz [get]
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]bool{
		"postgres":   h.pg.Ping(ctx) == nil,
		"clickhouse": h.ch.Ping(ctx) == nil,
		"redis":      h.redis.Ping(ctx) == nil,
	}

	allHealthy := true
	for _, ok := range checks {
		if !ok {
			allHealthy = false
			break
		}
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	body := map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	}
	if h.archive != nil {
		body["archiveQueueDepth"] = h.archive.QueueDepth()
	}
	h.jsonResponse(w, status, body)
}

// ServerSnapshot is one authenticated server's live state.
type ServerSnapshot struct {
	ServerID     int64          `json:"server_id"`
	CurrentMap   string         `json:"current_map"`
	CurrentRound int            `json:"current_round"`
	MatchState   string         `json:"match_state"`
	TeamCounts   map[string]int `json:"team_counts,omitempty"`
	LastActivity time.Time      `json:"last_activity"`
}

// Servers handles GET /api/v1/servers
// @Summary Authenticated servers with live state
// @Tags Servers
// @Produce json
// @Success 200 {array} ServerSnapshot "Servers"
// @Router /api/v1/servers [get]
func (h *Handler) Servers(w http.ResponseWriter, r *http.Request) {
	ids := h.sessions.AuthenticatedServerIDs()

	snapshots := make([]ServerSnapshot, 0, len(ids))
	for _, id := range ids {
		st := h.states.GetState(id)
		snapshots = append(snapshots, ServerSnapshot{
			ServerID:     id,
			CurrentMap:   st.CurrentMap,
			CurrentRound: st.CurrentRound,
			MatchState:   string(st.Match),
			TeamCounts:   st.TeamCounts,
			LastActivity: st.LastActivity,
		})
	}
	h.jsonResponse(w, http.StatusOK, snapshots)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warnw("Failed to encode response", "error", err)
	}
}
