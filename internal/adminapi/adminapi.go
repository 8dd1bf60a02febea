// Package adminapi is the operator-facing HTTP surface: /health for
// liveness, /status for CrawlStore counters, and /control/{cmd} to
// issue addExclusion/removeExclusion/cancel/pause/resume/stop-gracefully
// commands. Uses the usual chi.Mux/middleware/CORS shape and
// {data}-envelope JSON helpers, pointed at CrawlStore and the NATS
// control channel instead of Postgres job rows.
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/lexicondev/browsercrawl-core/internal/config"
	"github.com/lexicondev/browsercrawl-core/internal/control"
	"github.com/lexicondev/browsercrawl-core/internal/store"
)

// envelope mirrors common/models.BaseResponse's {data} shape.
type envelope struct {
	Data any `json:"data"`
}

// errEnvelope mirrors common/models.ErrorResponse's {error,msg} shape.
type errEnvelope struct {
	Error string `json:"error"`
	Msg   string `json:"msg"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errEnvelope{Error: http.StatusText(status), Msg: msg})
}

// Handler owns the mux and its two dependencies: a CrawlStore for status
// reads and a control.Client for issuing commands. control may be nil
// when NATS isn't configured, in which case /control/{cmd} writes the
// command straight into the store via PublishControl.
type Handler struct {
	store   store.CrawlStore
	control *control.Client
	crawlID string
	log     zerolog.Logger
	router  *chi.Mux
}

// New builds the router the way NewAppHttpServer wires up middleware:
// CORS, request ID, real IP, structured request logging, panic
// recovery, and a blanket request timeout.
func New(st store.CrawlStore, ctrl *control.Client, crawlID string, log zerolog.Logger) *Handler {
	h := &Handler{store: st, control: ctrl, crawlID: crawlID, log: log}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Post("/control/{cmd}", h.handleControl)

	h.router = r
	return h
}

func (h *Handler) Router() *chi.Mux { return h.router }

// Serve starts ListenAndServe on addr in a background goroutine and
// returns the server at once; it keeps serving until the caller invokes
// Server.Shutdown (cmd/crawlcore defers this until the crawl returns),
// mirroring AppHttpServer.start/stop's ListenAndServe/Shutdown pairing.
func (h *Handler) Serve(listen config.ListenConfig) *http.Server {
	srv := &http.Server{
		Addr:         listen.Addr(),
		Handler:      h.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.Error().Err(err).Msg("admin api server stopped unexpectedly")
		}
	}()
	return srv
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"crawlId":   h.crawlID,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read crawl stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// controlCommands is the closed set of operator commands ProcessMessage
// accepts.
var controlCommands = map[string]bool{
	"addExclusion":    true,
	"removeExclusion": true,
	"cancel":          true,
	"pause":           true,
	"resume":          true,
	"stop-gracefully": true,
}

type controlRequest struct {
	Pattern string `json:"pattern"`
}

func (h *Handler) handleControl(w http.ResponseWriter, r *http.Request) {
	cmd := chi.URLParam(r, "cmd")
	if !controlCommands[cmd] {
		writeError(w, http.StatusBadRequest, "unknown control command: "+cmd)
		return
	}

	var body controlRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	if h.control != nil {
		if err := h.control.Send(cmd, body.Pattern); err != nil {
			writeError(w, http.StatusBadGateway, "failed to publish control command")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"command": cmd, "transport": "nats"})
		return
	}

	// No NATS configured: fall back to publishing straight into the
	// store this process itself reads from, so single-process (memstore
	// or same-host redisstore) deployments still work without NATS.
	if err := h.store.PublishControl(r.Context(), store.ControlMessage{Command: cmd, Pattern: body.Pattern}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue control command")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"command": cmd, "transport": "store"})
}
