// Package api is the local control surface of the player: status for the
// host application, playback and sync controls, cached media for a browser
// renderer and the renderer websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/cache"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/configsync"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/pairing"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/playback"
)

// Status is the document served at /status
type Status struct {
	Version    string                   `json:"version"`
	Pairing    pairing.Status           `json:"pairing"`
	Paused     bool                     `json:"paused"`
	Sections   []playback.SectionStatus `json:"sections"`
	Cache      cache.Stats              `json:"cache"`
	Source     configsync.Source        `json:"source,omitempty"`
	LastSync   *time.Time               `json:"lastSync,omitempty"`
	ScheduleID string                   `json:"scheduleId,omitempty"`
	Renderers  int                      `json:"renderers"`
}

// Controller is what the API drives; the player runtime implements it
type Controller interface {
	Status(ctx context.Context) Status
	CacheEntries() []cache.Entry
	LookupMedia(name string) (cache.Entry, bool)
	PausePlayback()
	ResumePlayback()
	TriggerSync()
}

// Handler serves the control API
type Handler struct {
	ctrl   Controller
	ws     http.Handler
	logger zerolog.Logger
}

// NewHandler creates a handler. ws serves renderer websockets and may be nil.
func NewHandler(ctrl Controller, ws http.Handler, logger zerolog.Logger) *Handler {
	return &Handler{
		ctrl:   ctrl,
		ws:     ws,
		logger: logger.With().Str("component", "control-http").Logger(),
	}
}

// Router returns a router with middleware and every endpoint mounted
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestIDHeaderMiddleware)
	r.Use(logMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts all endpoints on the provided router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Get("/cache", h.handleCache)

	r.Route("/playback", func(r chi.Router) {
		r.Post("/pause", h.handlePause)
		r.Post("/resume", h.handleResume)
	})
	r.Post("/sync", h.handleSync)

	r.Get("/media/{name}", h.handleMedia)
	if h.ws != nil {
		r.Get("/ws", h.ws.ServeHTTP)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.ctrl.Status(r.Context()))
}

func (h *Handler) handleCache(w http.ResponseWriter, r *http.Request) {
	entries := h.ctrl.CacheEntries()
	if entries == nil {
		entries = []cache.Entry{}
	}
	h.respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.ctrl.PausePlayback()
	h.logger.Info().Msg("playback paused by operator")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.ctrl.ResumePlayback()
	h.logger.Info().Msg("playback resumed by operator")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	h.ctrl.TriggerSync()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleMedia(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		h.respondError(w, ErrInvalidRequest("invalid media name"))
		return
	}

	entry, ok := h.ctrl.LookupMedia(name)
	if !ok {
		h.respondError(w, ErrNotFound("media not cached"))
		return
	}

	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, entry.Path)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error().Err(err).Msg("failed to encode response")
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := "internal server error"

	if he, ok := err.(HTTPError); ok {
		code = he.StatusCode()
		msg = he.Error()
	}

	h.respondJSON(w, code, map[string]string{"error": msg})
}
