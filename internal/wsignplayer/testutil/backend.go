// Package testutil provides fakes shared by package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
)

// Backend is an in-memory fake of the signage backend display API.
type Backend struct {
	*httptest.Server

	mu sync.Mutex

	// NextCode and NextDisplayID are handed out by the next code request.
	NextCode      string
	NextDisplayID string

	codes     map[string]string // pairing code -> display id
	confirmed map[string]string // pairing code -> token
	expired   map[string]bool
	tokens    map[string]string // token -> display id
	deleted   map[string]bool

	config       *v1alpha1.ActiveConfiguration
	configStatus int

	heartbeats []v1alpha1.HeartbeatRequest
	requests   map[string]int

	media     map[string][]byte
	downloads map[string]int
	// HideLength drops Content-Length from media responses.
	HideLength bool
	// MediaGate, when set, is received from before each media response.
	MediaGate chan struct{}
}

// NewBackend starts a fake backend that is closed when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		NextCode:      "AB12CD",
		NextDisplayID: "d-1",
		codes:         make(map[string]string),
		confirmed:     make(map[string]string),
		expired:       make(map[string]bool),
		tokens:        make(map[string]string),
		deleted:       make(map[string]bool),
		requests:      make(map[string]int),
		media:         make(map[string][]byte),
		downloads:     make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(b.count)
	r.Route("/api/v1alpha1", func(r chi.Router) {
		r.Post("/pairing/code", b.handleCode)
		r.Post("/pairing/status", b.handlePairingStatus)
		r.Get("/displays/{id}/status", b.handleDisplayStatus)
		r.Get("/displays/{id}/configuration", b.handleConfiguration)
		r.Post("/displays/{id}/heartbeat", b.handleHeartbeat)
	})
	r.Get("/media/*", b.handleMedia)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)
	return b
}

// SetNextCode changes the code and display id handed out next.
func (b *Backend) SetNextCode(code, displayID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.NextCode = code
	b.NextDisplayID = displayID
}

// SetMediaGate installs a gate channel for media responses.
func (b *Backend) SetMediaGate(gate chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.MediaGate = gate
}

// SetHideLength toggles Content-Length on media responses.
func (b *Backend) SetHideLength(hide bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.HideLength = hide
}

// Confirm marks a pairing code as confirmed by an operator.
func (b *Backend) Confirm(code, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmed[code] = token
	if id, ok := b.codes[code]; ok {
		b.tokens[token] = id
	}
}

// Expire makes a pairing code answer 410 Gone.
func (b *Backend) Expire(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expired[code] = true
}

// Forget makes a pairing code unknown, which answers 401.
func (b *Backend) Forget(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.codes, code)
	delete(b.confirmed, code)
}

// IssueToken registers a valid token for a display.
func (b *Backend) IssueToken(displayID, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[token] = displayID
}

// Revoke invalidates a token.
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tokens, token)
}

// DeleteDisplay makes a display answer 404.
func (b *Backend) DeleteDisplay(displayID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted[displayID] = true
}

// SetConfiguration sets the configuration served to every display.
func (b *Backend) SetConfiguration(cfg *v1alpha1.ActiveConfiguration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
}

// FailConfiguration makes configuration requests answer with status. Zero
// restores normal behaviour.
func (b *Backend) FailConfiguration(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configStatus = status
}

// PutMedia serves data at /media/<name> and returns its absolute URL.
func (b *Backend) PutMedia(name string, data []byte) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.media[name] = data
	return b.URL + "/media/" + name
}

// Downloads returns how many times /media/<name> was served.
func (b *Backend) Downloads(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.downloads[name]
}

// Heartbeats returns the heartbeats received so far.
func (b *Backend) Heartbeats() []v1alpha1.HeartbeatRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]v1alpha1.HeartbeatRequest, len(b.heartbeats))
	copy(out, b.heartbeats)
	return out
}

// Requests returns how many requests hit a path prefix.
func (b *Backend) Requests(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for p, c := range b.requests {
		if strings.HasPrefix(p, prefix) {
			n += c
		}
	}
	return n
}

func (b *Backend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests[r.URL.Path]++
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) handleCode(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	code, id := b.NextCode, b.NextDisplayID
	b.codes[code] = id
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, v1alpha1.PairingCodeResponse{PairingCode: code, DisplayID: id})
}

func (b *Backend) handlePairingStatus(w http.ResponseWriter, r *http.Request) {
	var req v1alpha1.PairingStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.expired[req.PairingCode] {
		writeError(w, http.StatusGone, "pairing code expired")
		return
	}
	id, ok := b.codes[req.PairingCode]
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown pairing code")
		return
	}
	token, paired := b.confirmed[req.PairingCode]
	if !paired {
		writeJSON(w, http.StatusOK, v1alpha1.PairingStatusResponse{IsPaired: false})
		return
	}
	writeJSON(w, http.StatusOK, v1alpha1.PairingStatusResponse{IsPaired: true, DeviceToken: token, DisplayID: id})
}

func (b *Backend) handleDisplayStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deleted[id] {
		writeError(w, http.StatusNotFound, "display not found")
		return
	}
	tokenID, valid := b.tokens[bearer(r)]
	valid = valid && tokenID == id
	writeJSON(w, http.StatusOK, v1alpha1.DisplayStatusResponse{DisplayID: id, IsPaired: valid, TokenValid: valid})
}

func (b *Backend) authorize(w http.ResponseWriter, r *http.Request) bool {
	id := chi.URLParam(r, "id")
	if b.deleted[id] {
		writeError(w, http.StatusNotFound, "display not found")
		return false
	}
	if tokenID, ok := b.tokens[bearer(r)]; !ok || tokenID != id {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	return true
}

func (b *Backend) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.configStatus != 0 {
		writeError(w, b.configStatus, "configuration unavailable")
		return
	}
	if !b.authorize(w, r) {
		return
	}
	cfg := b.config
	if cfg == nil {
		cfg = &v1alpha1.ActiveConfiguration{}
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (b *Backend) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb v1alpha1.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid heartbeat")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.authorize(w, r) {
		return
	}
	b.heartbeats = append(b.heartbeats, hb)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleMedia(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	b.mu.Lock()
	gate := b.MediaGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	b.mu.Lock()
	data, ok := b.media[name]
	if ok {
		b.downloads[name]++
	}
	hide := b.HideLength
	b.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if !hide {
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	if hide {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, v1alpha1.Error{Code: http.StatusText(status), Message: msg})
}
