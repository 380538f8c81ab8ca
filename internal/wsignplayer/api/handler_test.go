package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/cache"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/pairing"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/playback"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) Status(ctx context.Context) Status {
	args := m.Called(ctx)
	return args.Get(0).(Status)
}

func (m *mockController) CacheEntries() []cache.Entry {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]cache.Entry)
}

func (m *mockController) LookupMedia(name string) (cache.Entry, bool) {
	args := m.Called(name)
	return args.Get(0).(cache.Entry), args.Bool(1)
}

func (m *mockController) PausePlayback()  { m.Called() }
func (m *mockController) ResumePlayback() { m.Called() }
func (m *mockController) TriggerSync()    { m.Called() }

func newTestHandler(ctrl Controller) http.Handler {
	return NewHandler(ctrl, nil, zerolog.Nop()).Router()
}

func TestHealth(t *testing.T) {
	ctrl := new(mockController)
	r := newTestHandler(ctrl)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatus(t *testing.T) {
	ctrl := new(mockController)
	ctrl.On("Status", mock.Anything).Return(Status{
		Version: "test",
		Pairing: pairing.Status{State: pairing.StatePaired, DisplayID: "d-1"},
		Sections: []playback.SectionStatus{
			{ID: "main", State: playback.StatePlaying, Index: 1, ItemID: "b", Items: 2},
		},
		Cache: cache.Stats{Entries: 2, Bytes: 2048},
	})
	r := newTestHandler(ctrl)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, pairing.StatePaired, got.Pairing.State)
	assert.Equal(t, "d-1", got.Pairing.DisplayID)
	require.Len(t, got.Sections, 1)
	assert.Equal(t, "b", got.Sections[0].ItemID)
	assert.Equal(t, 2, got.Cache.Entries)
	ctrl.AssertExpectations(t)
}

func TestCacheEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []cache.Entry
		want    int
	}{
		{name: "empty cache", entries: nil, want: 0},
		{
			name: "entries",
			entries: []cache.Entry{
				{URL: "http://x/a.png", File: "a.png", Size: 10},
				{URL: "http://x/b.mp4", File: "b.mp4", Size: 20},
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := new(mockController)
			ctrl.On("CacheEntries").Return(tt.entries)
			r := newTestHandler(ctrl)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cache", nil))
			require.Equal(t, http.StatusOK, w.Code)

			var got []cache.Entry
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			assert.Len(t, got, tt.want)
			assert.NotNil(t, got)
		})
	}
}

func TestControls(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		call   string
		status int
	}{
		{name: "pause", path: "/playback/pause", call: "PausePlayback", status: http.StatusNoContent},
		{name: "resume", path: "/playback/resume", call: "ResumePlayback", status: http.StatusNoContent},
		{name: "sync", path: "/sync", call: "TriggerSync", status: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := new(mockController)
			ctrl.On(tt.call).Return()
			r := newTestHandler(ctrl)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			ctrl.AssertExpectations(t)

			w = httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			ctrl.AssertNumberOfCalls(t, tt.call, 1)
		})
	}
}

func TestMedia(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abc.png")
	require.NoError(t, os.WriteFile(path, []byte("pixels"), 0o644))

	ctrl := new(mockController)
	ctrl.On("LookupMedia", "abc.png").Return(cache.Entry{File: "abc.png", Path: path, ContentType: "image/png"}, true)
	ctrl.On("LookupMedia", "missing.png").Return(cache.Entry{}, false)
	r := newTestHandler(ctrl)

	t.Run("cached", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/abc.png", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pixels", w.Body.String())
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	})

	t.Run("not cached", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/missing.png", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"media not cached"}`, w.Body.String())
	})

	t.Run("hidden name", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/.tmp-123", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	ctrl.AssertNotCalled(t, "LookupMedia", ".tmp-123")
}

func TestWebsocketRoute(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	r := NewHandler(new(mockController), ws, zerolog.Nop()).Router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestServerShutdown(t *testing.T) {
	ctrl := new(mockController)
	srv := NewServer("", newTestHandler(ctrl), zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
