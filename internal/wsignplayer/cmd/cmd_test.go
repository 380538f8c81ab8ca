package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/api"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/cache"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/client"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/identity"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/kv"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/pairing"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/playback"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func identityAt(t *testing.T, dataDir string) (*identity.Store, func()) {
	t.Helper()
	backend, err := kv.OpenSQLite(filepath.Join(dataDir, "identity.db"))
	require.NoError(t, err)
	store := identity.NewStore(backend)
	require.NoError(t, store.Load(context.Background()))
	return store, func() { backend.Close() }
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "wsignplayer version dev")
	assert.Contains(t, out, "commit: none")
}

func TestConfigView(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "config", "view", "--data-dir", dir, "--server", "https://signage.example.com")
	require.NoError(t, err)

	assert.Contains(t, out, "baseURL: https://signage.example.com")
	assert.Contains(t, out, "dataDir: "+dir)
	assert.Contains(t, out, "cacheDir: "+filepath.Join(dir, "media"))
}

func TestConfigView_InvalidFlag(t *testing.T) {
	_, err := execute(t, "config", "view", "--data-dir", t.TempDir(), "--log-format", "xml")
	assert.Error(t, err)
}

func TestRunAndPair_RequireServer(t *testing.T) {
	for _, sub := range []string{"run", "pair"} {
		t.Run(sub, func(t *testing.T) {
			_, err := execute(t, sub, "--data-dir", t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "no server configured")
		})
	}
}

func TestPair(t *testing.T) {
	backend := testutil.NewBackend(t)
	dir := t.TempDir()
	t.Setenv("WSIGN_SYNC_PAIRINGPOLLINTERVAL", "1s")

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := execute(t, "pair", "--data-dir", dir, "--server", backend.URL)
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool {
		return backend.Requests("/api/v1alpha1/pairing/code") > 0
	}, 5*time.Second, 10*time.Millisecond)
	backend.Confirm("AB12CD", "tok-9")

	var res result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("pair did not finish")
	}
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "Pairing code: AB12CD")
	assert.Contains(t, res.out, "Display d-1 is "+string(pairing.StatePaired))

	store, closeStore := identityAt(t, dir)
	defer closeStore()
	id, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-9", id.DeviceToken)
	assert.Equal(t, "d-1", id.DisplayID)
}

func TestUnpair(t *testing.T) {
	cfgDoc := &v1alpha1.ActiveConfiguration{ActiveSchedule: &v1alpha1.ActiveSchedule{ID: "s-1"}}

	seed := func(t *testing.T, dir string) {
		store, closeStore := identityAt(t, dir)
		defer closeStore()
		ctx := context.Background()
		require.NoError(t, store.SetPairing(ctx, "d-1", "AB12CD"))
		require.NoError(t, store.SetToken(ctx, "tok-9", "d-1"))
		require.NoError(t, store.SetLastGoodConfiguration(ctx, cfgDoc))
	}

	t.Run("keeps configuration", func(t *testing.T) {
		dir := t.TempDir()
		seed(t, dir)

		out, err := execute(t, "unpair", "--data-dir", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "Display unpaired")

		store, closeStore := identityAt(t, dir)
		defer closeStore()
		id, err := store.Get(context.Background())
		require.NoError(t, err)
		assert.False(t, id.IsPaired())
		assert.Empty(t, id.DisplayID)

		cached, err := store.LastGoodConfiguration(context.Background())
		require.NoError(t, err)
		require.NotNil(t, cached)
		assert.Equal(t, "s-1", cached.ActiveSchedule.ID)
	})

	t.Run("all", func(t *testing.T) {
		dir := t.TempDir()
		seed(t, dir)

		_, err := execute(t, "unpair", "--data-dir", dir, "--all")
		require.NoError(t, err)

		store, closeStore := identityAt(t, dir)
		defer closeStore()
		cached, err := store.LastGoodConfiguration(context.Background())
		require.NoError(t, err)
		assert.Nil(t, cached)
	})
}

func TestCacheCommands(t *testing.T) {
	backend := testutil.NewBackend(t)
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "media")

	url := backend.PutMedia("lobby.png", bytes.Repeat([]byte("x"), 4096))
	fetcher, err := client.NewClient(backend.URL)
	require.NoError(t, err)
	c, err := cache.Open(fetcher, cache.Options{Dir: cacheDir})
	require.NoError(t, err)
	path, err := c.Resolve(context.Background(), url)
	require.NoError(t, err)

	out, err := execute(t, "cache", "list", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "FILE")
	assert.Contains(t, out, cache.FileName(url))
	assert.Contains(t, out, url)

	out, err = execute(t, "cache", "list", "--data-dir", dir, "-o", "json")
	require.NoError(t, err)
	var entries []cache.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(4096), entries[0].Size)

	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("y"), 4096), 0o644))
	out, err = execute(t, "cache", "verify", "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "0 valid, 1 removed\n", out)

	_, err = c.Resolve(context.Background(), url)
	require.NoError(t, err)

	out, err = execute(t, "cache", "clear", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 files")

	out, err = execute(t, "cache", "list", "--data-dir", dir, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestStatus(t *testing.T) {
	lastSync := time.Now().Add(-3 * time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.Status{
			Version:    "1.2.3",
			Pairing:    pairing.Status{State: pairing.StatePaired, DisplayID: "d-1", Message: "Paired"},
			Sections:   []playback.SectionStatus{{ID: "main", State: playback.StatePlaying, Index: 1, ItemID: "it-b", Items: 3}},
			Cache:      cache.Stats{Entries: 2, Bytes: 2048},
			LastSync:   &lastSync,
			ScheduleID: "s-1",
			Renderers:  1,
		})
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	out, err := execute(t, "status", "--data-dir", t.TempDir(), "--listen", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "d-1")
	assert.Contains(t, out, "3m ago")
	assert.Contains(t, out, "s-1")
	assert.Contains(t, out, "it-b")
	assert.Contains(t, out, "2/3")

	out, err = execute(t, "status", "--data-dir", t.TempDir(), "--listen", addr, "-o", "json")
	require.NoError(t, err)
	var st api.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "1.2.3", st.Version)
}

func TestStatus_PlayerDown(t *testing.T) {
	_, err := execute(t, "status", "--data-dir", t.TempDir(), "--listen", "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "player not reachable")
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "never", formatAge(time.Time{}))
	assert.Equal(t, "Just now", formatAge(time.Now()))
	assert.Equal(t, "2h ago", formatAge(time.Now().Add(-2*time.Hour-time.Minute)))
	assert.Equal(t, "3d ago", formatAge(time.Now().Add(-73*time.Hour)))
}
