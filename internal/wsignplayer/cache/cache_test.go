package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/client"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/storage"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/testutil"
)

const kib = 1024

type fakeFetcher struct {
	mu         sync.Mutex
	files      map[string][]byte
	calls      map[string]int
	aborted    int
	gate       chan struct{}
	bodyGate   chan struct{}
	hideLength bool
	offline    bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: make(map[string][]byte), calls: make(map[string]int)}
}

func (f *fakeFetcher) put(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[url] = data
}

func (f *fakeFetcher) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) abortedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

func (f *fakeFetcher) FetchMedia(ctx context.Context, url string) (*client.Download, error) {
	f.mu.Lock()
	gate, bodyGate, offline, hide := f.gate, f.bodyGate, f.offline, f.hideLength
	data, ok := f.files[url]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.aborted++
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if offline {
		return nil, errors.NewError("UNAVAILABLE", "offline", "fake", errors.ErrUnavailable)
	}
	if !ok {
		return nil, errors.NewError("NOT_FOUND", "missing", "fake", errors.ErrNotFound)
	}

	f.mu.Lock()
	f.calls[url]++
	f.mu.Unlock()

	size := int64(len(data))
	if hide {
		size = -1
	}
	var body io.Reader = bytes.NewReader(data)
	if bodyGate != nil {
		body = io.MultiReader(gatedReader(bodyGate), body)
	}
	return &client.Download{Body: io.NopCloser(body), Size: size}, nil
}

// gatedReader blocks reads until its channel closes
type gatedReader chan struct{}

func (g gatedReader) Read([]byte) (int, error) {
	<-g
	return 0, io.EOF
}

func (c *Cache) waiters(url string) int {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	if f := c.flights[url]; f != nil {
		return f.waiters
	}
	return 0
}

func bigDisk() storage.DiskProbe {
	return storage.FixedProbe{Value: storage.Usage{Total: 1 << 40, Free: 1 << 40}}
}

func openCache(t *testing.T, f Fetcher, opts Options) *Cache {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	if opts.Probe == nil {
		opts.Probe = bigDisk()
	}
	c, err := Open(f, opts)
	require.NoError(t, err)
	return c
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, tempPrefix+"*"))
	require.NoError(t, err)
	return matches
}

func TestResolve_DownloadsOnceThenServesLocally(t *testing.T) {
	f := newFakeFetcher()
	f.put("https://cdn.example.com/a.png", []byte("image-a"))
	c := openCache(t, f, Options{})
	ctx := context.Background()

	p1, err := c.Resolve(ctx, "https://cdn.example.com/a.png")
	require.NoError(t, err)
	p2, err := c.Resolve(ctx, "https://cdn.example.com/a.png")
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, ".png", filepath.Ext(p1))
	assert.Equal(t, 1, f.count("https://cdn.example.com/a.png"))

	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "image-a", string(data))

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, storage.Checksum([]byte("image-a")), entries[0].Checksum)
}

func TestResolve_ConcurrentCallsShareOneDownload(t *testing.T) {
	f := newFakeFetcher()
	f.put("https://cdn.example.com/v.mp4", bytes.Repeat([]byte("v"), 64*kib))
	f.gate = make(chan struct{})
	c := openCache(t, f, Options{})

	var wg sync.WaitGroup
	paths := make([]string, 10)
	errs := make([]error, 10)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = c.Resolve(context.Background(), "https://cdn.example.com/v.mp4")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for i := range paths {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
	assert.Equal(t, 1, f.count("https://cdn.example.com/v.mp4"))
}

func TestResolve_CancelledCallerLeavesDownloadToOthers(t *testing.T) {
	const url = "https://cdn.example.com/v.mp4"
	f := newFakeFetcher()
	f.put(url, bytes.Repeat([]byte("v"), 16*kib))
	f.gate = make(chan struct{})
	c := openCache(t, f, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctx, url)
		first <- err
	}()
	require.Eventually(t, func() bool { return c.waiters(url) == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		path string
		err  error
	}
	second := make(chan result, 1)
	go func() {
		p, err := c.Resolve(context.Background(), url)
		second <- result{p, err}
	}()
	require.Eventually(t, func() bool { return c.waiters(url) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(f.gate)
	res := <-second
	require.NoError(t, res.err)
	data, err := os.ReadFile(res.path)
	require.NoError(t, err)
	assert.Len(t, data, 16*kib)
	assert.Equal(t, 1, f.count(url))
	assert.Zero(t, f.abortedCount())
}

func TestResolve_DownloadAbandonedWhenEveryCallerLeaves(t *testing.T) {
	const url = "https://cdn.example.com/v.mp4"
	f := newFakeFetcher()
	f.put(url, []byte("video"))
	f.gate = make(chan struct{})
	c := openCache(t, f, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctx, url)
		done <- err
	}()
	require.Eventually(t, func() bool { return c.waiters(url) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.Eventually(t, func() bool { return f.abortedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.waiters(url))

	close(f.gate)
	_, err := c.Resolve(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(url))
	assert.Empty(t, tempFiles(t, c.Dir()))
}

func TestResolve_CorruptionTriggersRedownload(t *testing.T) {
	f := newFakeFetcher()
	f.put("https://cdn.example.com/a.png", []byte("image-a"))
	c := openCache(t, f, Options{})
	ctx := context.Background()

	p, err := c.Resolve(ctx, "https://cdn.example.com/a.png")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("image-X"), 0o644))

	assert.False(t, c.Verify(c.Entries()[0]))
	assert.Empty(t, c.Entries())

	p, err = c.Resolve(ctx, "https://cdn.example.com/a.png")
	require.NoError(t, err)
	data, _ := os.ReadFile(p)
	assert.Equal(t, "image-a", string(data))
	assert.Equal(t, 2, f.count("https://cdn.example.com/a.png"))
}

func TestResolve_Offline(t *testing.T) {
	f := newFakeFetcher()
	f.put("https://cdn.example.com/a.png", []byte("image-a"))
	c := openCache(t, f, Options{})
	ctx := context.Background()

	_, err := c.Resolve(ctx, "https://cdn.example.com/a.png")
	require.NoError(t, err)

	f.setOffline(true)
	_, err = c.Resolve(ctx, "https://cdn.example.com/a.png")
	assert.NoError(t, err)

	_, err = c.Resolve(ctx, "https://cdn.example.com/b.png")
	assert.True(t, errors.IsMediaUnavailable(err))
	assert.Empty(t, tempFiles(t, c.Dir()))
}

func TestResolve_ThroughBackendClient(t *testing.T) {
	backend := testutil.NewBackend(t)
	url := backend.PutMedia("clip.mp4", []byte("video-bytes"))
	api, err := client.NewClient(backend.URL)
	require.NoError(t, err)
	c := openCache(t, api, Options{})

	p, err := c.Resolve(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, ".mp4", filepath.Ext(p))
	assert.Equal(t, 1, backend.Downloads("clip.mp4"))
}

func TestEviction_LeastRecentlyVerifiedFirst(t *testing.T) {
	// 480 of 500 units used; a 40 unit download needs one entry evicted
	clock := testutil.FixedClock()
	f := newFakeFetcher()
	c := openCache(t, f, Options{Quota: 500 * kib, SafetyMarginPercent: 10, Now: clock.Now})
	ctx := context.Background()

	var urls []string
	for i := 0; i < 12; i++ {
		url := "https://cdn.example.com/" + string(rune('a'+i)) + ".jpg"
		f.put(url, bytes.Repeat([]byte{byte(i)}, 40*kib))
		_, err := c.Resolve(ctx, url)
		require.NoError(t, err)
		urls = append(urls, url)
		clock.Advance(time.Minute)
	}
	assert.Equal(t, int64(480*kib), c.Stats().Bytes)

	// touch the oldest so the second oldest becomes the victim
	_, err := c.Resolve(ctx, urls[0])
	require.NoError(t, err)
	clock.Advance(time.Minute)

	f.put("https://cdn.example.com/new.mp4", bytes.Repeat([]byte("n"), 40*kib))
	_, err = c.Resolve(ctx, "https://cdn.example.com/new.mp4")
	require.NoError(t, err)

	st := c.Stats()
	assert.Equal(t, 12, st.Entries)
	assert.Equal(t, int64(480*kib), st.Bytes)

	remaining := map[string]bool{}
	for _, e := range c.Entries() {
		remaining[e.URL] = true
	}
	assert.True(t, remaining[urls[0]])
	assert.False(t, remaining[urls[1]])
	assert.True(t, remaining["https://cdn.example.com/new.mp4"])
}

func TestEviction_InsufficientStorage(t *testing.T) {
	f := newFakeFetcher()
	f.put("https://cdn.example.com/small.png", bytes.Repeat([]byte("s"), 10*kib))
	f.put("https://cdn.example.com/huge.mp4", bytes.Repeat([]byte("h"), 100*kib))
	c := openCache(t, f, Options{Quota: 50 * kib, SafetyMarginPercent: 10})
	ctx := context.Background()

	_, err := c.Resolve(ctx, "https://cdn.example.com/small.png")
	require.NoError(t, err)

	_, err = c.Resolve(ctx, "https://cdn.example.com/huge.mp4")
	assert.True(t, errors.IsInsufficientStorage(err))
	assert.Empty(t, c.Entries(), "eviction ran before giving up")
	assert.Empty(t, tempFiles(t, c.Dir()))
}

func TestEviction_UnknownLengthCheckedAfterStreaming(t *testing.T) {
	f := newFakeFetcher()
	f.hideLength = true
	f.put("https://cdn.example.com/huge.mp4", bytes.Repeat([]byte("h"), 100*kib))
	c := openCache(t, f, Options{Quota: 50 * kib})

	_, err := c.Resolve(context.Background(), "https://cdn.example.com/huge.mp4")
	assert.True(t, errors.IsInsufficientStorage(err))
	assert.Empty(t, tempFiles(t, c.Dir()))
}

func TestEviction_DiskFreeBound(t *testing.T) {
	f := newFakeFetcher()
	f.put("https://cdn.example.com/a.png", bytes.Repeat([]byte("a"), 10*kib))
	c := openCache(t, f, Options{
		Probe:               storage.FixedProbe{Value: storage.Usage{Total: 100 * kib, Free: 5 * kib}},
		SafetyMarginPercent: 10,
	})

	_, err := c.Resolve(context.Background(), "https://cdn.example.com/a.png")
	assert.True(t, errors.IsInsufficientStorage(err))
}

func TestEviction_ConcurrentDownloadsShareQuota(t *testing.T) {
	f := newFakeFetcher()
	f.put("https://cdn.example.com/a.mp4", bytes.Repeat([]byte("a"), 30*kib))
	f.put("https://cdn.example.com/b.mp4", bytes.Repeat([]byte("b"), 30*kib))
	f.bodyGate = make(chan struct{})
	c := openCache(t, f, Options{Quota: 50 * kib})

	results := make(chan error, 2)
	for _, url := range []string{"https://cdn.example.com/a.mp4", "https://cdn.example.com/b.mp4"} {
		url := url
		go func() {
			_, err := c.Resolve(context.Background(), url)
			results <- err
		}()
	}

	// the second download to check space sees the first one's reservation
	select {
	case err := <-results:
		assert.True(t, errors.IsInsufficientStorage(err), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("both downloads passed the space check")
	}

	close(f.bodyGate)
	require.NoError(t, <-results)

	st := c.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, int64(30*kib), st.Bytes)
	assert.Zero(t, c.usedBytes()-st.Bytes, "reservation released on commit")
	assert.Empty(t, tempFiles(t, c.Dir()))
}

// shortFetcher announces more bytes than it sends
type shortFetcher struct{}

func (shortFetcher) FetchMedia(context.Context, string) (*client.Download, error) {
	return &client.Download{Body: io.NopCloser(bytes.NewReader(make([]byte, 10*kib))), Size: 40 * kib}, nil
}

func TestEviction_FailedDownloadReleasesReservation(t *testing.T) {
	c := openCache(t, shortFetcher{}, Options{Quota: 50 * kib})

	for i := 0; i < 3; i++ {
		_, err := c.Resolve(context.Background(), fmt.Sprintf("https://cdn.example.com/%d.mp4", i))
		require.True(t, errors.IsMediaUnavailable(err), "got %v", err)
	}
	assert.Zero(t, c.usedBytes())
	assert.Empty(t, tempFiles(t, c.Dir()))
}

func TestEviction_ConcurrentWithVerification(t *testing.T) {
	clock := testutil.FixedClock()
	f := newFakeFetcher()
	c := openCache(t, f, Options{Quota: 100 * kib, Now: clock.Now})
	ctx := context.Background()

	f.put("https://cdn.example.com/hot.png", bytes.Repeat([]byte("h"), kib))
	_, err := c.Resolve(ctx, "https://cdn.example.com/hot.png")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = c.Resolve(ctx, "https://cdn.example.com/hot.png")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 40; i++ {
			url := fmt.Sprintf("https://cdn.example.com/cold-%d.png", i)
			f.put(url, bytes.Repeat([]byte{byte(i)}, 30*kib))
			_, _ = c.Resolve(ctx, url)
			_ = c.evictionOrder()
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().Bytes, int64(100*kib))
}

func TestOpen_ReconcilesWithFilesystem(t *testing.T) {
	dir := t.TempDir()
	f := newFakeFetcher()
	f.put("https://cdn.example.com/a.png", []byte("image-a"))
	f.put("https://cdn.example.com/b.png", []byte("image-b"))

	c := openCache(t, f, Options{Dir: dir})
	ctx := context.Background()
	pa, err := c.Resolve(ctx, "https://cdn.example.com/a.png")
	require.NoError(t, err)
	pb, err := c.Resolve(ctx, "https://cdn.example.com/b.png")
	require.NoError(t, err)

	require.NoError(t, os.Remove(pa))
	require.NoError(t, os.WriteFile(pb, []byte("image-b-longer"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tempPrefix+"123"), []byte("x"), 0o644))

	c = openCache(t, f, Options{Dir: dir})
	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "https://cdn.example.com/b.png", entries[0].URL)
	assert.True(t, entries[0].Unverified)
	assert.Equal(t, int64(len("image-b-longer")), entries[0].Size)

	assert.NoFileExists(t, filepath.Join(dir, "orphan.jpg"))
	assert.Empty(t, tempFiles(t, dir))

	raw, err := os.ReadFile(filepath.Join(dir, indexFile))
	require.NoError(t, err)
	var idx index
	require.NoError(t, json.Unmarshal(raw, &idx))
	assert.Len(t, idx.Entries, 1)

	_, err = c.Resolve(ctx, "https://cdn.example.com/b.png")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("https://cdn.example.com/b.png"))
}

func TestLowStorageSignal(t *testing.T) {
	probe := &switchProbe{free: 500 * kib}
	c := openCache(t, newFakeFetcher(), Options{Probe: probe, CriticalFree: 100 * kib})

	var calls int
	c.OnLowStorage(func(storage.Usage) { calls++ })

	_, err := c.CheckStorage()
	require.NoError(t, err)
	assert.False(t, c.LowStorage())

	probe.set(50 * kib)
	_, _ = c.CheckStorage()
	_, _ = c.CheckStorage()
	assert.True(t, c.LowStorage())
	assert.True(t, c.Stats().LowStorage)
	assert.Equal(t, 1, calls)

	probe.set(200 * kib)
	_, _ = c.CheckStorage()
	assert.False(t, c.LowStorage())
}

type switchProbe struct {
	mu   sync.Mutex
	free int64
}

func (p *switchProbe) set(free int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = free
}

func (p *switchProbe) Usage(string) (storage.Usage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return storage.Usage{Total: 1 << 30, Free: p.free}, nil
}

func TestRemoveClearAndVerifyAll(t *testing.T) {
	f := newFakeFetcher()
	f.put("https://cdn.example.com/a.png", []byte("image-a"))
	f.put("https://cdn.example.com/b.png", []byte("image-b"))
	c := openCache(t, f, Options{})
	ctx := context.Background()

	n, err := c.Prefetch(ctx, []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png", "https://cdn.example.com/missing.png"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	valid, removed, err := c.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, valid)
	assert.Zero(t, removed)

	entry, ok := c.Lookup(FileName("https://cdn.example.com/a.png"))
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/a.png", entry.URL)

	require.NoError(t, c.Remove("https://cdn.example.com/a.png"))
	assert.True(t, errors.IsNotFound(c.Remove("https://cdn.example.com/a.png")))
	assert.NoFileExists(t, entry.Path)

	require.NoError(t, c.Clear())
	assert.Empty(t, c.Entries())
	assert.Zero(t, c.Stats().Bytes)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		url  string
		ext  string
	}{
		{name: "image", url: "https://cdn.example.com/a/b.PNG", ext: ".png"},
		{name: "query string", url: "https://cdn.example.com/v.mp4?sig=abc.def", ext: ".mp4"},
		{name: "no extension", url: "https://cdn.example.com/media/123", ext: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := FileName(tt.url)
			assert.Equal(t, tt.ext, filepath.Ext(name))
			assert.Equal(t, name, FileName(tt.url))
		})
	}
}
