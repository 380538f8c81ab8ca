// Package cache keeps media files on local disk so playback survives network
// loss. Files are keyed by their remote URL, verified by SHA-256 before use,
// and evicted least-recently-verified first when space runs out.
package cache

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/client"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/storage"
)

// Fetcher opens remote media for download
type Fetcher interface {
	FetchMedia(ctx context.Context, url string) (*client.Download, error)
}

// Entry is one cached media file
type Entry struct {
	URL          string    `json:"url"`
	File         string    `json:"file"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	ContentType  string    `json:"contentType,omitempty"`
	LastVerified time.Time `json:"lastVerified"`
	// Unverified is set when the file on disk no longer matches the
	// recorded size; the next verify decides its fate.
	Unverified bool `json:"unverified,omitempty"`

	// Path is the absolute location of the file
	Path string `json:"-"`
}

// Stats summarizes cache occupancy
type Stats struct {
	Entries    int   `json:"entries"`
	Bytes      int64 `json:"bytes"`
	Free       int64 `json:"free"`
	Quota      int64 `json:"quota"`
	LowStorage bool  `json:"lowStorage"`
}

// Options configures a Cache
type Options struct {
	// Dir holds media files and the index
	Dir string
	// Quota caps the bytes used by cached media; zero means no cap
	Quota int64
	// SafetyMarginPercent is added on top of a file's size before checking
	// whether it fits
	SafetyMarginPercent int
	// CriticalFree is the free-space floor below which low storage is signalled
	CriticalFree int64
	// Probe reports disk usage; defaults to statfs
	Probe storage.DiskProbe
	// Now defaults to time.Now
	Now func() time.Time
	// PrefetchConcurrency bounds parallel downloads during Prefetch
	PrefetchConcurrency int
	Logger              *slog.Logger
}

// LowStorageFunc is called when free space drops below the critical floor
type LowStorageFunc func(usage storage.Usage)

// Cache is the Media Cache
type Cache struct {
	fetcher Fetcher
	opts    Options
	logger  *slog.Logger

	group   singleflight.Group
	indexMu sync.Mutex

	flightMu sync.Mutex
	flights  map[string]*flight

	// spaceMu serializes the fit check with the reservation it makes
	spaceMu sync.Mutex

	mu       sync.RWMutex
	entries  map[string]*Entry
	byFile   map[string]*Entry
	reserved int64

	lowMu      sync.Mutex
	onLow      LowStorageFunc
	lowStorage atomic.Bool
}

// Open opens or creates a cache in opts.Dir and reconciles its index with
// the files actually present
func Open(fetcher Fetcher, opts Options) (*Cache, error) {
	const op = "Cache.Open"

	if opts.Dir == "" {
		return nil, errors.NewError("INVALID_INPUT", "cache directory is required", op, errors.ErrInvalidInput)
	}
	if opts.Probe == nil {
		opts.Probe = storage.StatfsProbe{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PrefetchConcurrency <= 0 {
		opts.PrefetchConcurrency = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.NewError("OPEN_FAILED", "Failed to create cache directory", op, err)
	}

	c := &Cache{
		fetcher: fetcher,
		opts:    opts,
		logger:  opts.Logger,
		entries: make(map[string]*Entry),
		byFile:  make(map[string]*Entry),
		flights: make(map[string]*flight),
	}

	loaded, err := c.readIndex()
	if err != nil {
		c.logger.Warn("cache index unreadable, starting empty", "error", err, "dir", opts.Dir)
		loaded = nil
	}
	if err := c.reconcile(loaded); err != nil {
		return nil, errors.NewError("OPEN_FAILED", "Failed to reconcile cache", op, err)
	}

	return c, nil
}

// Dir returns the cache directory
func (c *Cache) Dir() string {
	return c.opts.Dir
}

// reconcile drops entries whose file disappeared, adopts the on-disk size of
// files that changed and removes temp and orphan files
func (c *Cache) reconcile(loaded []*Entry) error {
	dirty := false
	for _, e := range loaded {
		if e.URL == "" || e.File == "" || filepath.Base(e.File) != e.File {
			dirty = true
			continue
		}
		e.Path = filepath.Join(c.opts.Dir, e.File)
		fi, err := os.Stat(e.Path)
		if err != nil {
			c.logger.Info("dropping cache entry with missing file", "url", e.URL)
			dirty = true
			continue
		}
		if fi.Size() != e.Size {
			c.logger.Warn("cache entry size changed on disk", "url", e.URL, "recorded", e.Size, "actual", fi.Size())
			e.Size = fi.Size()
			e.Unverified = true
			dirty = true
		}
		c.entries[e.URL] = e
		c.byFile[e.File] = e
	}

	files, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || name == indexFile {
			continue
		}
		if _, ok := c.byFile[name]; ok {
			continue
		}
		if !strings.HasPrefix(name, tempPrefix) {
			c.logger.Info("removing orphan cache file", "file", name)
		}
		if err := os.Remove(filepath.Join(c.opts.Dir, name)); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove stray cache file", "error", err, "file", name)
		}
	}

	if dirty {
		return c.writeIndex()
	}
	return nil
}

// Resolve returns a local path for url, downloading it if no valid copy is
// cached. Concurrent calls for the same URL share one download. The download
// is detached from any single caller and is abandoned only once every caller
// waiting on it has given up.
func (c *Cache) Resolve(ctx context.Context, url string) (string, error) {
	for {
		c.join(url)
		ch := c.group.DoChan(url, func() (interface{}, error) {
			dctx, cancel := c.start(ctx, url)
			defer c.finish(url, cancel)
			return c.resolve(dctx, url)
		})

		select {
		case res := <-ch:
			c.leave(url, false)
			if res.Shared {
				c.logger.Debug("resolve coalesced", "url", url)
			}
			if res.Err != nil {
				// joined a download its previous waiters abandoned
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					continue
				}
				return "", res.Err
			}
			return res.Val.(string), nil
		case <-ctx.Done():
			c.leave(url, true)
			return "", ctx.Err()
		}
	}
}

// flight tracks the callers waiting on one URL's download
type flight struct {
	waiters int
	cancel  context.CancelFunc
}

func (c *Cache) join(url string) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	f := c.flights[url]
	if f == nil {
		f = &flight{}
		c.flights[url] = f
	}
	f.waiters++
}

// leave drops a waiter. The last waiter to give up cancels the download.
func (c *Cache) leave(url string, abandon bool) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	f := c.flights[url]
	if f == nil {
		return
	}
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if abandon && f.cancel != nil {
		c.logger.Debug("download abandoned", "url", url)
		f.cancel()
	}
	delete(c.flights, url)
}

// start derives the download context from the first caller without its
// cancellation
func (c *Cache) start(ctx context.Context, url string) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	f := c.flights[url]
	if f == nil {
		// every caller left before the download began
		cancel()
		return dctx, cancel
	}
	f.cancel = cancel
	return dctx, cancel
}

func (c *Cache) finish(url string, cancel context.CancelFunc) {
	cancel()

	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	if f := c.flights[url]; f != nil {
		f.cancel = nil
	}
}

func (c *Cache) resolve(ctx context.Context, url string) (string, error) {
	if e := c.get(url); e != nil {
		if c.verify(e) {
			return e.Path, nil
		}
	}
	e, err := c.download(ctx, url)
	if err != nil {
		return "", err
	}
	return e.Path, nil
}

// Verify rehashes the file behind an entry. A mismatch removes the entry and
// its file.
func (c *Cache) Verify(entry Entry) bool {
	e := c.get(entry.URL)
	if e == nil {
		return false
	}
	return c.verify(e)
}

func (c *Cache) verify(e *Entry) bool {
	sum, size, err := storage.HashFile(e.Path)
	switch {
	case err != nil:
		c.logger.Warn("cached media unreadable", "error", err, "url", e.URL)
	case sum != e.Checksum || size != e.Size:
		c.logger.Warn("cached media corrupted", "error", errors.ErrChecksumMismatch, "url", e.URL, "expected", e.Checksum, "actual", sum)
	default:
		c.mu.Lock()
		e.LastVerified = c.opts.Now()
		e.Unverified = false
		c.mu.Unlock()
		c.persist()
		return true
	}

	c.removeEntry(e)
	c.persist()
	return false
}

// VerifyAll verifies every entry and returns how many remained valid and
// how many were removed
func (c *Cache) VerifyAll(ctx context.Context) (valid, removed int, err error) {
	for _, e := range c.snapshot() {
		if err := ctx.Err(); err != nil {
			return valid, removed, err
		}
		if c.Verify(e) {
			valid++
		} else {
			removed++
		}
	}
	return valid, removed, nil
}

// Entries returns a copy of all entries sorted by URL
func (c *Cache) Entries() []Entry {
	out := c.snapshot()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Lookup finds an entry by its file name
func (c *Cache) Lookup(file string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byFile[file]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove deletes a single entry and its file
func (c *Cache) Remove(url string) error {
	const op = "Cache.Remove"

	e := c.get(url)
	if e == nil {
		return errors.NewError("NOT_FOUND", "no cache entry for URL", op, errors.ErrNotFound)
	}
	c.removeEntry(e)
	return c.writeIndex()
}

// Clear deletes every entry and file
func (c *Cache) Clear() error {
	for _, e := range c.snapshot() {
		if cur := c.get(e.URL); cur != nil {
			c.removeEntry(cur)
		}
	}
	return c.writeIndex()
}

// Stats reports occupancy and free space
func (c *Cache) Stats() Stats {
	st := Stats{Quota: c.opts.Quota, Free: -1, LowStorage: c.lowStorage.Load()}
	c.mu.RLock()
	st.Entries = len(c.entries)
	for _, e := range c.entries {
		st.Bytes += e.Size
	}
	c.mu.RUnlock()

	if usage, err := c.opts.Probe.Usage(c.opts.Dir); err == nil {
		st.Free = usage.Free
	}
	return st
}

// FileName returns the stable file name used for a URL
func FileName(url string) string {
	name := storage.KeyOf(url)
	u := url
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	ext := strings.ToLower(path.Ext(u))
	if len(ext) > 1 && len(ext) <= 6 && !strings.ContainsAny(ext, "/:") {
		name += ext
	}
	return name
}

func (c *Cache) get(url string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[url]
}

func (c *Cache) snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// usedBytes counts committed entries plus reservations of downloads in flight
func (c *Cache) usedBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.reserved
	for _, e := range c.entries {
		n += e.Size
	}
	return n
}

// removeEntry deletes e if it is still the current entry for its URL
func (c *Cache) removeEntry(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[e.URL] != e {
		return
	}
	delete(c.entries, e.URL)
	delete(c.byFile, e.File)
	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove cached file", "error", err, "file", e.File)
	}
}

func (c *Cache) persist() {
	if err := c.writeIndex(); err != nil {
		c.logger.Error("failed to write cache index", "error", err)
	}
}
