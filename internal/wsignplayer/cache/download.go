package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/storage"
)

// download streams url into the cache, hashing as it writes
func (c *Cache) download(ctx context.Context, url string) (*Entry, error) {
	const op = "Cache.download"

	if _, err := c.CheckStorage(); err != nil {
		c.logger.Warn("disk usage probe failed", "error", err)
	}

	dl, err := c.fetcher.FetchMedia(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewError("MEDIA_UNAVAILABLE", "media could not be downloaded", op,
			fmt.Errorf("%w: %w", errors.ErrMediaUnavailable, err))
	}
	defer dl.Body.Close()

	var reserved int64
	defer func() {
		if reserved > 0 {
			c.release(reserved)
		}
	}()

	if dl.Size >= 0 {
		if err := c.ensureSpace(dl.Size, 0); err != nil {
			return nil, err
		}
		reserved = dl.Size
	}

	tmp, err := os.CreateTemp(c.opts.Dir, tempPrefix+"*")
	if err != nil {
		return nil, errors.NewError("DOWNLOAD_FAILED", "Failed to create temp file", op, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	hw := storage.NewHashingWriter(tmp)
	if _, err := io.Copy(hw, dl.Body); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewError("MEDIA_UNAVAILABLE", "media download interrupted", op,
			fmt.Errorf("%w: %w", errors.ErrMediaUnavailable, err))
	}
	written := hw.Written()

	if dl.Size >= 0 && written != dl.Size {
		return nil, errors.NewError("MEDIA_UNAVAILABLE",
			fmt.Sprintf("short download: got %d of %d bytes", written, dl.Size), op, errors.ErrMediaUnavailable)
	}
	if dl.Size < 0 {
		if err := c.ensureSpace(written, written); err != nil {
			return nil, err
		}
		reserved = written
	}

	if err := tmp.Sync(); err != nil {
		return nil, errors.NewError("DOWNLOAD_FAILED", "Failed to sync media file", op, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.NewError("DOWNLOAD_FAILED", "Failed to close media file", op, err)
	}

	e := &Entry{
		URL:          url,
		File:         FileName(url),
		Size:         written,
		Checksum:     hw.Sum(),
		ContentType:  dl.ContentType,
		LastVerified: c.opts.Now(),
	}
	e.Path = filepath.Join(c.opts.Dir, e.File)

	c.mu.Lock()
	if err := os.Rename(tmpPath, e.Path); err != nil {
		c.mu.Unlock()
		return nil, errors.NewError("DOWNLOAD_FAILED", "Failed to move media into place", op, err)
	}
	success = true
	c.reserved -= reserved
	reserved = 0
	if old, ok := c.entries[url]; ok {
		delete(c.byFile, old.File)
	}
	c.entries[url] = e
	c.byFile[e.File] = e
	c.mu.Unlock()

	c.persist()
	c.logger.Info("media cached", "url", url, "size", storage.FormatBytes(written), "checksum", e.Checksum)
	return e, nil
}

// ensureSpace makes room for size bytes plus the safety margin and reserves
// size bytes of quota until the caller commits or releases them. onDisk is
// the part of size already written to disk.
func (c *Cache) ensureSpace(size, onDisk int64) error {
	const op = "Cache.ensureSpace"

	c.spaceMu.Lock()
	defer c.spaceMu.Unlock()

	required := storage.WithMargin(size, c.opts.SafetyMarginPercent)

	available, err := c.available(onDisk)
	if err != nil {
		return errors.NewError("STORAGE_PROBE_FAILED", "Failed to read free space", op, err)
	}
	if available >= required {
		c.reserve(size)
		return nil
	}

	evicted := 0
	for _, v := range c.evictionOrder() {
		if available >= required {
			break
		}
		c.logger.Info("evicting cached media", "url", v.url, "size", storage.FormatBytes(v.size), "lastVerified", v.lastVerified)
		c.removeEntry(v.entry)
		evicted++
		if available, err = c.available(onDisk); err != nil {
			return errors.NewError("STORAGE_PROBE_FAILED", "Failed to read free space", op, err)
		}
	}
	if evicted > 0 {
		c.persist()
	}

	// one more look after eviction settles
	if available, err = c.available(onDisk); err != nil {
		return errors.NewError("STORAGE_PROBE_FAILED", "Failed to read free space", op, err)
	}
	if available >= required {
		c.reserve(size)
		return nil
	}

	c.logger.Error("insufficient storage for media",
		"required", storage.FormatBytes(required), "available", storage.FormatBytes(available), "evicted", evicted)
	return errors.NewError("INSUFFICIENT_STORAGE",
		fmt.Sprintf("need %s, have %s", storage.FormatBytes(required), storage.FormatBytes(available)), op, errors.ErrInsufficientStorage)
}

func (c *Cache) reserve(n int64) {
	c.mu.Lock()
	c.reserved += n
	c.mu.Unlock()
}

func (c *Cache) release(n int64) {
	c.mu.Lock()
	c.reserved -= n
	c.mu.Unlock()
}

// available is min(disk free, quota - used - reserved), counting onDisk bytes
// of an in-progress download as reclaimable disk space
func (c *Cache) available(onDisk int64) (int64, error) {
	usage, err := c.opts.Probe.Usage(c.opts.Dir)
	if err != nil {
		return 0, err
	}
	avail := usage.Free + onDisk
	if c.opts.Quota > 0 {
		if q := c.opts.Quota - c.usedBytes(); q < avail {
			avail = q
		}
	}
	return avail, nil
}

// evictable is an eviction candidate captured under the lock
type evictable struct {
	entry        *Entry
	url          string
	size         int64
	lastVerified time.Time
}

func (c *Cache) evictionOrder() []evictable {
	c.mu.RLock()
	out := make([]evictable, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, evictable{entry: e, url: e.URL, size: e.Size, lastVerified: e.LastVerified})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].lastVerified.Equal(out[j].lastVerified) {
			return out[i].url < out[j].url
		}
		return out[i].lastVerified.Before(out[j].lastVerified)
	})
	return out
}
