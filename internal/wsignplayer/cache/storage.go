package cache

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/storage"
)

// OnLowStorage registers the callback fired when free space first drops
// below the critical floor
func (c *Cache) OnLowStorage(fn LowStorageFunc) {
	c.lowMu.Lock()
	defer c.lowMu.Unlock()
	c.onLow = fn
}

// LowStorage reports whether the last probe found free space below the floor
func (c *Cache) LowStorage() bool {
	return c.lowStorage.Load()
}

// CheckStorage probes free space and signals low storage on the transition
// into the critical range
func (c *Cache) CheckStorage() (storage.Usage, error) {
	usage, err := c.opts.Probe.Usage(c.opts.Dir)
	if err != nil {
		return usage, err
	}
	if c.opts.CriticalFree <= 0 {
		return usage, nil
	}

	low := usage.Free < c.opts.CriticalFree
	was := c.lowStorage.Swap(low)
	switch {
	case low && !was:
		c.logger.Warn("storage critically low",
			"free", storage.FormatBytes(usage.Free), "threshold", storage.FormatBytes(c.opts.CriticalFree))
		c.lowMu.Lock()
		fn := c.onLow
		c.lowMu.Unlock()
		if fn != nil {
			fn(usage)
		}
	case !low && was:
		c.logger.Info("storage recovered", "free", storage.FormatBytes(usage.Free))
	}
	return usage, nil
}

// Prefetch warms the cache for a set of URLs. Individual failures are logged;
// only cancellation is returned.
func (c *Cache) Prefetch(ctx context.Context, urls []string) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.PrefetchConcurrency)

	results := make([]bool, len(urls))
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			if _, err := c.Resolve(gctx, url); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("prefetch failed", "error", err, "url", url)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	err := g.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n, err
}
