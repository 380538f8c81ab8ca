// Package configsync periodically pulls the active configuration for a
// paired display and keeps the backend informed that the display is alive.
package configsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/identity"
)

// Source tells where a configuration came from
type Source string

const (
	// SourceNetwork is a configuration freshly fetched from the backend
	SourceNetwork Source = "NETWORK"
	// SourceCache is the last good configuration, served while offline
	SourceCache Source = "CACHE"
)

// Result is the outcome of a successful fetch
type Result struct {
	Config    *v1alpha1.ActiveConfiguration
	Source    Source
	FetchedAt time.Time
}

// API is the subset of the backend client used by the loop
type API interface {
	FetchConfiguration(ctx context.Context, displayID, token string) (*v1alpha1.ActiveConfiguration, error)
	SendHeartbeat(ctx context.Context, token string, hb *v1alpha1.HeartbeatRequest) error
}

// HeartbeatDecorator adds runtime details to an outgoing heartbeat
type HeartbeatDecorator func(hb *v1alpha1.HeartbeatRequest)

// Option configures a Loop
type Option func(*Loop)

// WithTimeout bounds each fetch and heartbeat call
func WithTimeout(d time.Duration) Option {
	return func(l *Loop) {
		l.timeout = d
	}
}

// WithVersion sets the version reported in heartbeats
func WithVersion(v string) Option {
	return func(l *Loop) {
		l.version = v
	}
}

// WithHeartbeatDecorator installs a decorator for outgoing heartbeats
func WithHeartbeatDecorator(fn HeartbeatDecorator) Option {
	return func(l *Loop) {
		l.decorate = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// Loop fetches configuration and sends heartbeats
type Loop struct {
	api      API
	store    *identity.Store
	logger   *slog.Logger
	timeout  time.Duration
	version  string
	decorate HeartbeatDecorator

	fetching atomic.Bool
	beating  atomic.Bool
	trigger  chan struct{}
}

// New creates a sync loop
func New(api API, store *identity.Store, opts ...Option) *Loop {
	l := &Loop{
		api:     api,
		store:   store,
		logger:  slog.Default(),
		timeout: 15 * time.Second,
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetch retrieves the configuration, falling back to the last good one
// when the backend cannot be reached
func (l *Loop) Fetch(ctx context.Context) (*Result, error) {
	const op = "ConfigSync.Fetch"

	id, err := l.store.Get(ctx)
	if err != nil {
		return nil, errors.NewError("FETCH_FAILED", "Failed to read identity", op, err)
	}
	if !id.IsPaired() || id.DisplayID == "" {
		return nil, errors.NewError("NOT_PAIRED", "display is not paired", op, errors.ErrNotPaired)
	}

	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cfg, err := l.api.FetchConfiguration(callCtx, id.DisplayID, id.DeviceToken)
	if err == nil {
		if verr := cfg.Validate(); verr != nil {
			l.logger.Warn("backend returned an invalid configuration", "error", verr, "displayId", id.DisplayID)
			err = errors.NewError("INVALID_CONFIGURATION", "configuration failed validation", op, errors.ErrUnavailable)
		}
	}

	switch {
	case err == nil:
		if serr := l.store.SetLastGoodConfiguration(ctx, cfg); serr != nil {
			l.logger.Error("failed to persist configuration", "error", serr)
		}
		return &Result{Config: cfg, Source: SourceNetwork, FetchedAt: time.Now()}, nil
	case errors.IsUnauthorized(err), errors.IsNotPaired(err):
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cached, cerr := l.store.LastGoodConfiguration(ctx)
	if cerr != nil {
		return nil, errors.NewError("FETCH_FAILED", "Failed to read cached configuration", op, cerr)
	}
	if cached == nil {
		return nil, errors.NewError("UNAVAILABLE", "backend unreachable and no cached configuration", op, err)
	}

	l.logger.Warn("using cached configuration", "error", err, "displayId", id.DisplayID)
	return &Result{Config: cached, Source: SourceCache, FetchedAt: time.Now()}, nil
}

// Heartbeat reports liveness. Failures are logged and returned for callers
// that want them, but the loop never retries.
func (l *Loop) Heartbeat(ctx context.Context) error {
	const op = "ConfigSync.Heartbeat"

	id, err := l.store.Get(ctx)
	if err != nil {
		return errors.NewError("HEARTBEAT_FAILED", "Failed to read identity", op, err)
	}
	if !id.IsPaired() || id.DisplayID == "" {
		return errors.NewError("NOT_PAIRED", "display is not paired", op, errors.ErrNotPaired)
	}

	hb := &v1alpha1.HeartbeatRequest{
		DisplayID: id.DisplayID,
		Timestamp: time.Now().UTC(),
		Version:   l.version,
		Location:  id.Location,
	}
	if l.decorate != nil {
		l.decorate(hb)
	}

	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.api.SendHeartbeat(callCtx, id.DeviceToken, hb); err != nil {
		l.logger.Warn("heartbeat failed", "error", err, "displayId", id.DisplayID)
		return err
	}
	l.logger.Debug("heartbeat sent", "displayId", id.DisplayID)
	return nil
}

// Trigger requests an immediate fetch. Triggers are coalesced.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run fetches immediately and then on both tickers until ctx is done. Each
// task never overlaps itself: a tick arriving while it still runs is dropped.
func (l *Loop) Run(ctx context.Context, configEvery, heartbeatEvery time.Duration, onConfig func(*Result)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	fetch := func() {
		if !l.fetching.CompareAndSwap(false, true) {
			l.logger.Debug("configuration fetch already running, skipping")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.fetching.Store(false)

			res, err := l.Fetch(ctx)
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Warn("configuration fetch failed", "error", err)
				}
				return
			}
			if onConfig != nil {
				onConfig(res)
			}
		}()
	}

	beat := func() {
		if !l.beating.CompareAndSwap(false, true) {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.beating.Store(false)
			_ = l.Heartbeat(ctx)
		}()
	}

	configTicker := time.NewTicker(configEvery)
	defer configTicker.Stop()
	heartbeatTicker := time.NewTicker(heartbeatEvery)
	defer heartbeatTicker.Stop()

	fetch()
	beat()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-configTicker.C:
			fetch()
		case <-l.trigger:
			fetch()
		case <-heartbeatTicker.C:
			beat()
		}
	}
}
