// Package player is the host runtime. It owns the tickers and goroutines and
// feeds the result of each component into the next: pairing establishes
// identity, the sync loop fetches configuration, the engine plays it and the
// cache resolves its media.
package player

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/api"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/cache"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/client"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/config"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/configsync"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/identity"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/kv"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/pairing"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/playback"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/render"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/storage"
)

// StorageCheckInterval is how often free disk space is probed
const StorageCheckInterval = time.Minute

// Option configures a Player
type Option func(*Player)

// WithLogger sets the component logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) {
		p.logger = logger
	}
}

// WithControlLogger sets the control API logger
func WithControlLogger(logger zerolog.Logger) Option {
	return func(p *Player) {
		p.controlLogger = logger
	}
}

// WithVersion sets the version reported in heartbeats and status
func WithVersion(v string) Option {
	return func(p *Player) {
		p.version = v
	}
}

// WithStore uses an already opened identity backend instead of the
// configured one. The player does not close it.
func WithStore(store kv.Store) Option {
	return func(p *Player) {
		p.store = store
		p.ownStore = false
	}
}

// WithDiskProbe replaces the disk usage probe of the media cache
func WithDiskProbe(probe storage.DiskProbe) Option {
	return func(p *Player) {
		p.probe = probe
	}
}

// WithRenderer adds a renderer next to the log renderer and websocket hub
func WithRenderer(r playback.Renderer) Option {
	return func(p *Player) {
		p.extra = append(p.extra, r)
	}
}

// WithScheduler sets the playback timer source
func WithScheduler(s playback.Scheduler) Option {
	return func(p *Player) {
		p.sched = s
	}
}

// Player wires every component of the device together
type Player struct {
	cfg           *config.Config
	logger        *slog.Logger
	controlLogger zerolog.Logger
	version       string
	probe         storage.DiskProbe
	sched         playback.Scheduler
	extra         []playback.Renderer

	store    kv.Store
	ownStore bool

	Identity *identity.Store
	Client   *client.Client
	Pairing  *pairing.Client
	Sync     *configsync.Loop
	Cache    *cache.Cache
	Engine   *playback.Engine
	Hub      *render.Hub

	mu   sync.RWMutex
	last *configsync.Result

	prefetchMu   sync.Mutex
	prefetch     *prefetchRun
	prefetchDone bool
	prefetchWG   sync.WaitGroup
}

// prefetchRun is one background warm-up of the cache
type prefetchRun struct {
	cancel context.CancelFunc
}

var _ api.Controller = (*Player)(nil)

// New builds every component from cfg. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Player, error) {
	const op = "Player.New"

	p := &Player{
		cfg:           cfg,
		logger:        slog.Default(),
		controlLogger: zerolog.Nop(),
		version:       "dev",
		ownStore:      true,
	}
	for _, opt := range opts {
		opt(p)
	}

	quota, err := cfg.Storage.QuotaBytes()
	if err != nil {
		return nil, errors.NewError("INVALID_INPUT", "invalid cache quota", op, err)
	}
	critical, err := cfg.Storage.CriticalFreeBytes()
	if err != nil {
		return nil, errors.NewError("INVALID_INPUT", "invalid critical free threshold", op, err)
	}

	clientOpts := []client.ClientOption{
		client.WithTimeout(cfg.Server.RequestTimeout),
		client.WithDownloadTimeout(cfg.Server.DownloadTimeout),
		client.WithUserAgent("wsignplayer/" + p.version),
		client.WithLogger(p.logger),
	}
	if cfg.Server.InsecureSkipVerify {
		clientOpts = append(clientOpts, client.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	}
	p.Client, err = client.NewClient(cfg.Server.BaseURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	if p.store == nil {
		p.store, err = OpenStore(ctx, cfg.Identity)
		if err != nil {
			return nil, errors.NewError("OPEN_FAILED", "failed to open identity store", op, err)
		}
	}
	p.Identity = identity.NewStore(p.store)
	if err := p.Identity.Load(ctx); err != nil {
		p.closeStore()
		return nil, err
	}

	p.Pairing = pairing.NewClient(p.Client, p.Identity, p.logger.With("component", "pairing"))
	p.Sync = configsync.New(p.Client, p.Identity,
		configsync.WithTimeout(cfg.Server.RequestTimeout),
		configsync.WithVersion(p.version),
		configsync.WithHeartbeatDecorator(p.decorateHeartbeat),
		configsync.WithLogger(p.logger.With("component", "configsync")),
	)

	p.Cache, err = cache.Open(p.Client, cache.Options{
		Dir:                 cfg.Storage.CacheDir,
		Quota:               quota,
		SafetyMarginPercent: cfg.Storage.SafetyMarginPercent,
		CriticalFree:        critical,
		Probe:               p.probe,
		Logger:              p.logger.With("component", "cache"),
	})
	if err != nil {
		p.closeStore()
		return nil, err
	}
	p.Cache.OnLowStorage(func(u storage.Usage) {
		p.logger.Error("low storage, cached media may be evicted",
			"free", storage.FormatBytes(u.Free), "total", storage.FormatBytes(u.Total))
	})

	p.Hub = render.NewHub(p.logger.With("component", "renderer-hub"))
	renderers := render.Tee{render.NewLogRenderer(p.logger.With("component", "renderer")), p.Hub}
	renderers = append(renderers, p.extra...)

	engineOpts := []playback.Option{
		playback.WithLogger(p.logger.With("component", "playback")),
		playback.WithDefaultImageDuration(cfg.Playback.DefaultImageDuration),
		playback.WithErrorBackoff(cfg.Playback.ErrorBackoff),
		playback.WithEventHandler(p.onPlaybackEvent),
	}
	if p.sched != nil {
		engineOpts = append(engineOpts, playback.WithScheduler(p.sched))
	}
	p.Engine = playback.NewEngine(renderers, p.Cache, engineOpts...)
	p.Hub.Attach(p.Engine)

	return p, nil
}

// Run starts playback of the last good configuration, then runs pairing,
// sync, storage checks, the renderer hub and the control API until ctx is
// cancelled
func (p *Player) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.Hub.Run(gctx)
		return nil
	})

	if cached, err := p.Identity.LastGoodConfiguration(ctx); err != nil {
		p.logger.Warn("failed to read cached configuration", "error", err)
	} else if cached != nil {
		p.mu.Lock()
		p.last = &configsync.Result{Config: cached, Source: configsync.SourceCache, FetchedAt: time.Now()}
		p.mu.Unlock()
		p.Engine.Load(cached)
		p.logger.Info("playing cached configuration", "scheduleId", scheduleID(cached))
	}

	if p.cfg.Control.Enabled {
		handler := api.NewHandler(p, http.HandlerFunc(p.Hub.ServeWs), p.controlLogger)
		srv := api.NewServer(p.cfg.Control.Listen, handler.Router(), p.controlLogger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	g.Go(func() error {
		p.watchStorage(gctx)
		return nil
	})

	g.Go(func() error {
		return p.session(gctx)
	})

	err := g.Wait()
	p.Engine.Release()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// session pairs the display and runs the sync loop until the display is
// de-authenticated, then pairs again. Cached content keeps playing while
// the display re-pairs.
func (p *Player) session(ctx context.Context) error {
	states := p.Pairing.Subscribe()

	for {
		if err := p.Pairing.Run(ctx, p.cfg.Sync.PairingPollInterval); err != nil {
			return err
		}

		syncCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- p.Sync.Run(syncCtx, p.cfg.Sync.ConfigInterval, p.cfg.Sync.HeartbeatInterval, func(res *configsync.Result) {
				p.apply(syncCtx, res)
			})
		}()

		unpaired := p.waitUnpaired(ctx, states)
		cancel()
		<-done
		p.stopPrefetch()

		if !unpaired {
			return ctx.Err()
		}
		p.logger.Warn("display de-authenticated, pairing again")
	}
}

// waitUnpaired blocks until the pairing client reports Unpaired. States
// buffered before the current session are ignored by re-reading the
// client's state.
func (p *Player) waitUnpaired(ctx context.Context, states <-chan pairing.State) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case st := <-states:
			if st == pairing.StateUnpaired && p.Pairing.State() == pairing.StateUnpaired {
				return true
			}
		}
	}
}

func (p *Player) apply(ctx context.Context, res *configsync.Result) {
	p.mu.Lock()
	p.last = res
	p.mu.Unlock()

	changed := p.Engine.Load(res.Config)
	if changed {
		p.logger.Info("configuration loaded",
			"source", res.Source, "scheduleId", scheduleID(res.Config), "sections", len(p.Engine.Snapshot()))
	}

	if p.cfg.Playback.Prefetch {
		p.startPrefetch(ctx, res.Config, changed)
	}
}

// startPrefetch warms the cache for cfg in the background. A new
// configuration cancels the run in progress; an unchanged one leaves it
// alone and is skipped entirely once every URL has been cached.
func (p *Player) startPrefetch(ctx context.Context, cfg *v1alpha1.ActiveConfiguration, changed bool) {
	urls := cfg.MediaURLs()

	p.prefetchMu.Lock()
	defer p.prefetchMu.Unlock()

	if !changed && (p.prefetch != nil || p.prefetchDone) {
		return
	}
	if p.prefetch != nil {
		p.prefetch.cancel()
		p.prefetch = nil
	}
	p.prefetchDone = false
	if len(urls) == 0 {
		p.prefetchDone = true
		return
	}

	pctx, cancel := context.WithCancel(ctx)
	run := &prefetchRun{cancel: cancel}
	p.prefetch = run

	p.prefetchWG.Add(1)
	go func() {
		defer p.prefetchWG.Done()
		defer cancel()

		n, err := p.Cache.Prefetch(pctx, urls)

		p.prefetchMu.Lock()
		if p.prefetch == run {
			p.prefetch = nil
			p.prefetchDone = err == nil && n == len(urls)
		}
		p.prefetchMu.Unlock()

		if err != nil {
			p.logger.Debug("prefetch cancelled", "cached", n, "total", len(urls))
			return
		}
		p.logger.Debug("prefetch finished", "cached", n, "total", len(urls))
	}()
}

// stopPrefetch cancels any background prefetch and waits for it to exit
func (p *Player) stopPrefetch() {
	p.prefetchMu.Lock()
	if p.prefetch != nil {
		p.prefetch.cancel()
		p.prefetch = nil
	}
	p.prefetchDone = false
	p.prefetchMu.Unlock()

	p.prefetchWG.Wait()
}

func (p *Player) watchStorage(ctx context.Context) {
	ticker := time.NewTicker(StorageCheckInterval)
	defer ticker.Stop()

	for {
		if _, err := p.Cache.CheckStorage(); err != nil {
			p.logger.Warn("storage check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Player) decorateHeartbeat(hb *v1alpha1.HeartbeatRequest) {
	stats := p.Cache.Stats()
	hb.CacheBytes = stats.Bytes
	hb.CacheEntries = stats.Entries
	hb.ScheduleID = scheduleID(p.Engine.Configuration())
}

func (p *Player) onPlaybackEvent(ev v1alpha1.PlaybackEvent) {
	switch ev.Type {
	case v1alpha1.PlaybackEventItemSkipped:
		p.logger.Warn("item skipped", "sectionId", ev.SectionID, "itemId", ev.ItemID, "url", ev.URL, "error", ev.Error)
	default:
		p.logger.Debug("playback event", "type", ev.Type, "sectionId", ev.SectionID, "itemId", ev.ItemID, "index", ev.Index)
	}
}

// Status implements api.Controller
func (p *Player) Status(ctx context.Context) api.Status {
	st := api.Status{
		Version:   p.version,
		Pairing:   p.Pairing.Status(ctx),
		Paused:    p.Engine.Paused(),
		Sections:  p.Engine.Snapshot(),
		Cache:     p.Cache.Stats(),
		Renderers: p.Hub.Connections(),
	}
	if st.Sections == nil {
		st.Sections = []playback.SectionStatus{}
	}

	p.mu.RLock()
	if p.last != nil {
		at := p.last.FetchedAt
		st.Source = p.last.Source
		st.LastSync = &at
		st.ScheduleID = scheduleID(p.last.Config)
	}
	p.mu.RUnlock()

	return st
}

// CacheEntries implements api.Controller
func (p *Player) CacheEntries() []cache.Entry {
	return p.Cache.Entries()
}

// LookupMedia implements api.Controller
func (p *Player) LookupMedia(name string) (cache.Entry, bool) {
	return p.Cache.Lookup(name)
}

// PausePlayback implements api.Controller
func (p *Player) PausePlayback() {
	p.Engine.Pause()
}

// ResumePlayback implements api.Controller
func (p *Player) ResumePlayback() {
	p.Engine.Resume()
}

// TriggerSync implements api.Controller
func (p *Player) TriggerSync() {
	p.Sync.Trigger()
}

// Close releases playback and the identity backend
func (p *Player) Close() error {
	p.Engine.Release()
	return p.closeStore()
}

func (p *Player) closeStore() error {
	if p.ownStore && p.store != nil {
		return p.store.Close()
	}
	return nil
}

func scheduleID(cfg *v1alpha1.ActiveConfiguration) string {
	if cfg == nil || cfg.ActiveSchedule == nil {
		return ""
	}
	return cfg.ActiveSchedule.ID
}
