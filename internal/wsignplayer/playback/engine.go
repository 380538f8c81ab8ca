// Package playback walks a configuration's layout sections or playlist and
// decides what each screen region shows, for how long, and what comes next.
package playback

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
)

// DefaultImageDuration is used for images without an explicit duration
const DefaultImageDuration = 10 * time.Second

// DefaultErrorBackoff delays skipping past an item whose media failed
const DefaultErrorBackoff = time.Second

// Option configures an Engine
type Option func(*Engine)

// WithScheduler replaces the wall-clock scheduler
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) {
		e.sched = s
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDefaultImageDuration overrides DefaultImageDuration
func WithDefaultImageDuration(d time.Duration) Option {
	return func(e *Engine) {
		e.defaultImage = d
	}
}

// WithErrorBackoff overrides DefaultErrorBackoff
func WithErrorBackoff(d time.Duration) Option {
	return func(e *Engine) {
		e.errorBackoff = d
	}
}

// WithEventHandler receives every playback event
func WithEventHandler(fn EventFunc) Option {
	return func(e *Engine) {
		e.onEvent = fn
	}
}

// Engine runs one Section per screen region of the loaded configuration
type Engine struct {
	renderer     Renderer
	resolver     Resolver
	sched        Scheduler
	logger       *slog.Logger
	onEvent      EventFunc
	defaultImage time.Duration
	errorBackoff time.Duration
	spawn        func(func())
	tokens       atomic.Uint64

	mu       sync.Mutex
	config   *v1alpha1.ActiveConfiguration
	sections []*Section
	byID     map[string]*Section
	paused   bool
}

// NewEngine creates an engine with nothing loaded
func NewEngine(renderer Renderer, resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		renderer:     renderer,
		resolver:     resolver,
		sched:        SystemScheduler(),
		logger:       slog.Default(),
		defaultImage: DefaultImageDuration,
		errorBackoff: DefaultErrorBackoff,
		spawn:        func(f func()) { go f() },
		byID:         make(map[string]*Section),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load replaces the playing tree. Loading a configuration equal to the
// current one is a no-op so periodic syncs do not restart playback.
func (e *Engine) Load(cfg *v1alpha1.ActiveConfiguration) bool {
	e.mu.Lock()
	if reflect.DeepEqual(e.config, cfg) && e.config != nil {
		e.mu.Unlock()
		return false
	}

	old := e.sections
	e.sections = nil
	e.byID = make(map[string]*Section)
	e.config = cfg
	e.mu.Unlock()

	for _, s := range old {
		s.Release()
	}

	sections, orientation := e.build(cfg)

	if orientation != "" {
		if err := e.renderer.SetOrientation(orientation); err != nil {
			e.logger.Warn("layout orientation change failed", "error", err, "orientation", orientation)
		}
	}

	e.mu.Lock()
	e.sections = sections
	for _, s := range sections {
		e.byID[s.id] = s
	}
	paused := e.paused
	e.mu.Unlock()

	e.emit(v1alpha1.PlaybackEvent{Type: v1alpha1.PlaybackEventConfigurationLoaded, Timestamp: e.sched.Now()})
	e.logger.Info("configuration loaded", "sections", len(sections), "schedule", scheduleID(cfg))

	for _, s := range sections {
		if paused {
			s.startPaused()
			continue
		}
		s.Start()
	}
	return true
}

func (e *Engine) build(cfg *v1alpha1.ActiveConfiguration) ([]*Section, v1alpha1.Orientation) {
	if cfg.IsEmpty() {
		return nil, ""
	}

	deps := sectionDeps{
		renderer:     e.renderer,
		resolver:     e.resolver,
		sched:        e.sched,
		logger:       e.logger,
		emit:         e.emit,
		tokens:       &e.tokens,
		spawn:        e.spawn,
		defaultImage: e.defaultImage,
		errorBackoff: e.errorBackoff,
	}

	if cfg.Layout != nil {
		if cfg.Playlist != nil {
			e.logger.Warn("configuration has both layout and playlist, using layout",
				"layout", cfg.Layout.ID, "playlist", cfg.Playlist.ID)
		}
		var out []*Section
		used := make(map[string]bool, len(cfg.Layout.Sections))
		for i, sec := range v1alpha1.SortedSections(cfg.Layout.Sections) {
			id := sec.ID
			if id == "" {
				id = fmt.Sprintf("section-%d", i)
			}
			// renderer events are routed by section id
			for base, n := id, 1; used[id]; n++ {
				id = fmt.Sprintf("%s~%d", base, n)
			}
			used[id] = true
			out = append(out, newSection(id, sec.Geometry, i, sec.LoopEnabled, sec.Items, deps))
		}
		return out, cfg.Layout.Orientation
	}

	id := cfg.Playlist.ID
	if id == "" {
		id = "playlist"
	}
	return []*Section{newSection(id, v1alpha1.FullScreen, 0, true, cfg.Playlist.Items, deps)}, ""
}

// Pause suspends every section
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	sections := e.sections
	e.mu.Unlock()

	for _, s := range sections {
		s.Pause()
	}
}

// Resume continues every section
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	sections := e.sections
	e.mu.Unlock()

	for _, s := range sections {
		s.Resume()
	}
}

// Paused reports whether playback is suspended
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Release tears everything down. The engine can be loaded again afterwards.
func (e *Engine) Release() {
	e.mu.Lock()
	sections := e.sections
	e.sections = nil
	e.byID = make(map[string]*Section)
	e.config = nil
	e.mu.Unlock()

	for _, s := range sections {
		s.Release()
	}
}

// Notify delivers a renderer callback for the render identified by token
func (e *Engine) Notify(sectionID string, token uint64, event v1alpha1.RenderMessageType) {
	e.mu.Lock()
	s := e.byID[sectionID]
	e.mu.Unlock()

	if s == nil {
		e.logger.Debug("renderer event for unknown section", "section", sectionID, "event", event)
		return
	}

	switch event {
	case v1alpha1.RenderMessageMediaEnded:
		s.Handle(TriggerMediaEnded, token)
	case v1alpha1.RenderMessageMediaError:
		s.Handle(TriggerMediaError, token)
	default:
		e.logger.Debug("ignoring renderer event", "section", sectionID, "event", event)
	}
}

// Snapshot reports every section's state
func (e *Engine) Snapshot() []SectionStatus {
	e.mu.Lock()
	sections := e.sections
	e.mu.Unlock()

	out := make([]SectionStatus, 0, len(sections))
	for _, s := range sections {
		out = append(out, s.Status())
	}
	return out
}

// Configuration returns the loaded configuration
func (e *Engine) Configuration() *v1alpha1.ActiveConfiguration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

func (e *Engine) emit(ev v1alpha1.PlaybackEvent) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

func scheduleID(cfg *v1alpha1.ActiveConfiguration) string {
	if cfg == nil || cfg.ActiveSchedule == nil {
		return ""
	}
	return cfg.ActiveSchedule.ID
}
