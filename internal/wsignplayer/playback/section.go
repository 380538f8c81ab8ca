package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
)

// State is a section's playback state
type State string

const (
	StateIdle     State = "IDLE"
	StatePlaying  State = "PLAYING"
	StatePaused   State = "PAUSED"
	StateReleased State = "RELEASED"
)

// Trigger is an input to the section state machine
type Trigger int

const (
	// TriggerStart begins playback at the first item
	TriggerStart Trigger = iota
	// TriggerTimer fires when an item's display time is up
	TriggerTimer
	// TriggerMediaEnded is reported by the renderer at a video's natural end
	TriggerMediaEnded
	// TriggerMediaError is reported by the renderer when media cannot play
	TriggerMediaError
	// TriggerResolveFailed fires after the error backoff when media could
	// not be resolved
	TriggerResolveFailed
	TriggerPause
	TriggerResume
	TriggerRelease
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerTimer:
		return "timer"
	case TriggerMediaEnded:
		return "media-ended"
	case TriggerMediaError:
		return "media-error"
	case TriggerResolveFailed:
		return "resolve-failed"
	case TriggerPause:
		return "pause"
	case TriggerResume:
		return "resume"
	case TriggerRelease:
		return "release"
	default:
		return "unknown"
	}
}

// SectionStatus is a point-in-time view of a section
type SectionStatus struct {
	ID     string `json:"id"`
	State  State  `json:"state"`
	Index  int    `json:"index"`
	ItemID string `json:"itemId,omitempty"`
	Items  int    `json:"items"`
}

type sectionDeps struct {
	renderer     Renderer
	resolver     Resolver
	sched        Scheduler
	logger       *slog.Logger
	emit         EventFunc
	tokens       *atomic.Uint64
	spawn        func(func())
	defaultImage time.Duration
	errorBackoff time.Duration
}

// Section drives one independently looping region
type Section struct {
	id       string
	geometry v1alpha1.Geometry
	zIndex   int
	loop     bool
	items    []v1alpha1.Item
	deps     sectionDeps

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	index     int
	token     uint64
	stop      func() bool
	deadline  time.Time
	remaining time.Duration
	armed     Trigger
	idle      bool
}

func newSection(id string, geometry v1alpha1.Geometry, zIndex int, loop bool, items []v1alpha1.Item, deps sectionDeps) *Section {
	ctx, cancel := context.WithCancel(context.Background())
	return &Section{
		id:       id,
		geometry: geometry,
		zIndex:   zIndex,
		loop:     loop,
		items:    v1alpha1.SortedItems(items),
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
	}
}

// ID returns the section id
func (s *Section) ID() string { return s.id }

// Start begins playback at the first item
func (s *Section) Start() { s.Handle(TriggerStart, 0) }

// startPaused shows the first item but holds its timer until Resume
func (s *Section) startPaused() {
	s.mu.Lock()
	var job *renderJob
	switch {
	case s.state != StateIdle:
	case len(s.items) == 0:
		s.markIdle()
	default:
		job = s.render(0)
		s.state = StatePaused
	}
	s.mu.Unlock()

	if job != nil {
		s.deps.spawn(func() { s.resolveAndShow(*job) })
	}
}

// Advance moves to the next item as if the current one finished
func (s *Section) Advance() { s.Handle(TriggerTimer, s.currentToken()) }

// OnMediaError skips the current item
func (s *Section) OnMediaError() { s.Handle(TriggerMediaError, s.currentToken()) }

// Pause suspends playback keeping the current item
func (s *Section) Pause() { s.Handle(TriggerPause, 0) }

// Resume continues playback with the remaining display time
func (s *Section) Resume() { s.Handle(TriggerResume, 0) }

// Release tears the section down. It is idempotent.
func (s *Section) Release() { s.Handle(TriggerRelease, 0) }

// Status returns a snapshot of the section
func (s *Section) Status() SectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SectionStatus{ID: s.id, State: s.state, Index: s.index, Items: len(s.items)}
	if s.state == StatePlaying || s.state == StatePaused {
		st.ItemID = s.items[s.index].ID
	}
	return st
}

func (s *Section) currentToken() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

type renderJob struct {
	token uint64
	index int
	item  v1alpha1.Item
}

// Handle is the single transition function. token must match the current
// render for item-completion triggers; anything else is stale and ignored.
func (s *Section) Handle(trigger Trigger, token uint64) {
	s.mu.Lock()
	job := s.transition(trigger, token)
	s.mu.Unlock()

	if job != nil {
		s.deps.spawn(func() { s.resolveAndShow(*job) })
	}
}

func (s *Section) transition(trigger Trigger, token uint64) *renderJob {
	switch trigger {
	case TriggerStart:
		if s.state != StateIdle || len(s.items) == 0 {
			if len(s.items) == 0 {
				s.markIdle()
			}
			return nil
		}
		s.state = StatePlaying
		return s.render(0)

	case TriggerTimer, TriggerMediaEnded, TriggerMediaError, TriggerResolveFailed:
		if token != s.token {
			s.deps.logger.Debug("ignoring stale trigger", "section", s.id, "trigger", trigger.String(), "token", token, "current", s.token)
			return nil
		}
		if s.state != StatePlaying {
			return nil
		}
		return s.advance(trigger)

	case TriggerPause:
		if s.state != StatePlaying {
			return nil
		}
		s.state = StatePaused
		if s.stop != nil {
			s.stop()
			s.stop = nil
			s.remaining = s.deadline.Sub(s.deps.sched.Now())
			if s.remaining <= 0 {
				s.remaining = time.Nanosecond
			}
		}
		s.call("pause", s.deps.renderer.Pause(s.id))
		return nil

	case TriggerResume:
		if s.state != StatePaused {
			return nil
		}
		s.state = StatePlaying
		s.call("resume", s.deps.renderer.Resume(s.id))
		if s.remaining > 0 {
			d := s.remaining
			s.remaining = 0
			s.arm(d, s.armed)
		}
		return nil

	case TriggerRelease:
		if s.state == StateReleased {
			return nil
		}
		s.cancelTimer()
		s.cancel()
		s.state = StateReleased
		s.token = 0
		s.call("clear", s.deps.renderer.Clear(s.id))
		return nil
	}
	return nil
}

func (s *Section) advance(trigger Trigger) *renderJob {
	n := len(s.items)
	if n > 1 {
		if trigger == TriggerMediaError {
			s.emitEvent(v1alpha1.PlaybackEventItemSkipped, s.index, "")
		}
		return s.render((s.index + 1) % n)
	}

	// A single item whose media never resolved has nothing on screen yet,
	// so it is retried rather than left idle.
	if s.loop || trigger == TriggerResolveFailed {
		return s.render(0)
	}
	s.cancelTimer()
	s.markIdle()
	return nil
}

// render bumps the token and prepares a job for the item at index
func (s *Section) render(index int) *renderJob {
	s.cancelTimer()
	s.remaining = 0
	s.idle = false
	s.index = index
	s.token = s.deps.tokens.Add(1)
	return &renderJob{token: s.token, index: index, item: s.items[index]}
}

func (s *Section) resolveAndShow(job renderJob) {
	item := job.item

	if item.Orientation != "" {
		if err := s.deps.renderer.SetOrientation(item.Orientation); err != nil {
			s.deps.logger.Warn("orientation change failed", "error", err, "section", s.id, "orientation", item.Orientation)
		}
	}

	localPath, err := s.deps.resolver.Resolve(s.ctx, item.Media.URL)

	s.mu.Lock()
	defer s.mu.Unlock()

	if job.token != s.token || s.state == StateReleased {
		return
	}
	if err != nil {
		s.deps.logger.Warn("media unavailable, skipping item", "error", err, "section", s.id, "item", item.ID, "url", item.Media.URL)
		s.emitEvent(v1alpha1.PlaybackEventItemSkipped, job.index, err.Error())
		s.arm(s.deps.errorBackoff, TriggerResolveFailed)
		return
	}

	single := len(s.items) == 1
	frame := v1alpha1.FramePayload{
		Geometry:   s.geometry,
		ZIndex:     s.zIndex,
		ItemID:     item.ID,
		MediaType:  item.Media.Type,
		MimeType:   item.Media.MimeType,
		URI:        localPath,
		Rotation:   item.Rotation,
		ResizeMode: item.EffectiveResizeMode(),
		Loop:       item.Media.Type == v1alpha1.MediaTypeVideo && single && s.loop,
	}

	if err := s.deps.renderer.Show(s.id, job.token, frame); err != nil {
		s.deps.logger.Warn("renderer rejected frame, skipping item", "error", err, "section", s.id, "item", item.ID)
		s.emitEvent(v1alpha1.PlaybackEventItemSkipped, job.index, err.Error())
		s.arm(s.deps.errorBackoff, TriggerResolveFailed)
		return
	}
	if s.state == StatePaused {
		s.call("pause", s.deps.renderer.Pause(s.id))
	}
	s.emitEvent(v1alpha1.PlaybackEventItemStarted, job.index, "")

	if d, ok := s.displayTime(item, frame.Loop); ok {
		s.arm(d, TriggerTimer)
	}
}

// displayTime returns how long an item stays up before the timer advances.
// Videos without an explicit duration advance on MEDIA_ENDED instead; with
// one, whichever comes first wins.
func (s *Section) displayTime(item v1alpha1.Item, looping bool) (time.Duration, bool) {
	switch item.Media.Type {
	case v1alpha1.MediaTypeVideo:
		if looping {
			return 0, false
		}
		return v1alpha1.Seconds(item.Duration)
	default:
		if d, ok := v1alpha1.Seconds(item.Duration); ok {
			return d, true
		}
		if d, ok := v1alpha1.Seconds(item.Media.Duration); ok {
			return d, true
		}
		return s.deps.defaultImage, true
	}
}

// arm replaces the pending timer. While paused the delay is held until
// Resume.
func (s *Section) arm(d time.Duration, trigger Trigger) {
	s.cancelTimer()
	s.armed = trigger
	if s.state == StatePaused {
		s.remaining = max(d, time.Nanosecond)
		return
	}
	token := s.token
	s.deadline = s.deps.sched.Now().Add(d)
	s.stop = s.deps.sched.AfterFunc(d, func() { s.Handle(trigger, token) })
}

func (s *Section) cancelTimer() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

func (s *Section) markIdle() {
	if s.idle {
		return
	}
	s.idle = true
	s.emitEvent(v1alpha1.PlaybackEventSectionIdle, s.index, "")
}

func (s *Section) emitEvent(t v1alpha1.PlaybackEventType, index int, errText string) {
	if s.deps.emit == nil {
		return
	}
	ev := v1alpha1.PlaybackEvent{
		Type:      t,
		SectionID: s.id,
		Index:     index,
		Error:     errText,
		Timestamp: s.deps.sched.Now(),
	}
	if index < len(s.items) {
		ev.ItemID = s.items[index].ID
		ev.URL = s.items[index].Media.URL
	}
	s.deps.emit(ev)
}

func (s *Section) call(action string, err error) {
	if err != nil {
		s.deps.logger.Warn("renderer call failed", "error", err, "section", s.id, "action", action)
	}
}
