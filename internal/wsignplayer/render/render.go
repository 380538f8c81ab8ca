// Package render connects the playback engine to whatever draws pixels: a
// browser page over a websocket, or a log for headless operation.
package render

import (
	"log/slog"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/playback"
)

// Notifier receives renderer callbacks; the playback engine implements it
type Notifier interface {
	Notify(sectionID string, token uint64, event v1alpha1.RenderMessageType)
}

// LogRenderer records every frame in the log. It never reports media
// completion, so videos without a duration stay on screen.
type LogRenderer struct {
	logger *slog.Logger
}

var _ playback.Renderer = (*LogRenderer)(nil)

// NewLogRenderer creates a headless renderer
func NewLogRenderer(logger *slog.Logger) *LogRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRenderer{logger: logger.With("component", "renderer")}
}

func (r *LogRenderer) Show(sectionID string, token uint64, frame v1alpha1.FramePayload) error {
	r.logger.Info("show",
		"section", sectionID,
		"token", token,
		"item", frame.ItemID,
		"type", frame.MediaType,
		"uri", frame.URI,
		"loop", frame.Loop,
	)
	return nil
}

func (r *LogRenderer) Pause(sectionID string) error {
	r.logger.Info("pause", "section", sectionID)
	return nil
}

func (r *LogRenderer) Resume(sectionID string) error {
	r.logger.Info("resume", "section", sectionID)
	return nil
}

func (r *LogRenderer) Clear(sectionID string) error {
	r.logger.Info("clear", "section", sectionID)
	return nil
}

func (r *LogRenderer) SetOrientation(o v1alpha1.Orientation) error {
	r.logger.Info("orientation", "orientation", o)
	return nil
}

// Tee fans every call out to several renderers. The first error is returned
// after all renderers were called.
type Tee []playback.Renderer

var _ playback.Renderer = Tee(nil)

func (t Tee) each(fn func(r playback.Renderer) error) error {
	var first error
	for _, r := range t {
		if err := fn(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t Tee) Show(sectionID string, token uint64, frame v1alpha1.FramePayload) error {
	return t.each(func(r playback.Renderer) error { return r.Show(sectionID, token, frame) })
}

func (t Tee) Pause(sectionID string) error {
	return t.each(func(r playback.Renderer) error { return r.Pause(sectionID) })
}

func (t Tee) Resume(sectionID string) error {
	return t.each(func(r playback.Renderer) error { return r.Resume(sectionID) })
}

func (t Tee) Clear(sectionID string) error {
	return t.each(func(r playback.Renderer) error { return r.Clear(sectionID) })
}

func (t Tee) SetOrientation(o v1alpha1.Orientation) error {
	return t.each(func(r playback.Renderer) error { return r.SetOrientation(o) })
}
