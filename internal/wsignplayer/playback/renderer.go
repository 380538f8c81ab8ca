package playback

import (
	"context"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
)

// Renderer puts frames on screen. Implementations must not call back into
// the engine synchronously from these methods.
type Renderer interface {
	// Show presents a frame in a section. token identifies this render in
	// later MEDIA_ENDED and MEDIA_ERROR notifications.
	Show(sectionID string, token uint64, frame v1alpha1.FramePayload) error
	Pause(sectionID string) error
	Resume(sectionID string) error
	Clear(sectionID string) error
	// SetOrientation is best effort
	SetOrientation(o v1alpha1.Orientation) error
}

// Resolver turns a remote media URL into a local path
type Resolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// EventFunc receives playback events
type EventFunc func(ev v1alpha1.PlaybackEvent)
