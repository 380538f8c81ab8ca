package v1alpha1

import (
	"fmt"
	"net/url"
	"sort"
	"time"
)

// MediaType identifies how a media file is rendered
type MediaType string

const (
	// MediaTypeImage is a still image shown for a fixed duration
	MediaTypeImage MediaType = "IMAGE"
	// MediaTypeVideo is played by the platform media pipeline
	MediaTypeVideo MediaType = "VIDEO"
)

// ResizeMode controls how media is fitted into its section
type ResizeMode string

const (
	// ResizeFit letterboxes the media inside the section
	ResizeFit ResizeMode = "FIT"
	// ResizeFill crops the media to cover the section
	ResizeFill ResizeMode = "FILL"
	// ResizeStretch scales the media to the section ignoring aspect ratio
	ResizeStretch ResizeMode = "STRETCH"
)

// Orientation is a screen orientation hint
type Orientation string

const (
	// OrientationLandscape is the default wide orientation
	OrientationLandscape Orientation = "LANDSCAPE"
	// OrientationPortrait is a tall orientation
	OrientationPortrait Orientation = "PORTRAIT"
)

// Media is a remote media file referenced by items. It is immutable for a
// given configuration generation.
type Media struct {
	// ID identifies the media on the backend
	ID string `json:"id"`
	// Type is IMAGE or VIDEO
	Type MediaType `json:"type"`
	// URL is where the player downloads the file from
	URL string `json:"url"`
	// OriginalURL optionally points at the source upload
	OriginalURL string `json:"originalUrl,omitempty"`
	// Duration is the natural length in seconds, if known
	Duration *float64 `json:"duration,omitempty"`
	// MimeType is the content type reported by the backend
	MimeType string `json:"mimeType,omitempty"`
}

// Item is one entry of a playlist or a layout section
type Item struct {
	// ID identifies the item
	ID string `json:"id"`
	// Order positions the item within its parent
	Order int `json:"order"`
	// Duration overrides the media duration, in seconds
	Duration *float64 `json:"duration,omitempty"`
	// Orientation optionally requests a screen orientation while shown
	Orientation Orientation `json:"orientation,omitempty"`
	// ResizeMode defaults to FIT
	ResizeMode ResizeMode `json:"resizeMode,omitempty"`
	// Rotation is one of 0, 90, 180, 270
	Rotation int `json:"rotation,omitempty"`
	// Media is the file shown by this item
	Media Media `json:"media"`
}

// Geometry is a rectangle expressed as percentages of the screen
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FullScreen covers the whole display
var FullScreen = Geometry{X: 0, Y: 0, Width: 100, Height: 100}

// Section is an independently looping region of a layout
type Section struct {
	// ID identifies the section
	ID string `json:"id"`
	// Name is a human-readable label
	Name string `json:"name"`
	// Order resolves stacking between overlapping sections
	Order int `json:"order"`
	// Geometry places the section on screen
	Geometry `json:",inline"`
	// LoopEnabled restarts a single-item section when it completes
	LoopEnabled bool `json:"loopEnabled"`
	// ReplayFrequency is carried through for renderers that use it
	ReplayFrequency *int `json:"replayFrequency,omitempty"`
	// Items are played in Order
	Items []Item `json:"items"`
}

// Layout is a multi-section screen composition
type Layout struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Orientation Orientation `json:"orientation,omitempty"`
	Sections    []Section   `json:"sections"`
}

// Playlist is a flat ordered sequence of items
type Playlist struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// ActiveSchedule describes the schedule the backend resolved for a display
type ActiveSchedule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// ActiveConfiguration is the resolved unit of content delivered to a display.
// At most one of Layout and Playlist is authoritative.
type ActiveConfiguration struct {
	Playlist       *Playlist       `json:"playlist,omitempty"`
	Layout         *Layout         `json:"layout,omitempty"`
	ActiveSchedule *ActiveSchedule `json:"activeSchedule,omitempty"`
}

// IsEmpty reports whether there is nothing to play
func (c *ActiveConfiguration) IsEmpty() bool {
	return c == nil || (c.Layout == nil && c.Playlist == nil)
}

// MediaURLs returns the distinct media URLs of the authoritative content in
// play order. A Layout wins over a Playlist.
func (c *ActiveConfiguration) MediaURLs() []string {
	if c == nil {
		return nil
	}

	var items []Item
	switch {
	case c.Layout != nil:
		for _, s := range c.Layout.Sections {
			items = append(items, s.Items...)
		}
	case c.Playlist != nil:
		items = c.Playlist.Items
	}

	seen := make(map[string]bool, len(items))
	var urls []string
	for _, it := range items {
		if it.Media.URL == "" || seen[it.Media.URL] {
			continue
		}
		seen[it.Media.URL] = true
		urls = append(urls, it.Media.URL)
	}
	return urls
}

// Validate checks the configuration tree for structural errors
func (c *ActiveConfiguration) Validate() error {
	if c == nil {
		return nil
	}
	if c.Layout != nil {
		seen := make(map[string]bool, len(c.Layout.Sections))
		for i := range c.Layout.Sections {
			s := &c.Layout.Sections[i]
			if s.ID != "" {
				if seen[s.ID] {
					return &Error{Code: "InvalidSection", Message: fmt.Sprintf("section %s: duplicate id", s.ID)}
				}
				seen[s.ID] = true
			}
			if err := s.Validate(); err != nil {
				return err
			}
		}
	}
	if c.Playlist != nil {
		for i := range c.Playlist.Items {
			if err := c.Playlist.Items[i].Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks section geometry and its items
func (s *Section) Validate() error {
	for _, v := range []float64{s.X, s.Y, s.Width, s.Height} {
		if v < 0 || v > 100 {
			return &Error{Code: "InvalidSection", Message: fmt.Sprintf("section %s: geometry out of range", s.ID)}
		}
	}
	for i := range s.Items {
		if err := s.Items[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks presentation parameters and the media reference
func (it *Item) Validate() error {
	switch it.Rotation {
	case 0, 90, 180, 270:
	default:
		return &Error{Code: "InvalidItem", Message: fmt.Sprintf("item %s: invalid rotation %d", it.ID, it.Rotation)}
	}
	switch it.ResizeMode {
	case "", ResizeFit, ResizeFill, ResizeStretch:
	default:
		return &Error{Code: "InvalidItem", Message: fmt.Sprintf("item %s: invalid resize mode %q", it.ID, it.ResizeMode)}
	}
	switch it.Media.Type {
	case MediaTypeImage, MediaTypeVideo:
	default:
		return &Error{Code: "InvalidMedia", Message: fmt.Sprintf("item %s: invalid media type %q", it.ID, it.Media.Type)}
	}
	if _, err := url.ParseRequestURI(it.Media.URL); err != nil {
		return &Error{Code: "InvalidMedia", Message: fmt.Sprintf("item %s: invalid media URL", it.ID)}
	}
	return nil
}

// EffectiveResizeMode returns the resize mode, defaulting to FIT
func (it *Item) EffectiveResizeMode() ResizeMode {
	if it.ResizeMode == "" {
		return ResizeFit
	}
	return it.ResizeMode
}

// SortedItems returns a copy of items ordered by Order
func SortedItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// SortedSections returns a copy of sections ordered by Order
func SortedSections(sections []Section) []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Seconds converts an optional seconds value to a duration
func Seconds(v *float64) (time.Duration, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}
	return time.Duration(*v * float64(time.Second)), true
}
