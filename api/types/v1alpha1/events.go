package v1alpha1

import (
	"time"
)

// PlaybackEventType represents types of playback events
type PlaybackEventType string

const (
	// PlaybackEventItemStarted indicates an item began rendering
	PlaybackEventItemStarted PlaybackEventType = "ITEM_STARTED"
	// PlaybackEventItemSkipped indicates an item was skipped because its media failed
	PlaybackEventItemSkipped PlaybackEventType = "ITEM_SKIPPED"
	// PlaybackEventSectionIdle indicates a single-item section stopped advancing
	PlaybackEventSectionIdle PlaybackEventType = "SECTION_IDLE"
	// PlaybackEventConfigurationLoaded indicates a new content tree was loaded
	PlaybackEventConfigurationLoaded PlaybackEventType = "CONFIGURATION_LOADED"
)

// PlaybackEvent is reported by the playback engine for operators
type PlaybackEvent struct {
	// Type indicates what kind of event occurred
	Type PlaybackEventType `json:"type"`
	// SectionID identifies the section, if any
	SectionID string `json:"sectionId,omitempty"`
	// ItemID identifies the item, if any
	ItemID string `json:"itemId,omitempty"`
	// Index is the item position within the section
	Index int `json:"index"`
	// URL identifies the media involved
	URL string `json:"url,omitempty"`
	// Error contains failure details if applicable
	Error string `json:"error,omitempty"`
	// Timestamp records when the event occurred
	Timestamp time.Time `json:"timestamp"`
}
