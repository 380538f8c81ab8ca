package v1alpha1

import (
	"time"
)

// Location is the last known physical position of a device
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// DisplayStatusResponse is used to re-validate stored identity on cold start
type DisplayStatusResponse struct {
	// DisplayID echoes the queried display
	DisplayID string `json:"displayId"`
	// IsPaired is true when the display is bound to an account
	IsPaired bool `json:"isPaired"`
	// TokenValid reports whether the presented token is still accepted
	TokenValid bool `json:"tokenValid"`
}

// HeartbeatRequest is the liveness signal a paired display sends periodically
type HeartbeatRequest struct {
	// DisplayID identifies the sender
	DisplayID string `json:"displayId"`
	// Timestamp is the device clock at send time
	Timestamp time.Time `json:"timestamp"`
	// Version is the player build version
	Version string `json:"version,omitempty"`
	// Location is the last known location, if any
	Location *Location `json:"location,omitempty"`
	// CacheBytes is the total size of cached media
	CacheBytes int64 `json:"cacheBytes"`
	// CacheEntries is the number of cached media files
	CacheEntries int `json:"cacheEntries"`
	// ScheduleID is the active schedule currently rendered
	ScheduleID string `json:"scheduleId,omitempty"`
}
