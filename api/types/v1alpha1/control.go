package v1alpha1

import "time"

// RenderMessageType defines types of messages exchanged with a renderer
type RenderMessageType string

const (
	// RenderMessageShow asks the renderer to present media in a section
	RenderMessageShow RenderMessageType = "SHOW"
	// RenderMessagePause suspends playback in a section
	RenderMessagePause RenderMessageType = "PAUSE"
	// RenderMessageResume resumes playback in a section
	RenderMessageResume RenderMessageType = "RESUME"
	// RenderMessageClear removes a section from screen
	RenderMessageClear RenderMessageType = "CLEAR"
	// RenderMessageOrientation requests a screen orientation change
	RenderMessageOrientation RenderMessageType = "ORIENTATION"
	// RenderMessageMediaEnded is sent by the renderer when a video reaches its end
	RenderMessageMediaEnded RenderMessageType = "MEDIA_ENDED"
	// RenderMessageMediaError is sent by the renderer when media cannot be played
	RenderMessageMediaError RenderMessageType = "MEDIA_ERROR"
)

// RenderMessage is the envelope used on the renderer WebSocket
type RenderMessage struct {
	// TypeMeta describes API version details
	TypeMeta `json:",inline"`
	// Type indicates the kind of message
	Type RenderMessageType `json:"type"`
	// SectionID is the section the message applies to
	SectionID string `json:"sectionId,omitempty"`
	// Token identifies the render a renderer event refers to
	Token uint64 `json:"token,omitempty"`
	// Frame carries presentation details for SHOW
	Frame *FramePayload `json:"frame,omitempty"`
	// Orientation carries the requested orientation for ORIENTATION
	Orientation Orientation `json:"orientation,omitempty"`
	// Error carries renderer-side error details for MEDIA_ERROR
	Error *RenderError `json:"error,omitempty"`
	// Timestamp indicates when the message was created
	Timestamp time.Time `json:"timestamp"`
}

// FramePayload is the presentation of one item in one section
type FramePayload struct {
	Geometry   Geometry   `json:"geometry"`
	ZIndex     int        `json:"zIndex"`
	ItemID     string     `json:"itemId"`
	MediaType  MediaType  `json:"mediaType"`
	MimeType   string     `json:"mimeType,omitempty"`
	URI        string     `json:"uri"`
	Rotation   int        `json:"rotation"`
	ResizeMode ResizeMode `json:"resizeMode"`
	Loop       bool       `json:"loop"`
}

// RenderError represents a renderer-side failure
type RenderError struct {
	// Code provides error classification
	Code string `json:"code"`
	// Message provides error details
	Message string `json:"message"`
}
