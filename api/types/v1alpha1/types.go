// Package v1alpha1 contains API types exchanged between the signage backend,
// the player and its renderers.
package v1alpha1

// APIVersion is the version string stamped into TypeMeta
const APIVersion = "v1alpha1"

// TypeMeta describes an individual object's type and API version
type TypeMeta struct {
	// Kind is a string value representing the type of this object
	Kind string `json:"kind,omitempty"`
	// APIVersion defines the versioned schema of this object
	APIVersion string `json:"apiVersion,omitempty"`
}

// Error is returned by type validation
type Error struct {
	// Code is a machine-readable error code
	Code string `json:"code"`
	// Message is a human-readable description
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
