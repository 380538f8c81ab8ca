package v1alpha1

// PairingCodeResponse is the backend's answer to a pairing code request
type PairingCodeResponse struct {
	// PairingCode is the human-readable code shown on screen (e.g., "AB12CD")
	PairingCode string `json:"pairingCode"`
	// DisplayID is the server-assigned identifier for this device
	DisplayID string `json:"displayId"`
}

// PairingStatusRequest asks whether a pairing code has been confirmed
type PairingStatusRequest struct {
	PairingCode string `json:"pairingCode"`
}

// PairingStatusResponse reports the confirmation state of a pairing code
type PairingStatusResponse struct {
	// IsPaired is true once an operator entered the code in the admin console
	IsPaired bool `json:"isPaired"`
	// DeviceToken is the bearer credential, set once paired
	DeviceToken string `json:"deviceToken,omitempty"`
	// DisplayID is optionally re-sent by the backend
	DisplayID string `json:"displayId,omitempty"`
}
