package client

import (
	"context"
	"net/http"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
)

// RequestPairingCode asks the backend for a fresh pairing code
func (c *Client) RequestPairingCode(ctx context.Context) (*v1alpha1.PairingCodeResponse, error) {
	const op = "Client.RequestPairingCode"

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1alpha1/pairing/code", "", nil)
	if err != nil {
		return nil, err
	}

	var out v1alpha1.PairingCodeResponse
	if err := c.decodeResponse(ctx, op, resp, &out); err != nil {
		return nil, err
	}
	if out.PairingCode == "" || out.DisplayID == "" {
		return nil, errors.NewError("DECODE_FAILED", "pairing response missing code or display id", op, errors.ErrUnavailable)
	}
	return &out, nil
}

// CheckPairingStatus polls whether the pairing code was confirmed
func (c *Client) CheckPairingStatus(ctx context.Context, code string) (*v1alpha1.PairingStatusResponse, error) {
	const op = "Client.CheckPairingStatus"

	if code == "" {
		return nil, errors.NewError("INVALID_INPUT", "pairing code is required", op, errors.ErrInvalidInput)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1alpha1/pairing/status", "", &v1alpha1.PairingStatusRequest{PairingCode: code})
	if err != nil {
		return nil, err
	}

	var out v1alpha1.PairingStatusResponse
	if err := c.decodeResponse(ctx, op, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
