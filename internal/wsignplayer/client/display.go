package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
)

func displayPath(displayID, suffix string) string {
	return "/api/v1alpha1/displays/" + url.PathEscape(displayID) + "/" + suffix
}

// DisplayStatus re-validates a stored identity. The token is optional.
func (c *Client) DisplayStatus(ctx context.Context, displayID, token string) (*v1alpha1.DisplayStatusResponse, error) {
	const op = "Client.DisplayStatus"

	if displayID == "" {
		return nil, errors.NewError("INVALID_INPUT", "display id is required", op, errors.ErrInvalidInput)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, displayPath(displayID, "status"), token, nil)
	if err != nil {
		return nil, err
	}

	var out v1alpha1.DisplayStatusResponse
	if err := c.decodeResponse(ctx, op, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchConfiguration downloads the active configuration for a display
func (c *Client) FetchConfiguration(ctx context.Context, displayID, token string) (*v1alpha1.ActiveConfiguration, error) {
	const op = "Client.FetchConfiguration"

	if displayID == "" || token == "" {
		return nil, errors.NewError("NOT_PAIRED", "display id and token are required", op, errors.ErrNotPaired)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, displayPath(displayID, "configuration"), token, nil)
	if err != nil {
		return nil, err
	}

	var out v1alpha1.ActiveConfiguration
	if err := c.decodeResponse(ctx, op, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendHeartbeat reports liveness for a paired display
func (c *Client) SendHeartbeat(ctx context.Context, token string, hb *v1alpha1.HeartbeatRequest) error {
	const op = "Client.SendHeartbeat"

	if hb == nil || hb.DisplayID == "" || token == "" {
		return errors.NewError("NOT_PAIRED", "display id and token are required", op, errors.ErrNotPaired)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, displayPath(hb.DisplayID, "heartbeat"), token, hb)
	if err != nil {
		return err
	}
	return c.decodeResponse(ctx, op, resp, nil)
}
