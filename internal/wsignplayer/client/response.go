package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
)

// decodeResponse decodes a JSON response into the provided target and
// closes the body
func (c *Client) decodeResponse(ctx context.Context, op string, resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if err := c.handleResponse(ctx, op, resp); err != nil {
		return err
	}
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return errors.NewError("DECODE_FAILED", "error decoding response", op, joinUnavailable(err))
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return nil
}

// handleResponse maps a non-2xx status onto the error taxonomy. Every 401
// is reported to the unauthorized handler before returning.
func (c *Client) handleResponse(ctx context.Context, op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := errorMessage(resp)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.unauthorized(ctx)
		return errors.NewError("UNAUTHORIZED", msg, op, errors.ErrUnauthorized)
	case http.StatusNotFound:
		return errors.NewError("NOT_FOUND", msg, op, errors.ErrNotFound)
	case http.StatusGone:
		return errors.NewError("CODE_EXPIRED", msg, op, errors.ErrCodeExpired)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return errors.NewError("INVALID_INPUT", msg, op, errors.ErrInvalidInput)
	default:
		return errors.NewError("UNAVAILABLE", msg, op, errors.ErrUnavailable)
	}
}

func errorMessage(resp *http.Response) string {
	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr); err != nil || apiErr.Message == "" {
		return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, apiErr.Message)
}
