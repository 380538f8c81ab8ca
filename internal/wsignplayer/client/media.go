package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
)

// Download is an open media response body
type Download struct {
	// Body streams the media bytes; the caller must close it
	Body io.ReadCloser
	// Size is the Content-Length, or -1 when unknown
	Size int64
	// ContentType is the reported media type
	ContentType string
}

// FetchMedia opens a plain GET on a media URL. Media URLs are absolute and
// usually served by a CDN, so no credentials are attached.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string) (*Download, error) {
	const op = "Client.FetchMedia"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, errors.NewError("INVALID_INPUT", "invalid media URL", op, errors.ErrInvalidInput)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.mediaClient.Do(req)
	if err != nil {
		return nil, errors.NewError("UNAVAILABLE", fmt.Sprintf("download of %s failed", mediaURL), op, joinUnavailable(err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return nil, errors.NewError("NOT_FOUND", fmt.Sprintf("HTTP %d for %s", resp.StatusCode, mediaURL), op, errors.ErrNotFound)
		}
		return nil, errors.NewError("UNAVAILABLE", fmt.Sprintf("HTTP %d for %s", resp.StatusCode, mediaURL), op, errors.ErrUnavailable)
	}

	return &Download{
		Body:        resp.Body,
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
