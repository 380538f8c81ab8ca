// Package pairing binds a display to an account with a short human-readable
// code and keeps track of whether the resulting device token is still valid.
package pairing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/client"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/identity"
)

// State is the pairing lifecycle state
type State string

const (
	StateUnpaired             State = "UNPAIRED"
	StateCodeRequested        State = "CODE_REQUESTED"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StatePaired               State = "PAIRED"
)

var messages = map[State]string{
	StateUnpaired:             "This display is not paired.",
	StateCodeRequested:        "Enter the pairing code in the admin console.",
	StateAwaitingConfirmation: "Waiting for the pairing code to be confirmed.",
	StatePaired:               "This display is paired.",
}

// API is the subset of the backend client used for pairing
type API interface {
	RequestPairingCode(ctx context.Context) (*v1alpha1.PairingCodeResponse, error)
	CheckPairingStatus(ctx context.Context, code string) (*v1alpha1.PairingStatusResponse, error)
	DisplayStatus(ctx context.Context, displayID, token string) (*v1alpha1.DisplayStatusResponse, error)
	OnUnauthorized(fn client.UnauthorizedFunc)
}

// Status is an operator-facing snapshot. Message never carries raw error text.
type Status struct {
	State       State  `json:"state"`
	PairingCode string `json:"pairingCode,omitempty"`
	DisplayID   string `json:"displayId,omitempty"`
	Message     string `json:"message"`
}

// Client drives the pairing state machine
type Client struct {
	api    API
	store  *identity.Store
	logger *slog.Logger

	// opMu serializes network operations; mu guards state only, so the
	// unauthorized hook can run while an operation is in flight.
	opMu sync.Mutex

	mu          sync.RWMutex
	state       State
	subscribers []chan State
}

// NewClient creates a pairing client and registers Deauthenticate as the
// API's single unauthorized handler.
func NewClient(api API, store *identity.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		api:    api,
		store:  store,
		logger: logger,
		state:  StateUnpaired,
	}
	api.OnUnauthorized(func(ctx context.Context) {
		if err := c.Deauthenticate(ctx); err != nil {
			c.logger.Error("failed to clear identity after unauthorized response", "error", err)
		}
	})
	return c
}

// State returns the current state
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns the operator-facing snapshot
func (c *Client) Status(ctx context.Context) Status {
	st := Status{State: c.State()}
	st.Message = messages[st.State]

	id, err := c.store.Get(ctx)
	if err != nil {
		c.logger.Warn("failed to read identity for status", "error", err)
		return st
	}
	st.DisplayID = id.DisplayID
	if st.State == StateCodeRequested || st.State == StateAwaitingConfirmation {
		st.PairingCode = id.PairingCode
	}
	return st
}

// Subscribe returns a channel receiving state changes. Slow subscribers only
// see the most recent state.
func (c *Client) Subscribe() <-chan State {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan State, 1)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

func (c *Client) setState(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == next {
		return
	}
	c.logger.Info("pairing state changed", "from", c.state, "to", next)
	c.state = next

	for _, ch := range c.subscribers {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}
}

// Check re-validates a stored identity on cold start
func (c *Client) Check(ctx context.Context) (State, error) {
	const op = "PairingClient.Check"

	c.opMu.Lock()
	defer c.opMu.Unlock()

	id, err := c.store.Get(ctx)
	if err != nil {
		return c.State(), errors.NewError("CHECK_FAILED", "Failed to read identity", op, err)
	}
	if id.DisplayID == "" {
		c.setState(StateUnpaired)
		return StateUnpaired, nil
	}

	resp, err := c.api.DisplayStatus(ctx, id.DisplayID, id.DeviceToken)
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		c.logger.Warn("display no longer exists on the backend", "displayId", id.DisplayID)
		if err := c.Deauthenticate(ctx); err != nil {
			return c.State(), err
		}
		return StateUnpaired, nil
	case errors.IsUnauthorized(err):
		return c.State(), err
	default:
		// Offline: trust what was persisted until the server says otherwise
		resumed := resumeState(id)
		c.setState(resumed)
		if resumed == StatePaired {
			c.logger.Warn("backend unreachable, continuing with stored token", "error", err, "displayId", id.DisplayID)
			return resumed, nil
		}
		return resumed, err
	}

	if id.DeviceToken != "" {
		if resp.IsPaired && resp.TokenValid {
			c.setState(StatePaired)
			return StatePaired, nil
		}
		c.logger.Warn("stored token rejected by backend", "displayId", id.DisplayID)
		if err := c.Deauthenticate(ctx); err != nil {
			return c.State(), err
		}
		return StateUnpaired, nil
	}

	resumed := resumeState(id)
	c.setState(resumed)
	return resumed, nil
}

func resumeState(id identity.Identity) State {
	switch {
	case id.DeviceToken != "":
		return StatePaired
	case id.PairingCode != "":
		return StateAwaitingConfirmation
	default:
		return StateUnpaired
	}
}

// RequestCode obtains a fresh pairing code
func (c *Client) RequestCode(ctx context.Context) (string, error) {
	const op = "PairingClient.RequestCode"

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if st := c.State(); st != StateUnpaired {
		return "", errors.NewError("INVALID_STATE", "pairing code can only be requested when unpaired", op, errors.ErrInvalidInput)
	}

	resp, err := c.api.RequestPairingCode(ctx)
	if err != nil {
		return "", errors.NewError("REQUEST_FAILED", "Failed to request pairing code", op, err)
	}
	if err := c.store.SetPairing(ctx, resp.DisplayID, resp.PairingCode); err != nil {
		return "", errors.NewError("REQUEST_FAILED", "Failed to persist pairing code", op, err)
	}

	c.logger.Info("pairing code issued", "displayId", resp.DisplayID, "pairingCode", resp.PairingCode)
	c.setState(StateCodeRequested)
	return resp.PairingCode, nil
}

// Poll asks whether the pairing code was confirmed
func (c *Client) Poll(ctx context.Context) (State, error) {
	const op = "PairingClient.Poll"

	c.opMu.Lock()
	defer c.opMu.Unlock()

	st := c.State()
	if st != StateCodeRequested && st != StateAwaitingConfirmation {
		return st, errors.NewError("INVALID_STATE", "no pairing code is outstanding", op, errors.ErrInvalidInput)
	}

	id, err := c.store.Get(ctx)
	if err != nil {
		return st, errors.NewError("POLL_FAILED", "Failed to read identity", op, err)
	}
	if id.PairingCode == "" {
		c.setState(StateUnpaired)
		return StateUnpaired, errors.NewError("POLL_FAILED", "pairing code missing", op, errors.ErrNotPaired)
	}

	resp, err := c.api.CheckPairingStatus(ctx, id.PairingCode)
	switch {
	case err == nil:
	case errors.IsCodeExpired(err):
		c.logger.Info("pairing code expired", "pairingCode", id.PairingCode)
		if cerr := c.Deauthenticate(ctx); cerr != nil {
			return c.State(), cerr
		}
		return StateUnpaired, err
	case errors.IsUnauthorized(err):
		return c.State(), err
	default:
		return st, err
	}

	if !resp.IsPaired {
		c.setState(StateAwaitingConfirmation)
		return StateAwaitingConfirmation, nil
	}
	if resp.DeviceToken == "" {
		c.logger.Warn("backend reported paired without a token", "displayId", id.DisplayID)
		c.setState(StateAwaitingConfirmation)
		return StateAwaitingConfirmation, nil
	}

	if err := c.store.SetToken(ctx, resp.DeviceToken, resp.DisplayID); err != nil {
		return st, errors.NewError("POLL_FAILED", "Failed to persist device token", op, err)
	}
	c.logger.Info("display paired", "displayId", firstNonEmpty(resp.DisplayID, id.DisplayID))
	c.setState(StatePaired)
	return StatePaired, nil
}

// Deauthenticate forgets the display id, pairing code and token. The last
// good configuration stays so playback can continue offline.
func (c *Client) Deauthenticate(ctx context.Context) error {
	const op = "PairingClient.Deauthenticate"

	if err := c.store.ClearSession(ctx); err != nil {
		return errors.NewError("DEAUTH_FAILED", "Failed to clear identity", op, err)
	}
	c.setState(StateUnpaired)
	return nil
}

// Run drives the lifecycle until the display is paired or ctx is done
func (c *Client) Run(ctx context.Context, interval time.Duration) error {
	if _, err := c.Check(ctx); err != nil {
		c.logger.Warn("identity check failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		switch c.State() {
		case StatePaired:
			return nil
		case StateUnpaired:
			if _, err := c.RequestCode(ctx); err != nil {
				c.logger.Warn("pairing code request failed", "error", err)
			}
		default:
			st, err := c.Poll(ctx)
			if err != nil {
				c.logger.Warn("pairing poll failed", "error", err)
			}
			if st == StatePaired {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
