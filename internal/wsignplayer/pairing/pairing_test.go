package pairing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/client"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/identity"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/kv"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/testutil"
)

type fixture struct {
	backend *testutil.Backend
	api     *client.Client
	store   *identity.Store
	pairing *Client
}

func setup(t *testing.T) *fixture {
	t.Helper()
	backend := testutil.NewBackend(t)
	api, err := client.NewClient(backend.URL)
	require.NoError(t, err)
	store := identity.NewStore(kv.NewMemoryStore())
	return &fixture{
		backend: backend,
		api:     api,
		store:   store,
		pairing: NewClient(api, store, nil),
	}
}

func TestPairing_FullScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	st, err := f.pairing.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateUnpaired, st)

	code, err := f.pairing.RequestCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", code)
	assert.Equal(t, StateCodeRequested, f.pairing.State())

	status := f.pairing.Status(ctx)
	assert.Equal(t, "AB12CD", status.PairingCode)
	assert.Equal(t, "d-1", status.DisplayID)

	st, err = f.pairing.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, st)

	f.backend.Confirm("AB12CD", "tok-9")
	st, err = f.pairing.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePaired, st)

	id, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d-1", id.DisplayID)
	assert.Equal(t, "tok-9", id.DeviceToken)
	assert.Empty(t, f.pairing.Status(ctx).PairingCode)
}

func TestPairing_CheckRestoresPaired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetToken(ctx, "tok-9", "d-1"))
	f.backend.IssueToken("d-1", "tok-9")

	st, err := f.pairing.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePaired, st)
}

func TestPairing_CheckDeletedDisplay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetToken(ctx, "tok-9", "d-1"))
	f.backend.DeleteDisplay("d-1")

	st, err := f.pairing.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateUnpaired, st)

	id, _ := f.store.Get(ctx)
	assert.Empty(t, id.DeviceToken)
	assert.Empty(t, id.DisplayID)
}

func TestPairing_CheckRejectedToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetToken(ctx, "tok-9", "d-1"))

	st, err := f.pairing.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateUnpaired, st)
}

func TestPairing_CheckOfflineKeepsToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	api, err := client.NewClient(url)
	require.NoError(t, err)
	store := identity.NewStore(kv.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, store.SetToken(ctx, "tok-9", "d-1"))

	p := NewClient(api, store, nil)
	st, err := p.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePaired, st)
}

func TestPairing_UnauthorizedPollDeauthenticates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetLastGoodConfiguration(ctx, &v1alpha1.ActiveConfiguration{
		Playlist: &v1alpha1.Playlist{ID: "pl-1"},
	}))

	_, err := f.pairing.RequestCode(ctx)
	require.NoError(t, err)

	f.backend.Forget("AB12CD")
	st, err := f.pairing.Poll(ctx)
	assert.True(t, errors.IsUnauthorized(err))
	assert.Equal(t, StateUnpaired, st)

	id, _ := f.store.Get(ctx)
	assert.False(t, id.IsPaired())
	assert.Empty(t, id.PairingCode)

	cfg, err := f.store.LastGoodConfiguration(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "pl-1", cfg.Playlist.ID)
}

func TestPairing_ExpiredCodeReturnsToUnpaired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.pairing.RequestCode(ctx)
	require.NoError(t, err)
	f.backend.Expire("AB12CD")

	st, err := f.pairing.Poll(ctx)
	assert.True(t, errors.IsCodeExpired(err))
	assert.Equal(t, StateUnpaired, st)

	f.backend.SetNextCode("EF34GH", "d-1")
	code, err := f.pairing.RequestCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "EF34GH", code)
}

func TestPairing_InvalidTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.pairing.Poll(ctx)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = f.pairing.RequestCode(ctx)
	require.NoError(t, err)
	_, err = f.pairing.RequestCode(ctx)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestPairing_SubscribersSeeDeauthentication(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetToken(ctx, "tok-9", "d-1"))
	f.backend.IssueToken("d-1", "tok-9")

	_, err := f.pairing.Check(ctx)
	require.NoError(t, err)

	updates := f.pairing.Subscribe()
	f.backend.Revoke("tok-9")

	_, err = f.api.FetchConfiguration(ctx, "d-1", "tok-9")
	assert.True(t, errors.IsUnauthorized(err))

	select {
	case st := <-updates:
		assert.Equal(t, StateUnpaired, st)
	case <-time.After(time.Second):
		t.Fatal("no state update after unauthorized response")
	}
}

func TestPairing_Run(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates := f.pairing.Subscribe()
	done := make(chan error, 1)
	go func() { done <- f.pairing.Run(ctx, 10*time.Millisecond) }()

	for st := range updates {
		if st == StateAwaitingConfirmation {
			break
		}
	}
	f.backend.Confirm("AB12CD", "tok-9")

	require.NoError(t, <-done)
	assert.Equal(t, StatePaired, f.pairing.State())
}
