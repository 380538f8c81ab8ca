// Package identity persists who this display is: its server-assigned id, the
// pairing code, the device token, its last known location and the last
// configuration that was successfully resolved.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/kv"
)

// Persisted keys. Each field is stored independently so that clearing the
// session never destroys the offline configuration.
const (
	KeyDisplayID     = "identity/displayId"
	KeyPairingCode   = "identity/pairingCode"
	KeyDeviceToken   = "identity/deviceToken"
	KeyLocation      = "identity/location"
	KeyConfiguration = "identity/lastGoodConfiguration"
)

// Identity is a point-in-time snapshot of the device identity
type Identity struct {
	DisplayID   string
	PairingCode string
	DeviceToken string
	Location    *v1alpha1.Location
}

// IsPaired reports whether a device token is held
func (i Identity) IsPaired() bool {
	return i.DeviceToken != ""
}

// Store is the Device Identity Store. Reads are concurrent; writes are
// serialized. Values are cached in memory after the first load.
type Store struct {
	kv kv.Store

	mu     sync.RWMutex
	loaded bool
	id     Identity
	config *v1alpha1.ActiveConfiguration
}

// NewStore creates a store backed by the given key-value backend
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

// Load reads all persisted fields; it is safe to call repeatedly
func (s *Store) Load(ctx context.Context) error {
	const op = "IdentityStore.Load"

	s.mu.Lock()
	defer s.mu.Unlock()

	var id Identity
	var err error
	if id.DisplayID, err = s.getString(ctx, KeyDisplayID); err != nil {
		return errors.NewError("LOAD_FAILED", "Failed to read display id", op, err)
	}
	if id.PairingCode, err = s.getString(ctx, KeyPairingCode); err != nil {
		return errors.NewError("LOAD_FAILED", "Failed to read pairing code", op, err)
	}
	if id.DeviceToken, err = s.getString(ctx, KeyDeviceToken); err != nil {
		return errors.NewError("LOAD_FAILED", "Failed to read device token", op, err)
	}

	var loc v1alpha1.Location
	ok, err := s.getJSON(ctx, KeyLocation, &loc)
	if err != nil {
		return errors.NewError("LOAD_FAILED", "Failed to read location", op, err)
	}
	if ok {
		id.Location = &loc
	}

	var cfg v1alpha1.ActiveConfiguration
	ok, err = s.getJSON(ctx, KeyConfiguration, &cfg)
	if err != nil {
		return errors.NewError("LOAD_FAILED", "Failed to read cached configuration", op, err)
	}
	s.config = nil
	if ok {
		s.config = &cfg
	}

	s.id = id
	s.loaded = true
	return nil
}

// Get returns the current identity
func (s *Store) Get(ctx context.Context) (Identity, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, nil
}

// SetPairing records a freshly issued display id and pairing code
func (s *Store) SetPairing(ctx context.Context, displayID, code string) error {
	const op = "IdentityStore.SetPairing"

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.kv.Write(ctx, kv.Batch{Set: map[string][]byte{
		KeyDisplayID:   []byte(displayID),
		KeyPairingCode: []byte(code),
	}})
	if err != nil {
		return errors.NewError("SAVE_FAILED", "Failed to save pairing", op, err)
	}
	s.id.DisplayID = displayID
	s.id.PairingCode = code
	return nil
}

// SetToken records the device token issued on confirmation. A non-empty
// displayID replaces the stored one. The pairing code is invalidated.
func (s *Store) SetToken(ctx context.Context, token, displayID string) error {
	const op = "IdentityStore.SetToken"

	if token == "" {
		return errors.NewError("INVALID_INPUT", "Device token cannot be empty", op, errors.ErrInvalidInput)
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := kv.Batch{
		Set:    map[string][]byte{KeyDeviceToken: []byte(token)},
		Delete: []string{KeyPairingCode},
	}
	if displayID != "" {
		b.Set[KeyDisplayID] = []byte(displayID)
	}
	if err := s.kv.Write(ctx, b); err != nil {
		return errors.NewError("SAVE_FAILED", "Failed to save device token", op, err)
	}
	if displayID != "" {
		s.id.DisplayID = displayID
	}
	s.id.DeviceToken = token
	s.id.PairingCode = ""
	return nil
}

// SetLocation records the last known location
func (s *Store) SetLocation(ctx context.Context, loc v1alpha1.Location) error {
	const op = "IdentityStore.SetLocation"

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return errors.NewError("SAVE_FAILED", "Failed to encode location", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, KeyLocation, data); err != nil {
		return errors.NewError("SAVE_FAILED", "Failed to save location", op, err)
	}
	s.id.Location = &loc
	return nil
}

// ClearSession forgets display id, pairing code and token. The last good
// configuration and location are kept for offline playback.
func (s *Store) ClearSession(ctx context.Context) error {
	const op = "IdentityStore.ClearSession"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, KeyDisplayID, KeyPairingCode, KeyDeviceToken); err != nil {
		return errors.NewError("CLEAR_FAILED", "Failed to clear identity", op, err)
	}
	s.id.DisplayID = ""
	s.id.PairingCode = ""
	s.id.DeviceToken = ""
	return nil
}

// Clear forgets everything, including the cached configuration
func (s *Store) Clear(ctx context.Context) error {
	const op = "IdentityStore.Clear"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, KeyDisplayID, KeyPairingCode, KeyDeviceToken, KeyLocation, KeyConfiguration); err != nil {
		return errors.NewError("CLEAR_FAILED", "Failed to clear identity", op, err)
	}
	s.id = Identity{}
	s.config = nil
	s.loaded = true
	return nil
}

// SetLastGoodConfiguration replaces the cached configuration wholesale
func (s *Store) SetLastGoodConfiguration(ctx context.Context, cfg *v1alpha1.ActiveConfiguration) error {
	const op = "IdentityStore.SetLastGoodConfiguration"

	if cfg == nil {
		return errors.NewError("INVALID_INPUT", "Configuration cannot be nil", op, errors.ErrInvalidInput)
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.NewError("SAVE_FAILED", "Failed to encode configuration", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, KeyConfiguration, data); err != nil {
		return errors.NewError("SAVE_FAILED", "Failed to save configuration", op, err)
	}
	s.config = cloneConfig(cfg)
	return nil
}

// LastGoodConfiguration returns the cached configuration, or nil if none
func (s *Store) LastGoodConfiguration(ctx context.Context) (*v1alpha1.ActiveConfiguration, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConfig(s.config), nil
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.Load(ctx)
}

func (s *Store) getString(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if errors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *Store) getJSON(ctx context.Context, key string, target any) (bool, error) {
	v, err := s.kv.Get(ctx, key)
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(v, target); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// cloneConfig returns a deep copy so callers can never mutate the cached tree
func cloneConfig(cfg *v1alpha1.ActiveConfiguration) *v1alpha1.ActiveConfiguration {
	if cfg == nil {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var out v1alpha1.ActiveConfiguration
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}
