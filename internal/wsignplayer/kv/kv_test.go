package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "identity/displayId")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, s.Set(ctx, "identity/displayId", []byte("d-1")))
	require.NoError(t, s.Set(ctx, "identity/deviceToken", []byte("tok-9")))

	v, err := s.Get(ctx, "identity/displayId")
	require.NoError(t, err)
	assert.Equal(t, "d-1", string(v))

	require.NoError(t, s.Set(ctx, "identity/displayId", []byte("d-2")))
	v, err = s.Get(ctx, "identity/displayId")
	require.NoError(t, err)
	assert.Equal(t, "d-2", string(v))

	require.NoError(t, s.Delete(ctx, "identity/displayId", "identity/deviceToken", "absent"))
	_, err = s.Get(ctx, "identity/deviceToken")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, s.Set(ctx, "identity/pairingCode", []byte("AB12CD")))
	require.NoError(t, s.Write(ctx, Batch{
		Set: map[string][]byte{
			"identity/deviceToken": []byte("tok-9"),
			"identity/displayId":   []byte("d-3"),
		},
		Delete: []string{"identity/pairingCode", "absent"},
	}))
	v, err = s.Get(ctx, "identity/deviceToken")
	require.NoError(t, err)
	assert.Equal(t, "tok-9", string(v))
	v, err = s.Get(ctx, "identity/displayId")
	require.NoError(t, err)
	assert.Equal(t, "d-3", string(v))
	_, err = s.Get(ctx, "identity/pairingCode")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, s.Write(ctx, Batch{}))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestSQLiteStore_WriteIsAtomic(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "identity/pairingCode", []byte("AB12CD")))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.Write(cancelled, Batch{
		Set:    map[string][]byte{"identity/deviceToken": []byte("tok-9")},
		Delete: []string{"identity/pairingCode"},
	})
	require.Error(t, err)

	_, err = s.Get(ctx, "identity/deviceToken")
	assert.True(t, errors.IsNotFound(err))
	v, err := s.Get(ctx, "identity/pairingCode")
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", string(v))
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	s := NewRedisStore(nil, "wsignplayer")
	assert.Equal(t, "wsignplayer:identity/displayId", s.keyStr("identity/displayId"))

	s = NewRedisStore(nil, "")
	assert.Equal(t, "identity/displayId", s.keyStr("identity/displayId"))
}

// TestRedisStore runs against a live server named by TEST_REDIS_ADDR
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())

	s := NewRedisStore(rdb, "wsignplayer-test-"+t.Name())
	defer s.Close()

	exerciseStore(t, s)
}
