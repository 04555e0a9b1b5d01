package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsync/devsync/internal/config"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	store, err := NewLocal(config.LocalStorageConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	return store
}

func TestLocal_PutGet(t *testing.T) {
	store := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "rooms/r1/tree.json", []byte(`[]`), "application/json"))

	data, err := store.Get(ctx, "rooms/r1/tree.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), data)
}

func TestLocal_GetMissing(t *testing.T) {
	store := newTestLocal(t)

	_, err := store.Get(context.Background(), "rooms/nope/tree.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_Overwrite(t *testing.T) {
	store := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v1"), ""))
	require.NoError(t, store.Put(ctx, "k", []byte("v2"), ""))

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestLocal_DeleteMissing(t *testing.T) {
	store := newTestLocal(t)

	assert.NoError(t, store.Delete(context.Background(), "rooms/nope/tree.json"))
}

func TestLocal_Delete(t *testing.T) {
	store := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v"), ""))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_RejectsEscapingKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(config.LocalStorageConfig{Dir: filepath.Join(dir, "objects")})
	require.NoError(t, err)

	secret := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(secret, []byte("nope"), 0o600))

	for _, key := range []string{"../secret", "/etc/passwd", "a/../../secret", "."} {
		_, err := store.Get(context.Background(), key)
		assert.Error(t, err, "key %q must be rejected", key)
		assert.NotErrorIs(t, err, ErrNotFound, "key %q must fail validation, not lookup", key)
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Provider: "tape"})
	assert.Error(t, err)
}
