package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "provenance.db")

	store, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Record(ctx, "sha1", []string{"user:alice"}, []string{"user:alice\x00name"}))
	require.NoError(t, store.Record(ctx, "sha2", []string{"user:alice"}, nil))

	got, err := store.PatchesFor(ctx, "user:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"sha1", "sha2"}, got)
}

func TestSQLiteStoreIdempotentRecord(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "provenance.db")

	store, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Record(ctx, "sha1", []string{"e"}, []string{"e"}))
	require.NoError(t, store.Record(ctx, "sha1", []string{"e"}, []string{"e"}))

	got, err := store.PatchesFor(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, []string{"sha1"}, got)
}
