package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "projects")
	store := NewFileStore(dir, "city")

	assert.Equal(t, filepath.Join(dir, "city.json"), store.Location())

	_, err := store.Load(ctx)
	require.Error(t, err)

	require.NoError(t, store.Save(ctx, []byte(sample)))
	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))

	// No temp files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewFileStore(t.TempDir(), "city")
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Save(ctx, []byte("{}")), context.Canceled)
}
