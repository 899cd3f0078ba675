package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStore_RequiresDir(t *testing.T) {
	_, err := NewLocalStore("  ", "http://localhost:8000/files")
	assert.Error(t, err)
}

func TestLocalStore_PutAndExists(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, "http://localhost:8000/files/")
	require.NoError(t, err)

	key := CacheKey("books", "b1", 2, "zh")
	_, ok, err := store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)

	src := filepath.Join(t.TempDir(), "out.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.7"), 0o644))

	url, err := store.Put(context.Background(), key, src)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/files/"+key, url)

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	got, ok, err := store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, url, got)

	entries, err := os.ReadDir(filepath.Dir(filepath.Join(root, filepath.FromSlash(key))))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not remain")
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	dir := t.TempDir()
	first := filepath.Join(dir, "a.pdf")
	second := filepath.Join(dir, "b.pdf")
	require.NoError(t, os.WriteFile(first, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("second"), 0o644))

	_, err = store.Put(context.Background(), "k.pdf", first)
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "k.pdf", second)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(store.Root(), "k.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocalStore_KeyCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "etc", "passwd"), store.pathFor("../../etc/passwd"))
}
