package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"docqa-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStore_PutListGet(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "0f1e_report.csv")
	require.NoError(t, os.WriteFile(src, []byte("alpha,beta\n1,2"), 0o644))

	key, err := store.Put(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "documents/0f1e_report.csv", key)

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "alpha,beta\n1,2", string(data))
}

func TestLocalBlobStore_GetMissing(t *testing.T) {
	store, err := NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "documents/nope.pdf")
	assert.ErrorIs(t, err, errs.ErrBlobNotFound)

	_, err = store.Get(context.Background(), "documents/../etc/passwd")
	assert.ErrorIs(t, err, errInvalidKey)
}

func TestFindBySuffix(t *testing.T) {
	keys := []string{
		"documents/aaa_notes.txt",
		"documents/bbb_report.pdf",
		"documents/ccc_old_report.pdf",
	}
	key, ok := FindBySuffix(keys, "report.pdf")
	require.True(t, ok)
	assert.Equal(t, "documents/ccc_old_report.pdf", key)

	_, ok = FindBySuffix(keys, "missing.csv")
	assert.False(t, ok)
}
