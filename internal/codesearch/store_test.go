package codesearch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", "t.db")
	ctx := context.Background()

	w, err := CreateStore(path)
	require.NoError(t, err)
	require.NoError(t, w.SetMeta(ctx, metaTree, "mozilla-central"))
	require.NoError(t, w.AddFile(ctx, "a.cpp", []string{"one", "two"}))
	require.NoError(t, w.AddFile(ctx, "b.h", []string{"three"}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	r, err := OpenStore(path, 2)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	files, err := r.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.cpp", files[0].Path)

	var lines []string
	require.NoError(t, r.ScanFile(ctx, files[0].ID, func(lno int, line string) bool {
		lines = append(lines, line)
		return true
	}))
	assert.Equal(t, []string{"one", "two"}, lines)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreStats{Tree: "mozilla-central", Files: 2, Lines: 3}, stats)
}

func TestStore_ScanFileStopsEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	ctx := context.Background()
	s, err := CreateStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.AddFile(ctx, "a", []string{"1", "2", "3"}))

	files, err := s.Files(ctx)
	require.NoError(t, err)

	var seen int
	require.NoError(t, s.ScanFile(ctx, files[0].ID, func(int, string) bool {
		seen++
		return seen < 2
	}))
	assert.Equal(t, 2, seen)
}

func TestCreateStore_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	ctx := context.Background()

	s, err := CreateStore(path)
	require.NoError(t, err)
	require.NoError(t, s.AddFile(ctx, "old.cpp", []string{"x"}))
	require.NoError(t, s.Close())

	s, err = CreateStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	files, err := s.Files(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestOpenStore_Missing(t *testing.T) {
	_, err := OpenStore(filepath.Join(t.TempDir(), "none.db"), 1)
	require.Error(t, err)
	assert.Equal(t, xerrors.ErrCodeIndexMissing, xerrors.GetCode(err))
}

func TestOpenStore_NotAStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not sqlite"), 0o644))

	_, err := OpenStore(path, 1)
	require.Error(t, err)
	assert.Equal(t, xerrors.ErrCodeCorruptIndex, xerrors.GetCode(err))
}

func TestStore_ClosedOperations(t *testing.T) {
	s, err := CreateStore(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Files(context.Background())
	assert.Error(t, err)
	assert.Error(t, s.AddFile(context.Background(), "a", nil))
}
