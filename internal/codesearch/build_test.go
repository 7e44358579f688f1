package codesearch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree writes files under a new root and returns the root and the
// sorted path list.
func writeTree(t *testing.T, files map[string]string) (string, []string) {
	t.Helper()
	root := t.TempDir()
	var paths []string
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return root, paths
}

// buildStore builds files into a store and opens it for reading.
func buildStore(t *testing.T, files map[string]string) *Store {
	t.Helper()
	root, paths := writeTree(t, files)
	out := filepath.Join(t.TempDir(), "cs.db")

	_, err := Build(context.Background(), BuildOptions{Root: root, Files: paths, Out: out, Tree: "test", Workers: 2})
	require.NoError(t, err)

	s, err := OpenStore(out, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBuild_IndexesTextFilesInListOrder(t *testing.T) {
	root, paths := writeTree(t, map[string]string{
		"dom/a.cpp":   "int a;\nint b;\n",
		"dom/b.h":     "#pragma once\r\nstruct B;",
		"img/x.png":   "\x89PNG\x00\x00binary",
		"layout/c.js": "",
	})
	paths = append(paths, "missing.cpp")
	out := filepath.Join(t.TempDir(), "cs.db")

	stats, err := Build(context.Background(), BuildOptions{Root: root, Files: paths, Out: out, Tree: "t", Workers: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 4, stats.Lines)
	assert.Equal(t, 2, stats.Skipped)

	s, err := OpenStore(out, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	files, err := s.Files(context.Background())
	require.NoError(t, err)
	var got []string
	for _, f := range files {
		got = append(got, f.Path)
	}
	assert.Equal(t, []string{"dom/a.cpp", "dom/b.h", "layout/c.js"}, got)

	var lines []string
	require.NoError(t, s.ScanFile(context.Background(), files[1].ID, func(_ int, l string) bool {
		lines = append(lines, l)
		return true
	}))
	assert.Equal(t, []string{"#pragma once", "struct B;"}, lines)
}

func TestBuild_SkipsLargeFiles(t *testing.T) {
	root, paths := writeTree(t, map[string]string{"big.txt": "0123456789\n0123456789\n"})
	stats, err := Build(context.Background(), BuildOptions{
		Root: root, Files: paths, Out: filepath.Join(t.TempDir(), "cs.db"), MaxFileSize: 10,
	})
	require.NoError(t, err)
	assert.Zero(t, stats.Files)
	assert.Equal(t, 1, stats.Skipped)
}

func TestBuild_CancelledContext(t *testing.T) {
	root, paths := writeTree(t, map[string]string{"a": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, BuildOptions{Root: root, Files: paths, Out: filepath.Join(t.TempDir(), "cs.db")})
	assert.Error(t, err)
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(""))
	assert.Equal(t, []string{""}, splitLines("\n"))
	assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb"))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\r\nb\r\n"))
}

func TestReadFileList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo-files")
	require.NoError(t, os.WriteFile(path, []byte("a.cpp\n\n  b/c.h \n"), 0o644))

	got, err := ReadFileList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.cpp", "b/c.h"}, got)
}
