package index

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/xrefsearch/internal/index/indextest"
)

func TestFileListGrep(t *testing.T) {
	dir := t.TempDir()
	indextest.WriteLines(t, dir, RepoFilesFile, []string{
		"dom/base/nsGlobalWindow.cpp",
		"dom/base/nsGlobalWindow.h",
		"dom/test/test_window.html",
		"layout/base/nsPresShell.cpp",
	})
	indextest.WriteLines(t, dir, ObjdirFilesFile, []string{
		"__GENERATED__/dom/bindings/WindowBinding.cpp",
	})

	fl, err := OpenFileList(filepath.Join(dir, RepoFilesFile), filepath.Join(dir, ObjdirFilesFile))
	require.NoError(t, err)
	defer func() { _ = fl.Close() }()

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"case insensitive", "GLOBALWINDOW", []string{"dom/base/nsGlobalWindow.cpp", "dom/base/nsGlobalWindow.h"}},
		{"objdir included", "WindowBinding", []string{"__GENERATED__/dom/bindings/WindowBinding.cpp"}},
		{"regex", `^dom/.*\.h$`, []string{"dom/base/nsGlobalWindow.h"}},
		{"invalid regex is literal", "window(", nil},
		{"no match", "nothing-here", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := fl.Grep(context.Background(), tt.pattern, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want), total)
		})
	}
}

func TestFileListGrep_LimitKeepsTotal(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, fmt.Sprintf("src/file%02d.cpp", i))
	}
	indextest.WriteLines(t, dir, RepoFilesFile, lines)

	fl, err := OpenFileList(filepath.Join(dir, RepoFilesFile))
	require.NoError(t, err)
	defer func() { _ = fl.Close() }()

	got, total, err := fl.Grep(context.Background(), "src/", 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, 50, total)
	assert.Equal(t, "src/file00.cpp", got[0])
}

func TestOpenFileList_SkipsMissing(t *testing.T) {
	dir := t.TempDir()
	indextest.WriteLines(t, dir, RepoFilesFile, []string{"a.cpp"})

	fl, err := OpenFileList(filepath.Join(dir, RepoFilesFile), filepath.Join(dir, ObjdirFilesFile))
	require.NoError(t, err)
	defer func() { _ = fl.Close() }()

	got, _, err := fl.Grep(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.cpp"}, got)
}

func TestCompilePathPattern(t *testing.T) {
	assert.True(t, CompilePathPattern("DOM/").MatchString("dom/base"))
	assert.True(t, CompilePathPattern("a[b").MatchString("x/a[b/y"))
}
