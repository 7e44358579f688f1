package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{Operation(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestIsIndexFile(t *testing.T) {
	for _, name := range []string{"crossref", "crossref-extra", "identifiers", "repo-files", "objdir-files"} {
		assert.True(t, IsIndexFile(name), name)
	}
	for _, name := range []string{"crossref.tmp", "search.html", "livegrep.idx", ""} {
		assert.False(t, IsIndexFile(name), name)
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	got := Options{}.WithDefaults()
	assert.Equal(t, DefaultOptions(), got)

	got = Options{DebounceWindow: 10 * time.Millisecond, ForcePolling: true}.WithDefaults()
	assert.Equal(t, 10*time.Millisecond, got.DebounceWindow)
	assert.Equal(t, 5*time.Second, got.PollInterval)
	assert.Equal(t, 30*time.Second, got.MaxDelay)
	assert.True(t, got.ForcePolling)
}

func TestGroupByTree(t *testing.T) {
	batch := []FileEvent{
		{Tree: "nss", Path: "/idx/nss/identifiers", Operation: OpModify},
		{Tree: "mozilla-central", Path: "/idx/mc/crossref", Operation: OpModify},
		{Tree: "nss", Path: "/idx/nss/crossref", Operation: OpCreate},
	}

	got := groupByTree(batch)
	require.Len(t, got, 2)
	assert.Equal(t, "mozilla-central", got[0].Tree)
	assert.Equal(t, []string{"crossref"}, got[0].Files)
	assert.Equal(t, "nss", got[1].Tree)
	assert.Equal(t, []string{"crossref", "identifiers"}, got[1].Files)
	assert.Len(t, got[1].Events, 2)
}

// runWatcher starts w and returns the channel its changes arrive on.
func runWatcher(t *testing.T, w *IndexWatcher) <-chan Change {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan Change, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(c Change) { changes <- c })
	}()
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
		<-done
	})
	return changes
}

func waitChange(t *testing.T, changes <-chan Change) Change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for index change")
		return Change{}
	}
}

func TestIndexWatcher_ReportsReplacedIndex(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a tree's index directory with a crossref file
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "crossref"), []byte("!A\n:{}\n"), 0o644))

			w, err := New([]Target{{Tree: "mozilla-central", Dir: dir}}, Options{
				DebounceWindow: 50 * time.Millisecond,
				PollInterval:   20 * time.Millisecond,
				ForcePolling:   polling,
			})
			require.NoError(t, err)
			if polling {
				assert.Equal(t, "polling", w.Mode())
			}
			changes := runWatcher(t, w)

			// When: the index build writes new files plus unrelated scratch files
			time.Sleep(50 * time.Millisecond)
			require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "crossref"), []byte("!A\n:{}\n!B\n:{}\n"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "identifiers"), []byte("A A\n"), 0o644))

			// Then: one change names the index files only
			c := waitChange(t, changes)
			assert.Equal(t, "mozilla-central", c.Tree)
			assert.Equal(t, []string{"crossref", "identifiers"}, c.Files)
		})
	}
}

func TestIndexWatcher_MissingDirFallsBackToPolling(t *testing.T) {
	w, err := New([]Target{{Tree: "gone", Dir: filepath.Join(t.TempDir(), "missing")}}, Options{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.Equal(t, "polling", w.Mode())
}

func TestIndexWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := New([]Target{{Tree: "t", Dir: t.TempDir()}}, Options{})
	require.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
