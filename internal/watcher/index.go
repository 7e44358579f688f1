package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// IndexWatcher reports replaced index files per tree.
type IndexWatcher struct {
	opts      Options
	dirs      map[string]string // index dir -> tree
	fsw       *fsnotify.Watcher
	poller    *PollingWatcher
	debouncer *Debouncer
}

// New watches the index directories of targets. It uses fsnotify when the
// platform allows, else polls the index files.
func New(targets []Target, opts Options) (*IndexWatcher, error) {
	opts = opts.WithDefaults()
	w := &IndexWatcher{
		opts:      opts,
		dirs:      make(map[string]string, len(targets)),
		debouncer: NewDebouncer(opts.DebounceWindow, opts.MaxDelay),
	}
	for _, t := range targets {
		dir, err := filepath.Abs(t.Dir)
		if err != nil {
			return nil, fmt.Errorf("resolve index dir for tree %s: %w", t.Tree, err)
		}
		w.dirs[dir] = t.Tree
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.addDirs(fsw); err == nil {
				w.fsw = fsw
				return w, nil
			}
			_ = fsw.Close()
		}
		slog.Warn("fsnotify unavailable, polling index files",
			slog.String("error", err.Error()),
			slog.Duration("interval", opts.PollInterval))
	}

	files := make(map[string]string)
	for dir, tree := range w.dirs {
		for name := range watchedFiles {
			files[filepath.Join(dir, name)] = tree
		}
	}
	w.poller = NewPollingWatcher(opts.PollInterval, files)
	return w, nil
}

func (w *IndexWatcher) addDirs(fsw *fsnotify.Watcher) error {
	for dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return nil
}

// Mode reports "fsnotify" or "polling".
func (w *IndexWatcher) Mode() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Run delivers changes to onChange until ctx is cancelled or Close is
// called. onChange runs on the watcher goroutine.
func (w *IndexWatcher) Run(ctx context.Context, onChange func(Change)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if w.fsw != nil {
			done <- w.runFsnotify(ctx)
		} else {
			done <- w.poller.Run(ctx, w.debouncer.Add)
		}
	}()

	for {
		select {
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return nil
			}
			for _, c := range groupByTree(batch) {
				onChange(c)
			}
		}
	}
}

func (w *IndexWatcher) runFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("index watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *IndexWatcher) handle(event fsnotify.Event) {
	if !IsIndexFile(filepath.Base(event.Name)) {
		return
	}
	tree, ok := w.dirs[filepath.Dir(event.Name)]
	if !ok {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}
	w.debouncer.Add(FileEvent{Tree: tree, Path: event.Name, Operation: op, Timestamp: time.Now()})
}

// groupByTree splits a batch into one Change per tree, sorted by tree.
func groupByTree(batch []FileEvent) []Change {
	byTree := make(map[string]*Change)
	for _, e := range batch {
		c, ok := byTree[e.Tree]
		if !ok {
			c = &Change{Tree: e.Tree}
			byTree[e.Tree] = c
		}
		c.Files = append(c.Files, filepath.Base(e.Path))
		c.Events = append(c.Events, e)
	}

	changes := make([]Change, 0, len(byTree))
	for _, c := range byTree {
		sort.Strings(c.Files)
		changes = append(changes, *c)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Tree < changes[j].Tree })
	return changes
}

// Close stops watching. Safe to call multiple times.
func (w *IndexWatcher) Close() error {
	w.debouncer.Stop()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
