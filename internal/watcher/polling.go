package watcher

import (
	"context"
	"os"
	"time"
)

// PollingWatcher detects changes to a fixed set of files by comparing
// their size and modification time on every tick. Used where fsnotify is
// unavailable.
type PollingWatcher struct {
	interval time.Duration
	files    map[string]string // path -> tree
	state    map[string]fileSnapshot
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// NewPollingWatcher polls files, a map from path to owning tree.
func NewPollingWatcher(interval time.Duration, files map[string]string) *PollingWatcher {
	p := &PollingWatcher{
		interval: interval,
		files:    files,
	}
	p.state = p.snapshot()
	return p
}

func (p *PollingWatcher) snapshot() map[string]fileSnapshot {
	state := make(map[string]fileSnapshot, len(p.files))
	for path := range p.files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		state[path] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return state
}

// Run polls until ctx is cancelled, passing each change to emit.
func (p *PollingWatcher) Run(ctx context.Context, emit func(FileEvent)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.detectChanges(emit)
		}
	}
}

func (p *PollingWatcher) detectChanges(emit func(FileEvent)) {
	now := time.Now()
	current := p.snapshot()

	for path, snap := range current {
		prev, existed := p.state[path]
		switch {
		case !existed:
			emit(FileEvent{Tree: p.files[path], Path: path, Operation: OpCreate, Timestamp: now})
		case !prev.modTime.Equal(snap.modTime) || prev.size != snap.size:
			emit(FileEvent{Tree: p.files[path], Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	for path := range p.state {
		if _, ok := current[path]; !ok {
			emit(FileEvent{Tree: p.files[path], Path: path, Operation: OpDelete, Timestamp: now})
		}
	}
	p.state = current
}
