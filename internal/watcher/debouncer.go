package watcher

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Debouncer merges the burst of events an index build produces into one
// batch per quiet period. Per path, events fold as follows:
//
//	create, modify          -> create
//	create, delete/rename   -> (dropped)
//	delete/rename, create   -> modify
//	anything else, next     -> next
//
// A batch is released once no event arrived for the quiet window, or once
// maxDelay has passed since the first pending event, whichever is sooner.
type Debouncer struct {
	quiet    time.Duration
	maxDelay time.Duration
	out      chan []FileEvent

	mu      sync.Mutex
	pending map[string]pendingEvent
	opened  time.Time // first event of the pending batch
	gen     uint64
	timer   *time.Timer
	closed  bool
}

type pendingEvent struct {
	FileEvent
	first Operation
}

// NewDebouncer returns a debouncer with the given quiet window. A
// non-positive maxDelay disables the cap.
func NewDebouncer(quiet, maxDelay time.Duration) *Debouncer {
	return &Debouncer{
		quiet:    quiet,
		maxDelay: maxDelay,
		out:      make(chan []FileEvent, 8),
		pending:  make(map[string]pendingEvent),
	}
}

// Add queues e and reschedules the batch.
func (d *Debouncer) Add(e FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if len(d.pending) == 0 {
		d.opened = time.Now()
	}
	prev, seen := d.pending[e.Path]
	switch {
	case !seen:
		d.pending[e.Path] = pendingEvent{FileEvent: e, first: e.Operation}
	default:
		if merged, keep := fold(prev, e); keep {
			d.pending[e.Path] = merged
		} else {
			delete(d.pending, e.Path)
		}
	}

	if len(d.pending) == 0 {
		d.cancelLocked()
		return
	}
	d.scheduleLocked()
}

func fold(prev pendingEvent, next FileEvent) (pendingEvent, bool) {
	gone := next.Operation == OpDelete || next.Operation == OpRename
	switch prev.first {
	case OpCreate:
		if gone {
			return prev, false
		}
		if next.Operation == OpModify {
			return prev, true
		}
	case OpDelete, OpRename:
		if !gone {
			next.Operation = OpModify
		}
	}
	return pendingEvent{FileEvent: next, first: prev.first}, true
}

func (d *Debouncer) scheduleLocked() {
	delay := d.quiet
	if d.maxDelay > 0 {
		delay = min(delay, max(0, d.maxDelay-time.Since(d.opened)))
	}
	d.cancelLocked()
	gen := d.gen
	d.timer = time.AfterFunc(delay, func() { d.release(gen) })
}

func (d *Debouncer) cancelLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// release emits the pending batch, sorted by path, unless a later event
// rescheduled it.
func (d *Debouncer) release(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || gen != d.gen || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, p := range d.pending {
		batch = append(batch, p.FileEvent)
	}
	slices.SortFunc(batch, func(a, b FileEvent) int { return strings.Compare(a.Path, b.Path) })
	clear(d.pending)
	d.timer = nil

	select {
	case d.out <- batch:
	default:
		slog.Warn("index change batch dropped, consumer is behind",
			slog.Int("files", len(batch)))
	}
}

// Output delivers released batches. It is closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.out
}

// Stop discards pending events and closes Output. It may be called more
// than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.cancelLocked()
	close(d.out)
}
