package watcher

import (
	"time"

	"github.com/Aman-CERP/xrefsearch/internal/index"
)

// Operation is a file system operation type.
type Operation int

const (
	// OpCreate indicates a file appeared.
	OpCreate Operation = iota
	// OpModify indicates a file was written or replaced.
	OpModify
	// OpDelete indicates a file was removed.
	OpDelete
	// OpRename indicates a file was renamed away.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a watched index file.
type FileEvent struct {
	// Tree is the tree owning the file.
	Tree string

	// Path is the absolute path of the file.
	Path string

	Operation Operation
	Timestamp time.Time
}

// Target is one tree's index directory.
type Target struct {
	Tree string
	Dir  string
}

// Change reports that some of a tree's index files changed.
type Change struct {
	Tree string
	// Files are the changed file names, sorted.
	Files  []string
	Events []FileEvent
}

// watchedFiles are the index files the server maps at startup.
var watchedFiles = map[string]bool{
	index.CrossrefFile:      true,
	index.CrossrefExtraFile: true,
	index.IdentifiersFile:   true,
	index.RepoFilesFile:     true,
	index.ObjdirFilesFile:   true,
}

// IsIndexFile reports whether name is one of the watched index file names.
func IsIndexFile(name string) bool {
	return watchedFiles[name]
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period before a batch is reported. Index
	// builds rewrite several files in sequence.
	// Default: 2s
	DebounceWindow time.Duration

	// MaxDelay caps how long a batch waits while writes keep arriving.
	// Default: 30s
	MaxDelay time.Duration

	// PollInterval is the interval for polling mode.
	// Default: 5s
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 2 * time.Second,
		MaxDelay:       30 * time.Second,
		PollInterval:   5 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaults.MaxDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}
