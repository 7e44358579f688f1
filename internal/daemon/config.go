// Package daemon supervises the per-tree full-text search daemon and speaks
// its JSON-RPC protocol. The daemon is a separate long-lived process
// listening on a loopback port; the supervisor starts it, polls it until
// ready, restarts it once when a call fails in transport and converts its
// match stream into grouped path hits.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

const (
	// DefaultRPCTimeout bounds a single daemon call when the caller's
	// context has no earlier deadline.
	DefaultRPCTimeout = 35 * time.Second

	// DefaultMaxMatches caps the matches a daemon returns per search.
	DefaultMaxMatches = 1000

	// DefaultSearchTimeout is the daemon-side search budget.
	DefaultSearchTimeout = 30 * time.Second

	defaultMaxTries     = 200
	defaultPollInterval = 100 * time.Millisecond
	defaultSpawnDelay   = 100 * time.Millisecond
	maxDaemonThreads    = 8
)

// SupervisorConfig describes one tree's daemon.
type SupervisorConfig struct {
	// Tree is the tree name, used in logs and run-file names.
	Tree string

	// IndexPath is the daemon's index (codesearch_path).
	IndexPath string

	// Port is the loopback port the daemon listens on.
	Port int

	// RunDir holds the pid and lock files.
	// Default: ~/.xrefsearch/run
	RunDir string

	// Binary is the daemon executable. Empty means the running executable,
	// re-invoked as "codesearch serve".
	Binary string

	// MaxTries and PollInterval bound the readiness poll after a spawn.
	// Default: 200 × 100ms
	MaxTries     int
	PollInterval time.Duration

	// SpawnDelay is the pause between spawning and the first poll.
	SpawnDelay time.Duration

	// RPCTimeout bounds each call made by the supervisor.
	RPCTimeout time.Duration

	// MaxMatches, Threads and SearchTimeout are passed to the daemon.
	MaxMatches    int
	Threads       int
	SearchTimeout time.Duration

	// SubtreePrefixes maps a match's tree field to a prefix added to its
	// path, for daemons that index a nested repository separately.
	SubtreePrefixes map[string]string
}

// DefaultRunDir returns ~/.xrefsearch/run.
func DefaultRunDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".xrefsearch", "run")
}

// DefaultSupervisorConfig returns a config for tree with defaults filled in.
func DefaultSupervisorConfig(tree, indexPath string, port int) SupervisorConfig {
	return SupervisorConfig{
		Tree:          tree,
		IndexPath:     indexPath,
		Port:          port,
		RunDir:        DefaultRunDir(),
		MaxTries:      defaultMaxTries,
		PollInterval:  defaultPollInterval,
		SpawnDelay:    defaultSpawnDelay,
		RPCTimeout:    DefaultRPCTimeout,
		MaxMatches:    DefaultMaxMatches,
		Threads:       min(maxDaemonThreads, runtime.NumCPU()),
		SearchTimeout: DefaultSearchTimeout,
	}
}

// withDefaults fills zero fields.
func (c SupervisorConfig) withDefaults() SupervisorConfig {
	d := DefaultSupervisorConfig(c.Tree, c.IndexPath, c.Port)
	if c.RunDir == "" {
		c.RunDir = d.RunDir
	}
	if c.MaxTries <= 0 {
		c.MaxTries = d.MaxTries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.SpawnDelay < 0 {
		c.SpawnDelay = 0
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = d.RPCTimeout
	}
	if c.MaxMatches <= 0 {
		c.MaxMatches = d.MaxMatches
	}
	if c.Threads <= 0 {
		c.Threads = d.Threads
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = d.SearchTimeout
	}
	return c
}

// Validate checks that the configuration is usable.
func (c SupervisorConfig) Validate() error {
	if c.Tree == "" {
		return fmt.Errorf("tree name cannot be empty")
	}
	if c.IndexPath == "" {
		return fmt.Errorf("codesearch index path cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("codesearch port out of range: %d", c.Port)
	}
	return nil
}

// Addr is the daemon's listen address.
func (c SupervisorConfig) Addr() string {
	return "localhost:" + strconv.Itoa(c.Port)
}

// PIDPath is the daemon's pid file.
func (c SupervisorConfig) PIDPath() string {
	return filepath.Join(c.RunDir, fmt.Sprintf("codesearch-%d.pid", c.Port))
}

// LockPath is the lock file serializing restarts across processes.
func (c SupervisorConfig) LockPath() string {
	return filepath.Join(c.RunDir, fmt.Sprintf("codesearch-%d.lock", c.Port))
}

// EnsureDir creates the run directory.
func (c SupervisorConfig) EnsureDir() error {
	if err := os.MkdirAll(c.RunDir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	return nil
}

// Args returns the daemon's command-line arguments.
func (c SupervisorConfig) Args() []string {
	return []string{
		"--listen", c.Addr(),
		"--load-index", c.IndexPath,
		"--max-matches", strconv.Itoa(c.MaxMatches),
		"--threads", strconv.Itoa(c.Threads),
		"--timeout", strconv.FormatInt(c.SearchTimeout.Milliseconds(), 10),
		"--context-lines", "0",
	}
}
