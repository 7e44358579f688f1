package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
	"github.com/Aman-CERP/xrefsearch/internal/index"
)

// State is the supervisor's view of its daemon.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateServing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Launcher starts and stops daemon processes.
type Launcher interface {
	// Launch spawns a daemon for cfg and returns its pid.
	Launch(cfg SupervisorConfig) (int, error)
	// Kill stops any daemon serving cfg's port. Best effort.
	Kill(cfg SupervisorConfig) error
}

// ExecLauncher runs the daemon as a detached child process.
type ExecLauncher struct{}

// Launch starts the daemon in its own session with stdio on /dev/null.
// The child is reaped by a goroutine so it never lingers as a zombie.
func (ExecLauncher) Launch(cfg SupervisorConfig) (int, error) {
	binary := cfg.Binary
	args := cfg.Args()
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("failed to locate executable: %w", err)
		}
		binary = self
		args = append([]string{"codesearch", "serve", "--tree", cfg.Tree}, args...)
	}

	cmd := exec.Command(binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", binary, err)
	}
	pid := cmd.Process.Pid

	go func() {
		err := cmd.Wait()
		slog.Debug("codesearch daemon exited",
			slog.String("tree", cfg.Tree),
			slog.Int("pid", pid),
			slog.Any("error", err))
	}()

	if err := NewPIDFile(cfg.PIDPath()).Write(Record{PID: pid, Addr: cfg.Addr()}); err != nil {
		slog.Warn("failed to record daemon pid", slog.String("error", err.Error()))
	}
	return pid, nil
}

// Kill terminates the recorded daemon, then any unrecorded one bound to
// the configured address or to the address the record names, which
// differs after a port change.
func (ExecLauncher) Kill(cfg SupervisorConfig) error {
	rec, err := NewPIDFile(cfg.PIDPath()).Terminate(2 * time.Second)
	killByPattern(cfg.Addr())
	if rec.Addr != "" && rec.Addr != cfg.Addr() {
		killByPattern(rec.Addr)
	}
	return err
}

// SearchRequest is one full-text search.
type SearchRequest struct {
	Pattern      string
	PathFilter   string
	FoldCase     bool
	ContextLines int
}

// SearchResult is a daemon reply grouped by path.
type SearchResult struct {
	Hits     []index.PathHit
	TimedOut bool
	LimitHit bool
}

// Handle is a snapshot of a supervised daemon.
type Handle struct {
	Tree       string `json:"tree"`
	Addr       string `json:"addr"`
	PID        int    `json:"pid,omitempty"`
	State      string `json:"state"`
	Generation uint64 `json:"generation"`
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) SupervisorOption {
	return func(s *Supervisor) {
		s.launcher = l
	}
}

// Supervisor owns one tree's daemon: it starts it, forwards searches and
// restarts it when a call fails in transport.
type Supervisor struct {
	cfg      SupervisorConfig
	launcher Launcher
	client   *Client
	lock     *flock.Flock

	// mu serializes restarts and guards lastErr. generation counts start
	// attempts and is written only under mu.
	mu         sync.Mutex
	generation atomic.Uint64
	lastErr    error
	pid        atomic.Int64

	state    atomic.Int32
	inflight atomic.Int64
}

// NewSupervisor creates a stopped supervisor for cfg.
func NewSupervisor(cfg SupervisorConfig, opts ...SupervisorOption) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.New(xerrors.ErrCodeConfigInvalid, err.Error(), err)
	}
	cfg = cfg.withDefaults()

	s := &Supervisor{
		cfg:      cfg,
		launcher: ExecLauncher{},
		client:   NewClient(cfg.Addr(), cfg.RPCTimeout),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Supervisor) Config() SupervisorConfig {
	return s.cfg
}

// State reports the daemon state.
func (s *Supervisor) State() State {
	st := State(s.state.Load())
	if st == StateReady && s.inflight.Load() > 0 {
		return StateServing
	}
	return st
}

// Handle returns a snapshot for status reporting.
func (s *Supervisor) Handle() Handle {
	return Handle{
		Tree:       s.cfg.Tree,
		Addr:       s.cfg.Addr(),
		PID:        int(s.pid.Load()),
		State:      s.State().String(),
		Generation: s.generation.Load(),
	}
}

// Start stops any stale daemon on the port, spawns a new one and waits for
// it to answer info.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

// ErrForeignDaemon is returned by Attach when the daemon on the port
// serves another tree, another store, or an older build of this store.
var ErrForeignDaemon = errors.New("daemon does not serve this index")

// IndexStamp identifies one build of the store at path. A rebuild
// recreates the file and so changes the stamp.
func IndexStamp(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.ModTime().UnixNano(), nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// verify checks that info describes a daemon serving the current build of
// the configured store.
func (s *Supervisor) verify(info *InfoResult) error {
	if info.Tree != s.cfg.Tree {
		return fmt.Errorf("%w: serves tree %q", ErrForeignDaemon, info.Tree)
	}
	if !samePath(info.IndexPath, s.cfg.IndexPath) {
		return fmt.Errorf("%w: serves %s", ErrForeignDaemon, info.IndexPath)
	}
	stamp, err := IndexStamp(s.cfg.IndexPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForeignDaemon, err)
	}
	if info.IndexStamp != stamp {
		return fmt.Errorf("%w: %s was rebuilt after the daemon loaded it", ErrForeignDaemon, s.cfg.IndexPath)
	}
	return nil
}

// identify asks the daemon on the port who it is and verifies the answer.
func (s *Supervisor) identify(ctx context.Context) error {
	info, err := s.client.Info(ctx)
	if err != nil {
		return err
	}
	return s.verify(info)
}

// Attach adopts the daemon already running on the port without spawning
// one. It fails with ErrForeignDaemon when that daemon serves anything but
// the current build of the configured store; Start then replaces it.
func (s *Supervisor) Attach(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.identify(ctx); err != nil {
		if errors.Is(err, ErrForeignDaemon) {
			slog.Info("not attaching to codesearch daemon",
				slog.String("tree", s.cfg.Tree),
				slog.Int("port", s.cfg.Port),
				slog.String("reason", err.Error()))
		}
		return err
	}
	s.generation.Add(1)
	s.lastErr = nil
	s.state.Store(int32(StateReady))
	return nil
}

func (s *Supervisor) startLocked(ctx context.Context) (err error) {
	start := time.Now()
	s.generation.Add(1)
	s.state.Store(int32(StateStarting))
	defer func() {
		s.lastErr = err
		if err != nil {
			s.state.Store(int32(StateFailed))
			slog.Error("codesearch daemon failed to start",
				slog.String("tree", s.cfg.Tree),
				slog.Int("port", s.cfg.Port),
				slog.String("error", err.Error()))
			return
		}
		s.state.Store(int32(StateReady))
		slog.Info("codesearch daemon ready",
			slog.String("tree", s.cfg.Tree),
			slog.Int("port", s.cfg.Port),
			slog.Int64("pid", s.pid.Load()),
			slog.Duration("duration", time.Since(start)))
	}()

	if err := s.cfg.EnsureDir(); err != nil {
		return xerrors.New(xerrors.ErrCodeDaemonSpawn, err.Error(), err)
	}

	// Another server process may be restarting the same port.
	locked, err := s.lock.TryLockContext(ctx, s.cfg.PollInterval)
	if err != nil || !locked {
		return xerrors.New(xerrors.ErrCodeDaemonSpawn, "failed to acquire daemon lock", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	if err := s.launcher.Kill(s.cfg); err != nil {
		slog.Debug("stale daemon cleanup", slog.String("tree", s.cfg.Tree), slog.String("error", err.Error()))
	}

	pid, err := s.launcher.Launch(s.cfg)
	if err != nil {
		return xerrors.New(xerrors.ErrCodeDaemonSpawn, "failed to spawn codesearch daemon", err).
			WithDetail("tree", s.cfg.Tree)
	}
	s.pid.Store(int64(pid))

	if s.cfg.SpawnDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.SpawnDelay):
		}
	}

	poll := xerrors.PollConfig(s.cfg.MaxTries, s.cfg.PollInterval)
	// A stale daemon may still be shutting down on the port, so readiness
	// means the new one answers for this build.
	err = xerrors.Retry(ctx, poll, func() error {
		return s.identify(ctx)
	})
	if err != nil {
		return xerrors.New(xerrors.ErrCodeDaemonUnavailable, "codesearch daemon did not become ready", err).
			WithDetail("tree", s.cfg.Tree).
			WithSuggestion("check the daemon log and the codesearch_path of the tree")
	}
	return nil
}

// restart restarts the daemon unless another caller already tried since
// generation seen was observed, in which case that attempt's outcome is
// shared.
func (s *Supervisor) restart(ctx context.Context, seen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation.Load() != seen {
		return s.lastErr
	}
	return s.startLocked(ctx)
}

// Stop terminates the daemon.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.launcher.Kill(s.cfg)
	s.state.Store(int32(StateStopped))
	s.pid.Store(0)
	return err
}

// Info queries the daemon directly.
func (s *Supervisor) Info(ctx context.Context) (*InfoResult, error) {
	return s.client.Info(ctx)
}

// Search runs req on the daemon. A transport failure restarts the daemon
// once and retries; if that fails too the error matches
// ErrDaemonUnavailable. Errors reported by the daemon itself are returned
// as is.
func (s *Supervisor) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	params := SearchParams{
		Line:         req.Pattern,
		File:         req.PathFilter,
		FoldCase:     req.FoldCase,
		ContextLines: req.ContextLines,
	}

	seen := s.generation.Load()

	reply, err := s.client.Search(ctx, params)
	if err == nil {
		return s.collate(reply), nil
	}
	if !IsTransport(err) {
		return nil, err
	}

	slog.Warn("codesearch daemon unreachable, restarting",
		slog.String("tree", s.cfg.Tree),
		slog.Int("port", s.cfg.Port),
		slog.String("error", err.Error()))

	if rerr := s.restart(ctx, seen); rerr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, xerrors.New(xerrors.ErrCodeDaemonUnavailable, "codesearch daemon restart failed", rerr).
			WithDetail("tree", s.cfg.Tree)
	}

	reply, err = s.client.Search(ctx, params)
	if err != nil {
		if IsTransport(err) {
			return nil, xerrors.New(xerrors.ErrCodeDaemonUnavailable, "codesearch daemon unreachable after restart", err).
				WithDetail("tree", s.cfg.Tree)
		}
		return nil, err
	}
	return s.collate(reply), nil
}

func (s *Supervisor) collate(reply *SearchReply) *SearchResult {
	return &SearchResult{
		Hits:     CollateMatches(reply.Results, s.cfg.SubtreePrefixes),
		TimedOut: reply.Stats.ExitReason == ExitTimeout,
		LimitHit: reply.Stats.ExitReason == ExitMatchLimit || len(reply.Results) >= s.cfg.MaxMatches,
	}
}

// CollateMatches groups matches by path in order of first appearance.
// Daemons send context_before nearest line first; it is returned in file
// order.
func CollateMatches(matches []Match, prefixes map[string]string) []index.PathHit {
	var hits []index.PathHit
	byPath := make(map[string]int)

	for _, m := range matches {
		path := prefixes[m.Tree] + m.Path

		before := make([]string, len(m.ContextBefore))
		for i, l := range m.ContextBefore {
			before[len(before)-1-i] = l
		}
		if len(before) == 0 {
			before = nil
		}

		line := index.LineHit{
			Lno:           m.LineNumber,
			Bounds:        &index.Bounds{m.Bounds.Left, m.Bounds.Right},
			Line:          m.Line,
			ContextBefore: before,
			ContextAfter:  m.ContextAfter,
		}

		i, ok := byPath[path]
		if !ok {
			i = len(hits)
			byPath[path] = i
			hits = append(hits, index.PathHit{Path: path})
		}
		hits[i].Lines = append(hits[i].Lines, line)
	}
	return hits
}
