package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrPIDFileNotFound is returned by Read when no daemon was recorded.
var ErrPIDFileNotFound = errors.New("PID file not found")

// Record is what the PID file holds about a spawned daemon: its pid and
// the address it was told to listen on.
type Record struct {
	PID  int
	Addr string
}

// PIDFile is the on-disk record of one tree's daemon. The file holds
// "<pid> <addr>\n"; a bare pid is accepted too.
type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

func (p *PIDFile) Path() string { return p.path }

// Write records rec, creating the run directory if needed.
func (p *PIDFile) Write(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	line := strconv.Itoa(rec.PID)
	if rec.Addr != "" {
		line += " " + rec.Addr
	}
	return os.WriteFile(p.path, []byte(line+"\n"), 0o644)
}

func (p *PIDFile) Read() (Record, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return Record{}, ErrPIDFileNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read %s: %w", p.path, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("invalid PID file %s: empty", p.path)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return Record{}, fmt.Errorf("invalid PID %q in %s", fields[0], p.path)
	}
	rec := Record{PID: pid}
	if len(fields) > 1 {
		rec.Addr = fields[1]
	}
	return rec, nil
}

// Remove deletes the file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsRunning reports whether the recorded process is alive.
func (p *PIDFile) IsRunning() bool {
	rec, err := p.Read()
	return err == nil && processExists(rec.PID)
}

// Terminate stops the recorded process with SIGTERM, escalating to SIGKILL
// after grace, and removes the file. It returns what was recorded so the
// caller can clean up by address as well.
func (p *PIDFile) Terminate(grace time.Duration) (Record, error) {
	rec, err := p.Read()
	if errors.Is(err, ErrPIDFileNotFound) {
		return Record{}, nil
	}
	defer func() { _ = p.Remove() }()
	if err != nil {
		return Record{}, err
	}

	if !processExists(rec.PID) {
		return rec, nil
	}
	if err := unix.Kill(rec.PID, unix.SIGTERM); err != nil {
		return rec, fmt.Errorf("signal daemon %d: %w", rec.PID, err)
	}
	for deadline := time.Now().Add(grace); time.Now().Before(deadline); {
		if !processExists(rec.PID) {
			return rec, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := unix.Kill(rec.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return rec, fmt.Errorf("kill daemon %d: %w", rec.PID, err)
	}
	return rec, nil
}

// processExists sends pid signal 0. EPERM means it exists under
// another user.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// killByPattern stops unrecorded daemons whose command line names addr,
// such as one left by a server that crashed before writing its PID file.
func killByPattern(addr string) {
	pattern := fmt.Sprintf("^.*codesearch.+%s ", strings.ReplaceAll(addr, ".", `\.`))
	err := exec.Command("pkill", "-f", pattern).Run()
	var exitErr *exec.ExitError
	if err == nil || (errors.As(err, &exitErr) && exitErr.ExitCode() == 1) {
		// exit 1: nothing matched
		return
	}
	slog.Debug("pkill failed", slog.String("addr", addr), slog.String("error", err.Error()))
}
