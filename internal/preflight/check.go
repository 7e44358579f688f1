package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/xrefsearch/internal/config"
	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	"github.com/Aman-CERP/xrefsearch/internal/logging"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status as its name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Tree     string      `json:"tree,omitempty"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs checks against a configuration.
type Checker struct {
	cfg          *config.Config
	dialTimeout time.Duration
	runDir       string
	logDir       string
}

// Option configures a Checker.
type Option func(*Checker)

// WithDialTimeout bounds each daemon info call.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.dialTimeout = d
	}
}

// WithRunDir overrides the daemon run directory.
func WithRunDir(dir string) Option {
	return func(c *Checker) {
		c.runDir = dir
	}
}

// WithLogDir overrides the log directory.
func WithLogDir(dir string) Option {
	return func(c *Checker) {
		c.logDir = dir
	}
}

// New returns a Checker for cfg.
func New(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:          cfg,
		dialTimeout: time.Second,
		runDir:       cfg.Codesearch.RunDir,
		logDir:       logging.DefaultLogDir(),
	}
	if c.runDir == "" {
		c.runDir = daemon.DefaultRunDir()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs the per-tree checks in tree name order, then the system
// checks.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	var results []CheckResult

	names := c.cfg.TreeNames()
	if len(names) == 0 {
		results = append(results, CheckResult{
			Name:     "trees",
			Status:   StatusFail,
			Message:  "no trees configured",
			Details:  "add a tree under trees: in the config file",
			Required: true,
		})
	}
	for _, name := range names {
		tc := c.cfg.Trees[name]
		results = append(results, c.CheckIndex(name, tc))
		if tc.CodesearchPath != "" {
			results = append(results, c.CheckFullText(ctx, name, tc))
			results = append(results, c.CheckPort(ctx, name, tc))
		}
	}

	results = append(results, c.CheckWritePermissions("run_dir", c.runDir))
	results = append(results, c.CheckWritePermissions("log_dir", c.logDir))
	results = append(results, c.CheckDiskSpace(c.logDir))
	results = append(results, c.CheckFileDescriptors(len(names)))
	return results
}

// CheckWritePermissions verifies dir can be created and written to.
func (c *Checker) CheckWritePermissions(name, dir string) CheckResult {
	result := CheckResult{Name: name, Required: true}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s", dir)
		result.Details = err.Error()
		return result
	}

	f, err := os.CreateTemp(dir, ".xrefsearch-write-check-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not writable", dir)
		result.Details = err.Error()
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = filepath.Clean(dir)
	return result
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Summary returns "failed", "ready_with_warnings" or "ready".
func Summary(results []CheckResult) string {
	warnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warnings = true
		}
	}
	if warnings {
		return "ready_with_warnings"
	}
	return "ready"
}
