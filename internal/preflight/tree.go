package preflight

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/xrefsearch/internal/codesearch"
	"github.com/Aman-CERP/xrefsearch/internal/config"
	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	"github.com/Aman-CERP/xrefsearch/internal/index"
)

var (
	requiredIndexFiles = []string{index.CrossrefFile, index.IdentifiersFile, index.RepoFilesFile}
	optionalIndexFiles = []string{index.CrossrefExtraFile, index.ObjdirFilesFile}
)

// CheckIndex verifies the tree's index directory holds the files the
// search engine maps. Missing optional files only warn.
func (c *Checker) CheckIndex(name string, tc config.TreeConfig) CheckResult {
	result := CheckResult{Name: "index", Tree: name, Required: true}

	var missing, absent []string
	for _, f := range requiredIndexFiles {
		if !readable(filepath.Join(tc.IndexPath, f)) {
			missing = append(missing, f)
		}
	}
	for _, f := range optionalIndexFiles {
		if !readable(filepath.Join(tc.IndexPath, f)) {
			absent = append(absent, f)
		}
	}

	switch {
	case len(missing) > 0:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("missing %s in %s", strings.Join(missing, ", "), tc.IndexPath)
		result.Details = "run the indexer for this tree or fix index_path"
	case len(absent) > 0:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s (no %s)", tc.IndexPath, strings.Join(absent, ", "))
	default:
		result.Status = StatusPass
		result.Message = tc.IndexPath
	}
	return result
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// CheckFullText opens the tree's full-text store and reports its size.
func (c *Checker) CheckFullText(ctx context.Context, name string, tc config.TreeConfig) CheckResult {
	result := CheckResult{Name: "fulltext", Tree: name}

	store, err := codesearch.OpenStore(tc.CodesearchPath, 1)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		result.Details = "build it with: xrefsearch codesearch build --tree " + name
		return result
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to read %s: %v", tc.CodesearchPath, err)
		return result
	}

	result.Message = fmt.Sprintf("%d files, %d lines", stats.Files, stats.Lines)
	result.Status = StatusPass
	if stats.Tree != "" && stats.Tree != name {
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("store was built for tree %q", stats.Tree)
	}
	return result
}

// CheckPort reports whether the tree's daemon is already answering, and
// otherwise whether its port is free to bind.
func (c *Checker) CheckPort(ctx context.Context, name string, tc config.TreeConfig) CheckResult {
	result := CheckResult{Name: "daemon_port", Tree: name}
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(tc.CodesearchPort))

	info, err := daemon.NewClient(addr, c.dialTimeout).Info(ctx)
	if err == nil {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("daemon running on %s (pid %d, up %s)", addr, info.PID, info.Uptime)
		if info.Tree != name {
			result.Status = StatusWarn
			result.Details = fmt.Sprintf("daemon on this port serves tree %q", info.Tree)
			return result
		}
		if stamp, err := daemon.IndexStamp(tc.CodesearchPath); err == nil && stamp != info.IndexStamp {
			result.Status = StatusWarn
			result.Details = "daemon serves an older build of the store; serve will replace it"
		}
		return result
	}

	ln, lerr := net.Listen("tcp", addr)
	if lerr != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s is in use by another process", addr)
		result.Details = lerr.Error()
		return result
	}
	_ = ln.Close()

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s is free", addr)
	return result
}
