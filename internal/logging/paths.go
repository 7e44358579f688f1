package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LogDirEnv overrides the log directory.
const LogDirEnv = "XREFSEARCH_LOG_DIR"

// DefaultLogDir returns the log directory: $XREFSEARCH_LOG_DIR, else
// ~/.xrefsearch/logs, else a directory under the system temp dir.
func DefaultLogDir() string {
	if dir := os.Getenv(LogDirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".xrefsearch", "logs")
	}
	return filepath.Join(home, ".xrefsearch", "logs")
}

// ServerLogPath returns the query server's log path.
func ServerLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// DaemonLogPath returns the log path of the full-text daemon for tree.
func DaemonLogPath(tree string) string {
	return filepath.Join(DefaultLogDir(), "codesearch-"+tree+".log")
}

// FindLogFiles resolves which files the log viewer should read.
// An explicit path wins; "server" selects the server log; "all" adds every
// daemon log; any other name selects that tree's daemon log.
func FindLogFiles(source, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("log file not found: %s", explicit)
		}
		return []string{explicit}, nil
	}

	var candidates []string
	switch source {
	case "", "server":
		candidates = []string{ServerLogPath()}
	case "all":
		candidates = append(candidates, ServerLogPath())
		daemons, _ := filepath.Glob(filepath.Join(DefaultLogDir(), "codesearch-*.log"))
		sort.Strings(daemons)
		candidates = append(candidates, daemons...)
	default:
		candidates = []string{DaemonLogPath(source)}
	}

	var found []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no log files found for %q (checked %s)", source, strings.Join(candidates, ", "))
	}
	return found, nil
}

// sourceFromPath labels a log file for merged output.
func sourceFromPath(path string) string {
	base := filepath.Base(path)
	if name, ok := strings.CutPrefix(base, "codesearch-"); ok {
		return strings.TrimSuffix(name, ".log")
	}
	return "server"
}
