package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

// MaxBackups is how many backups of one config file are kept.
const MaxBackups = 3

const backupStamp = "20060102-150405.000"

// BackupFile is one saved copy of a config file.
type BackupFile struct {
	Path  string    `json:"path"`
	Taken time.Time `json:"taken"`
}

func backupPrefix(path string) string {
	return filepath.Base(path) + ".bak."
}

// Backup saves a timestamped copy of path next to it and drops the oldest
// copies beyond MaxBackups. A missing path is not an error and yields "".
func Backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("read %s for backup: %w", path, err)
	}

	dst := filepath.Join(filepath.Dir(path), backupPrefix(path)+time.Now().Format(backupStamp))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	backups, err := Backups(path)
	if err == nil && len(backups) > MaxBackups {
		for _, old := range backups[MaxBackups:] {
			_ = os.Remove(old.Path)
		}
	}
	return dst, nil
}

// Backups lists the saved copies of path, newest first. Files whose
// suffix is not a backup timestamp are ignored.
func Backups(path string) ([]BackupFile, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	prefix := backupPrefix(path)
	var out []BackupFile
	for _, e := range entries {
		stamp, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok || e.IsDir() {
			continue
		}
		taken, err := time.ParseInLocation(backupStamp, stamp, time.Local)
		if err != nil {
			continue
		}
		out = append(out, BackupFile{Path: filepath.Join(dir, e.Name()), Taken: taken})
	}
	slices.SortFunc(out, func(a, b BackupFile) int { return b.Taken.Compare(a.Taken) })
	return out, nil
}

// Restore makes from the config at path. The backup must parse and
// validate; the file it replaces is backed up first.
func Restore(path, from string) error {
	data, err := os.ReadFile(from)
	if err != nil {
		return xerrors.New(xerrors.ErrCodeConfigNotFound, fmt.Sprintf("backup %s not readable", from), err)
	}

	cfg := NewConfig()
	if err := cfg.decode(data); err != nil {
		return xerrors.New(xerrors.ErrCodeConfigInvalid, fmt.Sprintf("parse %s", from), err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if _, err := Backup(path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
