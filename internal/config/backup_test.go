package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

func TestBackup_MissingFile(t *testing.T) {
	dst, err := Backup(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Empty(t, dst)
}

func TestBackup_CopiesContent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "server:\n  listen: :9000\n")

	dst, err := Backup(path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(dst), "config.yaml.bak."))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "server:\n  listen: :9000\n", string(data))
}

func TestBackups_NewestFirstAndPruned(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "x: 1\n")
	for _, ts := range []string{"20260101-000000.000", "20260103-000000.000", "20260102-000000.000", "20260104-000000.000"} {
		writeFile(t, dir, "config.yaml.bak."+ts, "old\n")
	}
	writeFile(t, dir, "config.yaml.bak.notastamp", "ignored\n")
	writeFile(t, dir, "other.yaml.bak.20260105-000000.000", "unrelated\n")

	backups, err := Backups(path)
	require.NoError(t, err)
	require.Len(t, backups, 4)
	assert.Equal(t, "config.yaml.bak.20260104-000000.000", filepath.Base(backups[0].Path))
	assert.Equal(t, "config.yaml.bak.20260101-000000.000", filepath.Base(backups[3].Path))
	assert.Equal(t, 4, backups[0].Taken.Day())

	_, err = Backup(path)
	require.NoError(t, err)
	backups, err = Backups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	for _, b := range backups {
		assert.NotContains(t, b.Path, "20260101")
		assert.NotContains(t, b.Path, "20260102")
	}
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "server:\n  listen: :9000\n")
	from := writeFile(t, dir, "config.yaml.bak.20260101-000000.000", "server:\n  listen: :7000\n")

	require.NoError(t, Restore(path, from))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Listen)

	// the replaced file was itself backed up
	backups, err := Backups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestRestore_RejectsInvalidBackup(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "server:\n  listen: :9000\n")
	from := writeFile(t, dir, "config.yaml.bak.20260101-000000.000", "logging:\n  level: loud\n")

	err := Restore(path, from)
	require.Error(t, err)
	assert.Equal(t, xerrors.ErrCodeConfigInvalid, xerrors.GetCode(err))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ":9000")
}

func TestRestore_MissingBackup(t *testing.T) {
	dir := t.TempDir()
	err := Restore(filepath.Join(dir, "config.yaml"), filepath.Join(dir, "missing"))
	assert.Equal(t, xerrors.ErrCodeConfigNotFound, xerrors.GetCode(err))
}
