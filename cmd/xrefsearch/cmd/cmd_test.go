package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/xrefsearch/internal/config"
	"github.com/Aman-CERP/xrefsearch/internal/index"
	"github.com/Aman-CERP/xrefsearch/internal/index/indextest"
)

// isolate points config and log locations at temp dirs and resets the
// package-level flag state between runs.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XREFSEARCH_LOG_DIR", t.TempDir())
	t.Setenv("NO_COLOR", "1")
	for _, key := range []string{"XREFSEARCH_LISTEN", "XREFSEARCH_LOG_LEVEL", "XREFSEARCH_REQUEST_TIMEOUT", "XREFSEARCH_RUN_DIR", "XREFSEARCH_WATCH"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
	configPath = ""
	debugMode = false
	profileSession = nil
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeTreeConfig indexes trees holding Foo#Bar at path.cpp:42 and writes
// a config naming them.
func writeTreeConfig(t *testing.T, trees ...string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("trees:\n")
	for _, name := range trees {
		dir := filepath.Join(t.TempDir(), name)
		indextest.WriteCrossref(t, dir, map[string]string{
			"Foo#Bar": indextest.DefsPayload("path.cpp", 42, "void Foo::Bar() {"),
		}, indextest.Options{})
		indextest.WriteIdentifiers(t, dir, [][2]string{{"Foo::Bar", "Foo#Bar"}})
		indextest.WriteLines(t, dir, index.RepoFilesFile, []string{"path.cpp", "dom/Window.cpp"})
		fmt.Fprintf(&sb, "  %s:\n    index_path: %s\n", name, dir)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestRootCmd_ListsCommands(t *testing.T) {
	isolate(t)
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "query", "define", "mcp", "codesearch", "daemon", "config", "logs", "doctor", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestVersionCmd(t *testing.T) {
	isolate(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "xrefsearch "))
	assert.Contains(t, out, "full-text store schema: v1")

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "go_version")
	assert.EqualValues(t, 1, info["store_schema"])
}

func TestQueryCmd_JSON(t *testing.T) {
	isolate(t)
	cfg := writeTreeConfig(t, "mozilla-central")

	out, err := execute(t, "--config", cfg, "query", "--json", "symbol:Foo#Bar")
	require.NoError(t, err)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Contains(t, body, "normal")
	assert.Contains(t, string(body["normal"]), `"path.cpp"`)
}

func TestQueryCmd_Plain(t *testing.T) {
	isolate(t)
	cfg := writeTreeConfig(t, "mozilla-central")

	out, err := execute(t, "--config", cfg, "query", "-t", "mozilla-central", "symbol:Foo#Bar")
	require.NoError(t, err)
	assert.Contains(t, out, "Definitions (1)")
	assert.Contains(t, out, "42: void Foo::Bar() {")
}

func TestQueryCmd_Raw(t *testing.T) {
	isolate(t)
	cfg := writeTreeConfig(t, "mozilla-central")

	out, err := execute(t, "--config", cfg, "query", "--raw", "Window")
	require.NoError(t, err)
	assert.Contains(t, out, "dom/Window.cpp")
}

func TestQueryCmd_TreeSelection(t *testing.T) {
	isolate(t)
	cfg := writeTreeConfig(t, "a", "b")

	_, err := execute(t, "--config", cfg, "query", "Foo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pass --tree")

	_, err = execute(t, "--config", cfg, "query", "-t", "nope", "Foo")
	require.Error(t, err)
}

func TestDefineCmd(t *testing.T) {
	isolate(t)
	cfg := writeTreeConfig(t, "mozilla-central")

	out, err := execute(t, "--config", cfg, "define", "Foo#Bar")
	require.NoError(t, err)
	assert.Equal(t, "path.cpp:42 /mozilla-central/source/path.cpp#42\n", out)

	_, err = execute(t, "--config", cfg, "define", "Nope#Nope")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "xrefsearch", "config.yaml")

	// Given: no config file
	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "created "+path)

	// Then: the template loads cleanly
	_, err = config.Load(path)
	require.NoError(t, err)

	// When: init runs again without --force
	out, err = execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// When: --force replaces it
	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)
	backups, err := config.Backups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	// When: the backup is restored
	out, err = execute(t, "--config", path, "config", "backups", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, backups[0].Path)

	out, err = execute(t, "--config", path, "config", "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "restored "+path)
}

func TestConfigShowAndPath(t *testing.T) {
	isolate(t)

	out, err := execute(t, "config", "show", "--source", "defaults", "--json")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, ":8000", cfg.Server.Listen)

	out, err = execute(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPath()+"\n", out)

	_, err = execute(t, "config", "show", "--source", "bogus")
	assert.Error(t, err)
}

func TestCodesearchBuildCmd(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.cpp"), []byte("int a;\nint b;\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.h"), []byte("#pragma once\n"), 0o644))
	list := filepath.Join(t.TempDir(), "repo-files")
	require.NoError(t, os.WriteFile(list, []byte("a.cpp\nb.h\n"), 0o644))
	store := filepath.Join(t.TempDir(), "livegrep.db")

	out, err := execute(t, "codesearch", "build", "--tree", "t", "--root", root, "--files", list, "--out", store)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 2 files, 3 lines")
	assert.FileExists(t, store)

	_, err = execute(t, "codesearch", "build", "--root", root)
	assert.Error(t, err)
}

func TestDaemonStatus_NoFullTextTrees(t *testing.T) {
	isolate(t)
	cfg := writeTreeConfig(t, "mozilla-central")

	out, err := execute(t, "--config", cfg, "daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "no trees have a full-text index")

	out, err = execute(t, "--config", cfg, "daemon", "status", "--json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	_, err = execute(t, "--config", cfg, "daemon", "start", "mozilla-central")
	assert.Error(t, err)
}

func TestSupervisorConfig_FromConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Codesearch.RunDir = "/tmp/run"
	cfg.Codesearch.MaxMatches = 50
	cfg.Codesearch.Threads = 3
	tc := config.TreeConfig{IndexPath: "/idx", CodesearchPath: "/idx/livegrep.db", CodesearchPort: 8090,
		SubtreePrefixes: map[string]string{"nss": "security/nss/"}}

	sc := supervisorConfig(cfg, "mc", tc)
	assert.Equal(t, "mc", sc.Tree)
	assert.Equal(t, "/idx/livegrep.db", sc.IndexPath)
	assert.Equal(t, "localhost:8090", sc.Addr())
	assert.Equal(t, "/tmp/run", sc.RunDir)
	assert.Equal(t, 50, sc.MaxMatches)
	assert.Equal(t, 3, sc.Threads)
	assert.Equal(t, cfg.SearchTimeout(), sc.SearchTimeout)
	assert.Equal(t, "security/nss/", sc.SubtreePrefixes["nss"])
}

func TestDoctorCmd(t *testing.T) {
	isolate(t)
	t.Setenv("XREFSEARCH_RUN_DIR", t.TempDir())
	cfg := writeTreeConfig(t, "mozilla-central")

	out, err := execute(t, "--config", cfg, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "mozilla-central/index")
	assert.Contains(t, out, "objdir-files")
	assert.Contains(t, out, "Status: READY_WITH_WARNINGS")

	out, err = execute(t, "--config", cfg, "doctor", "--json")
	require.NoError(t, err)
	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "index", results[0]["name"])
	assert.Equal(t, "WARN", results[0]["status"])
}

func TestDoctorCmd_MissingIndex(t *testing.T) {
	isolate(t)
	t.Setenv("XREFSEARCH_RUN_DIR", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "trees:\n  broken:\n    index_path: " + filepath.Join(t.TempDir(), "missing") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	out, err := execute(t, "--config", path, "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "broken/index: missing crossref")
	assert.Contains(t, out, "Status: FAILED")
}

func TestProfileFlags(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.out")
	heap := filepath.Join(dir, "heap.out")

	_, err := execute(t, "--profile-cpu", cpu, "--profile-mem", heap, "version", "--short")
	require.NoError(t, err)
	assert.Nil(t, profileSession)

	for _, p := range []string{cpu, heap} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size(), p)
	}
}
