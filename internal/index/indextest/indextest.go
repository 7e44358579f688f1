// Package indextest writes small synthetic index directories for tests.
package indextest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Options controls how WriteCrossref lays out payloads.
type Options struct {
	// ExternalOver moves payloads longer than this many bytes into
	// crossref-extra. Zero keeps everything inline; a negative value moves
	// every payload out.
	ExternalOver int
}

// WriteCrossref writes dir/crossref and dir/crossref-extra for records,
// a map of symbol to JSON payload.
func WriteCrossref(t testing.TB, dir string, records map[string]string, opts Options) {
	t.Helper()

	syms := make([]string, 0, len(records))
	for s := range records {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	var inline, extra bytes.Buffer
	for _, sym := range syms {
		payload := records[sym]
		inline.WriteString("!" + sym + "\n")
		external := opts.ExternalOver < 0 || (opts.ExternalOver > 0 && len(payload) > opts.ExternalOver)
		if external {
			off := extra.Len()
			extra.WriteString(payload + "\n")
			fmt.Fprintf(&inline, "@%x %x\n", off, len(payload)+1)
		} else {
			inline.WriteString(":" + payload + "\n")
		}
	}

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crossref"), inline.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crossref-extra"), extra.Bytes(), 0o644))
}

// WriteIdentifiers writes dir/identifiers from (qualified, symbol) pairs,
// sorted the way the indexer sorts them.
func WriteIdentifiers(t testing.TB, dir string, pairs [][2]string) {
	t.Helper()

	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, p[0]+" "+p[1])
	}
	sort.SliceStable(lines, func(i, j int) bool {
		return strings.ToUpper(lines[i]) < strings.ToUpper(lines[j])
	})

	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "identifiers"), []byte(content), 0o644))
}

// WriteLines writes dir/name with one entry per line.
func WriteLines(t testing.TB, dir, name string, lines []string) {
	t.Helper()
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// DefsPayload returns a crossref JSON payload with one defs hit.
func DefsPayload(path string, lno int, line string) string {
	return fmt.Sprintf(`{"defs":[{"path":%q,"lines":[{"lno":%d,"bounds":[0,3],"line":%q}]}]}`, path, lno, line)
}
