//go:build ignore

// Package main generates a synthetic C++ tree and its crossref indexes for
// benchmarking.
// Usage: go run scripts/generate-test-index.go -files 1000 -output testdata/bench
//
// The output holds src/ (the checkout), index/ (crossref, crossref-extra,
// identifiers, repo-files) and can be fed to the full-text build with
//
//	xrefsearch codesearch build --root testdata/bench/src \
//	    --files testdata/bench/index/repo-files --out testdata/bench/codesearch.db
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of source files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

const sourceTemplate = `// %s support.
#include "%s.h"

class %s {
 public:
  void %s();
};

void %s::%s() {
  %s::%s();
}
`

// Line numbers in sourceTemplate.
const (
	lnoClass  = 4
	lnoDecl   = 6
	lnoDef    = 9
	lnoCaller = 10
)

var (
	nouns = []string{
		"Handler", "Manager", "Service", "Controller", "Processor",
		"Engine", "Client", "Server", "Worker", "Factory",
		"Builder", "Parser", "Validator", "Formatter", "Converter",
		"Cache", "Store", "Queue", "Pool", "Buffer",
		"Router", "Dispatcher", "Scheduler", "Monitor", "Logger",
	}
	adjectives = []string{
		"Async", "Sync", "Fast", "Smart", "Simple",
		"Advanced", "Basic", "Custom", "Default", "Dynamic",
		"Global", "Local", "Main", "Core", "Base",
	}
	verbs = []string{
		"Process", "Handle", "Execute", "Run", "Start",
		"Stop", "Create", "Delete", "Update", "Read",
		"Parse", "Format", "Validate", "Convert", "Transform",
	}
	dirs = []string{"dom", "layout", "netwerk", "gfx", "js/src", "xpcom", "toolkit"}
)

type lineHit struct {
	Lno    int    `json:"lno"`
	Bounds [2]int `json:"bounds"`
	Line   string `json:"line"`
}

type pathHit struct {
	Path  string    `json:"path"`
	Lines []lineHit `json:"lines"`
}

type unit struct {
	path   string
	class  string
	method string
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	srcDir := filepath.Join(*outputDir, "src")
	indexDir := filepath.Join(*outputDir, "index")
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		fail(err)
	}

	units := make([]unit, *numFiles)
	for i := range units {
		class := fmt.Sprintf("%s%s%d", adjectives[rng.Intn(len(adjectives))], nouns[rng.Intn(len(nouns))], i)
		units[i] = unit{
			path:   fmt.Sprintf("%s/%s.cpp", dirs[rng.Intn(len(dirs))], class),
			class:  class,
			method: verbs[rng.Intn(len(verbs))],
		}
	}

	fmt.Printf("Generating %d files in %s...\n", len(units), *outputDir)

	records := make(map[string]map[string][]pathHit)
	addHit := func(sym, rel, path string, lno int, line, name string) {
		if records[sym] == nil {
			records[sym] = make(map[string][]pathHit)
		}
		line = strings.TrimSpace(line)
		// a method name can also occur inside its class name
		start := strings.LastIndex(line, name)
		hit := lineHit{Lno: lno, Bounds: [2]int{start, start + len(name)}, Line: line}
		records[sym][rel] = append(records[sym][rel], pathHit{Path: path, Lines: []lineHit{hit}})
	}

	var identifiers, repoFiles []string
	for i, u := range units {
		// each unit calls the next one, so every method has one use
		callee := units[(i+1)%len(units)]
		body := fmt.Sprintf(sourceTemplate, filepath.Dir(u.path), u.class,
			u.class, u.method, u.class, u.method, callee.class, callee.method)

		full := filepath.Join(srcDir, filepath.FromSlash(u.path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			fail(err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			fail(err)
		}
		repoFiles = append(repoFiles, u.path)

		lines := strings.Split(body, "\n")
		methodSym := u.class + "#" + u.method
		addHit(u.class, "defs", u.path, lnoClass, lines[lnoClass-1], u.class)
		addHit(methodSym, "decls", u.path, lnoDecl, lines[lnoDecl-1], u.method)
		addHit(methodSym, "defs", u.path, lnoDef, lines[lnoDef-1], u.method)

		calleeSym := callee.class + "#" + callee.method
		addHit(calleeSym, "uses", u.path, lnoCaller, lines[lnoCaller-1], callee.method)

		identifiers = append(identifiers,
			u.class+" "+u.class,
			u.class+"::"+u.method+" "+methodSym)
	}

	if err := writeCrossref(indexDir, records); err != nil {
		fail(err)
	}
	sort.SliceStable(identifiers, func(i, j int) bool {
		return strings.ToUpper(identifiers[i]) < strings.ToUpper(identifiers[j])
	})
	if err := writeLines(filepath.Join(indexDir, "identifiers"), identifiers); err != nil {
		fail(err)
	}
	sort.Strings(repoFiles)
	if err := writeLines(filepath.Join(indexDir, "repo-files"), repoFiles); err != nil {
		fail(err)
	}

	fmt.Printf("Generated %d files and %d symbols.\n", len(units), len(records))
}

// writeCrossref writes records inline, sorted by symbol. crossref-extra is
// left empty.
func writeCrossref(dir string, records map[string]map[string][]pathHit) error {
	syms := make([]string, 0, len(records))
	for s := range records {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	var buf bytes.Buffer
	for _, sym := range syms {
		payload, err := json.Marshal(records[sym])
		if err != nil {
			return err
		}
		buf.WriteString("!" + sym + "\n:")
		buf.Write(payload)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, "crossref"), buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "crossref-extra"), nil, 0o644)
}

func writeLines(path string, lines []string) error {
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
