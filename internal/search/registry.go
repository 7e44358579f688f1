package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
	"github.com/Aman-CERP/xrefsearch/internal/index"
)

// CrossrefSource answers symbol lookups.
type CrossrefSource interface {
	SymbolLookup
	LookupMerging(ctx context.Context, symbols string) (*index.Merged, error)
}

// IdentifierSource answers identifier prefix lookups.
type IdentifierSource interface {
	Lookup(ctx context.Context, needle string, complete, foldCase bool, limit int) ([]index.IdentifierMatch, error)
}

// FileSource greps the tree's path list.
type FileSource interface {
	Grep(ctx context.Context, pattern string, limit int) ([]string, int, error)
}

// FullTextSource runs full-text searches, normally a daemon.Supervisor.
type FullTextSource interface {
	Search(ctx context.Context, req daemon.SearchRequest) (*daemon.SearchResult, error)
}

// Tree is the set of backends serving one tree. Any backend may be nil,
// in which case queries that need it return nothing from it.
type Tree struct {
	Name        string
	IndexPath   string
	Crossref    CrossrefSource
	Identifiers IdentifierSource
	Files       FileSource
	FullText    FullTextSource

	closers []io.Closer
}

// TreeOption configures OpenTree.
type TreeOption func(*treeOptions)

type treeOptions struct {
	cacheSize int
	fullText  FullTextSource
}

// WithCrossrefCache sets the decoded-record cache size of the tree.
func WithCrossrefCache(size int) TreeOption {
	return func(o *treeOptions) { o.cacheSize = size }
}

// WithFullText attaches a full-text backend.
func WithFullText(ft FullTextSource) TreeOption {
	return func(o *treeOptions) { o.fullText = ft }
}

// OpenTree maps the sub-indexes under indexPath. The crossref pair is
// required; a missing identifiers file or file list only disables the
// queries that need it.
func OpenTree(name, indexPath string, opts ...TreeOption) (*Tree, error) {
	o := treeOptions{cacheSize: index.DefaultRecordCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Tree{Name: name, IndexPath: indexPath}
	if o.fullText != nil {
		t.FullText = o.fullText
	}

	xref, err := index.OpenCrossref(indexPath, index.WithRecordCache(o.cacheSize))
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", name, err)
	}
	t.Crossref = xref
	t.closers = append(t.closers, xref)

	ids, err := index.OpenIdentifiers(filepath.Join(indexPath, index.IdentifiersFile))
	switch {
	case err == nil:
		t.Identifiers = ids
		t.closers = append(t.closers, ids)
	case xerrors.GetCode(err) == xerrors.ErrCodeIndexMissing:
		slog.Warn("identifiers file missing, identifier search disabled", slog.String("tree", name))
	default:
		_ = t.Close()
		return nil, fmt.Errorf("tree %s: %w", name, err)
	}

	files, err := index.OpenFileList(
		filepath.Join(indexPath, index.RepoFilesFile),
		filepath.Join(indexPath, index.ObjdirFilesFile),
	)
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("tree %s: %w", name, err)
	}
	t.Files = files
	t.closers = append(t.closers, files)

	return t, nil
}

// Close releases the tree's mapped files.
func (t *Tree) Close() error {
	var errs []error
	for _, c := range t.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.closers = nil
	return errors.Join(errs...)
}

// Registry holds every tree the server knows. It is built at startup and
// read-only afterwards.
type Registry struct {
	trees map[string]*Tree
}

// NewRegistry returns a registry of trees.
func NewRegistry(trees ...*Tree) *Registry {
	r := &Registry{trees: make(map[string]*Tree, len(trees))}
	for _, t := range trees {
		r.trees[t.Name] = t
	}
	return r
}

// Get returns the named tree, or an error matching ErrUnknownTree.
func (r *Registry) Get(name string) (*Tree, error) {
	t, ok := r.trees[name]
	if !ok {
		return nil, xerrors.New(xerrors.ErrCodeUnknownTree, fmt.Sprintf("unknown tree %q", name), nil)
	}
	return t, nil
}

// Names returns the tree names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.trees))
	for name := range r.trees {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every tree.
func (r *Registry) Close() error {
	var errs []error
	for _, t := range r.trees {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
