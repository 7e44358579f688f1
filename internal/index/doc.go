// Package index reads the on-disk sub-indexes of a tree: the crossref file
// pair, the identifiers file and the repository file lists.
//
// All files are memory-mapped read-only and searched by bisection over byte
// offsets, so opening an index is cheap and lookups touch only the pages
// they compare. Nothing in this package writes to the index.
package index
