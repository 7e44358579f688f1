// Package query parses the search language: symbol:, id:, re:, text:,
// path:, pathre: and context: clauses plus free text.
package query
