// Package logging sets up structured JSON logging for the query server and
// the full-text daemons it supervises.
//
// Records go to size-rotated files under ~/.xrefsearch/logs/: server.log for
// the HTTP/MCP front ends and codesearch-<tree>.log for each daemon. The
// package also contains the viewer behind `xrefsearch logs`.
package logging
