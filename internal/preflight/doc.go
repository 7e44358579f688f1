// Package preflight checks that configured trees can be served before a
// server or daemon is started.
//
// The checks cover:
//   - each tree's crossref, identifiers and file-list indexes
//   - each full-text store and its daemon port
//   - the daemon run directory and log directory
//   - free disk space and the file descriptor limit
//
// Use the Checker type to run all of them:
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
