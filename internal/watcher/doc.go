// Package watcher notices when a tree's index files are replaced on disk.
//
// The server maps index files once at startup, so a rebuilt index is not
// picked up until the process restarts. The watcher watches each tree's
// index directory with fsnotify (falling back to polling where fsnotify is
// unavailable, e.g. some network mounts), debounces the burst of events an
// index build produces, and reports one Change per tree.
//
// Usage:
//
//	w, err := watcher.New(targets, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	go w.Run(ctx, func(c watcher.Change) {
//	    slog.Warn("index replaced; restart to serve it", slog.String("tree", c.Tree))
//	})
package watcher
