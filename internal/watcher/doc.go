// Package watcher provides real-time file system watching with automatic
// debouncing and ignore-pattern filtering.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Events are debounced per path to coalesce rapid successive writes, and
// filtered the same way the Synchronizer filters its scan: dotfiles/dotdirs,
// module caches, the store's own data directory, symlinks, and any
// configured exclude globs never reach the output channel.
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	// Start blocks until ctx is cancelled or Stop is called.
//	go func() { _ = w.Start(ctx, "/path/to/project") }()
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        switch event.Operation {
//	        case watcher.OpCreate:
//	            // Handle file creation
//	        case watcher.OpModify:
//	            // Handle file modification
//	        case watcher.OpDelete:
//	            // Handle file deletion
//	        }
//	    }
//	}
package watcher
