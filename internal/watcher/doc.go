// Package watcher turns document saves on disk into indexing requests.
//
// FSWatcher watches every repository root recursively with fsnotify and
// debounces bursts of events per path. A Dispatcher maps the debounced
// events onto an indexing Sink (normally the admission controller):
//
//	create, modify         -> Index (recursive for folders)
//	delete, rename (old)   -> Unindex
//
// Hidden files and folders are never reported. Sink calls block while the
// interactive lane is saturated, so a burst of saves slows the watcher down
// instead of dropping edits.
//
// Usage:
//
//	w, err := watcher.NewFSWatcher(resolver, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	go func() { _ = w.Start(ctx) }()
//	d := watcher.NewDispatcher(resolver, controller, logger)
//	return d.Run(ctx, w.Events())
package watcher
