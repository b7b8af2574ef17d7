package workspace

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fsWatcher wraps fsnotify.Watcher, recursively registering directories so
// that nested creates are observed without the caller re-adding watches
// by hand (fsnotify itself is non-recursive).
type fsWatcher struct {
	inner *fsnotify.Watcher
	done  chan struct{}
}

// newFSWatcher watches root recursively and invokes onEvent(path, removed)
// for every create/write/remove/rename under it.
func newFSWatcher(root string, onEvent func(path string, removed bool)) (*fsWatcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := addRecursive(inner, root); err != nil {
		inner.Close()
		return nil, err
	}

	w := &fsWatcher{inner: inner, done: make(chan struct{})}
	go w.loop(onEvent)
	return w, nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (w *fsWatcher) loop(onEvent func(path string, removed bool)) {
	for {
		select {
		case event, ok := <-w.inner.Events:
			if !ok {
				return
			}
			switch {
			case event.Op&fsnotify.Create != 0:
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.inner.Add(event.Name)
				}
				onEvent(event.Name, false)
			case event.Op&fsnotify.Write != 0:
				onEvent(event.Name, false)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				onEvent(event.Name, true)
			}
		case _, ok := <-w.inner.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *fsWatcher) Close() {
	close(w.done)
	w.inner.Close()
}
