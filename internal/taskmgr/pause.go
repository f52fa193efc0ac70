package taskmgr

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// pauseSentinel is the file whose presence in the control directory
// pauses dispatching.
const pauseSentinel = "paused"

// ControlWatcher pauses and resumes the manager based on a sentinel file
// in a control directory: creating <dir>/paused pauses dispatch, removing
// it resumes. Lets an operator gate dispatching with touch and rm, no API
// call needed.
type ControlWatcher struct {
	mgr     *Manager
	dir     string
	watcher *fsnotify.Watcher
}

// NewControlWatcher creates the control directory if needed and begins
// watching it. The initial state is read from the directory so a sentinel
// present before startup takes effect.
func NewControlWatcher(mgr *Manager, dir string) (*ControlWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create control directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch control directory: %w", err)
	}

	cw := &ControlWatcher{mgr: mgr, dir: dir, watcher: watcher}
	cw.apply()
	return cw, nil
}

// Run processes filesystem events until the context is cancelled.
func (cw *ControlWatcher) Run(ctx context.Context) error {
	defer cw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == pauseSentinel {
				cw.apply()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[control] watch error: %v", err)
		}
	}
}

// apply syncs the manager's pause state with the sentinel file.
func (cw *ControlWatcher) apply() {
	_, err := os.Stat(filepath.Join(cw.dir, pauseSentinel))
	switch {
	case err == nil:
		log.Printf("[control] pause sentinel present, pausing dispatch")
		cw.mgr.Pause()
	case os.IsNotExist(err):
		if cw.mgr.Paused() {
			log.Printf("[control] pause sentinel removed, resuming dispatch")
		}
		cw.mgr.Resume()
	default:
		log.Printf("[control] stat sentinel: %v", err)
	}
}
