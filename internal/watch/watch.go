// Package watch notifies a callback when files under a provider's data
// directory change. Events are coalesced with a debounce interval so a burst
// of writes from an active session triggers one refresh, not dozens. The
// watcher never reads the files itself; callers re-query their backend.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

type Watcher struct {
	fs       *fsnotify.Watcher
	root     string
	debounce time.Duration
	onChange func()
}

// New watches root and every directory below it. onChange runs after the
// debounce interval has passed with no further events.
func New(root string, onChange func()) (*Watcher, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{
		fs:       fs,
		root:     root,
		debounce: defaultDebounce,
		onChange: onChange,
	}

	if err := w.addRecursive(root); err != nil {
		fs.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := w.fs.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
		}
		return nil
	})
}

// Run blocks until ctx is canceled, dispatching debounced change
// notifications. New directories created under the root are picked up as
// they appear.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return w.fs.Close()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addRecursive(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.onChange()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch error: %w", err)
		}
	}
}
