// Package watch hot-reloads policy and catalog files and re-runs decisions
// when they change.
package watch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay batches rapid successive writes (editors often write a file
// several times in one save) into a single reload.
const debounceDelay = 500 * time.Millisecond

// Reloader watches files and invokes the reload callback after changes
// settle.
type Reloader struct {
	watcher *fsnotify.Watcher
	reload  func() error
	paths   []string
}

// New creates a watcher over the given paths. Empty or missing paths are
// skipped.
func New(reload func() error, paths ...string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch: add %q: %w", p, err)
		}
		watched = append(watched, p)
	}
	if len(watched) == 0 {
		watcher.Close()
		return nil, fmt.Errorf("watch: no watchable paths")
	}

	return &Reloader{watcher: watcher, reload: reload, paths: watched}, nil
}

// Paths returns the paths actually being watched.
func (r *Reloader) Paths() []string {
	return r.paths
}

// Run blocks until ctx is cancelled, reloading after each settled change.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := r.reload(); err != nil {
						fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}
