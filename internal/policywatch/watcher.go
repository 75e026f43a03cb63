// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policywatch reloads the policy document on change. It
// watches the document's parent directory rather than the file
// itself: editors and `kubectl cp`-style tools commonly replace a
// file via rename rather than truncate-and-write, and a watch on the
// file's inode would silently stop seeing events the moment that
// happens.
package policywatch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"grimm.is/furui/internal/errors"
	"grimm.is/furui/internal/logging"
)

// debounce absorbs the burst of events (often CREATE, then WRITE,
// then RENAME) one atomic-rename save produces.
const debounce = 100 * time.Millisecond

// ReloadFunc is called once the debounce window settles after a
// relevant change. It is expected to re-parse, recompile, and reload
// the policy maps.
type ReloadFunc func(ctx context.Context) error

// Watcher watches one policy file's parent directory and invokes
// Reload on changes to that specific file.
type Watcher struct {
	path   string
	reload ReloadFunc
	logger *logging.Logger
}

// New constructs a Watcher for the policy document at path.
func New(path string, reload ReloadFunc, logger *logging.Logger) *Watcher {
	return &Watcher{path: path, reload: reload, logger: logger}
}

// Run blocks until ctx is canceled, invoking Reload whenever path
// changes.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "create fsnotify watcher")
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "watch policy directory %s", dir)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != filepath.Clean(w.path) {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("policy watcher error", "error", err)

		case <-fire:
			w.logger.Info("policy file changed, reloading", "path", w.path)
			if err := w.reload(ctx); err != nil {
				w.logger.Error("policy reload failed", "path", w.path, "error", err)
			}
		}
	}
}
