package skills

import (
	"context"
	"errors"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the manager's cache whenever the skills directory
// changes, so edited or newly dropped-in skills become visible without a
// restart. Blocks until ctx is done. A missing skills directory is not an
// error; Watch simply returns.
func (m *Manager) Watch(ctx context.Context) error {
	if _, err := os.Stat(m.dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.dir); err != nil {
		return err
	}
	// Watch existing skill directories too; fsnotify is not recursive.
	entries, err := os.ReadDir(m.dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(m.dir + string(os.PathSeparator) + entry.Name())
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.logger.Debug("skills: change detected", "op", event.Op.String(), "path", event.Name)
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			m.Invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("skills: watcher error", "error", err)
		}
	}
}
