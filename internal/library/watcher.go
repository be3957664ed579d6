package library

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultSettleDelay is how long the watcher waits after a file appears
// before importing it.
const DefaultSettleDelay = 500 * time.Millisecond

// Watcher keeps the store in step with a directory tree: new media files are
// imported and removed or renamed ones are pruned.
type Watcher struct {
	importer    *Importer
	logger      *logrus.Logger
	SettleDelay time.Duration

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher that imports through importer.
func NewWatcher(importer *Importer, logger *logrus.Logger) *Watcher {
	return &Watcher{
		importer:    importer,
		logger:      logger,
		SettleDelay: DefaultSettleDelay,
	}
}

// Start begins watching root recursively. Events are handled until ctx is
// cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := w.addDirectory(root); err != nil {
		watcher.Close()
		return err
	}

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.WithField("library_path", root).Info("File watcher started")
	return nil
}

// Close stops the watcher and waits for in-flight imports.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// addDirectory recursively walks and adds subdirectories to the watcher.
func (w *Watcher) addDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("File watcher error")
		}
	}
}

// isIgnored skips hidden and temporary files.
func isIgnored(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part")
}

// handleEvent applies filtering & delegates creation/removal actions.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if isIgnored(event.Name) {
		return
	}

	supported := w.importer.IsSupported(event.Name)

	switch {
	case event.Has(fsnotify.Create) && supported:
		w.wg.Add(1)
		go func(name string) {
			defer w.wg.Done()
			select {
			case <-time.After(w.SettleDelay): // let the writer finish
			case <-ctx.Done():
				return
			}
			if _, err := w.importer.ImportFile(ctx, name); err != nil {
				w.logger.WithError(err).WithField("file_path", name).Warn("Could not import new file")
			}
		}(event.Name)

	case (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && supported:
		removed, err := w.importer.store.DeleteTracksByPath(ctx, event.Name)
		if err != nil {
			w.logger.WithError(err).WithField("file_path", event.Name).Error("Error removing track from database")
			return
		}
		if removed > 0 {
			w.logger.WithField("file_path", event.Name).Info("Removed track from database")
		}

	case event.Has(fsnotify.Create):
		// Check if it's a new directory
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirectory(event.Name); err != nil {
				w.logger.WithError(err).WithField("directory", event.Name).Warn("Could not watch new directory")
				return
			}
			w.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}
