package dataset

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/persistunit"
)

// Watcher invalidates Loader entries when their files change on disk, so a
// long running suite picks up edited datasets.
type Watcher struct {
	loader  *Loader
	watcher *fsnotify.Watcher
	logger  persistunit.Logger

	// OnInvalidate, when set, is called after an entry was dropped.
	OnInvalidate func(path string)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewWatcher creates a watcher for loader. Call Add for each directory to
// watch and Start to begin processing events.
func NewWatcher(loader *Loader, logger persistunit.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating dataset watcher: %w", err)
	}
	if logger == nil {
		logger = persistunit.NopLogger()
	}
	return &Watcher{loader: loader, watcher: fw, logger: logger, done: make(chan struct{})}, nil
}

// Add watches dir, resolved like a dataset path.
func (w *Watcher) Add(dir string) error {
	abs, err := w.loader.Resolve(dir)
	if err != nil {
		return err
	}
	if err := w.watcher.Add(abs); err != nil {
		return fmt.Errorf("watching %s: %w", abs, err)
	}
	return nil
}

// Start processes file events until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.loader.Invalidate(event.Name)
			w.logger.Debug("Dataset invalidated", "path", event.Name, "op", event.Op.String())
			if w.OnInvalidate != nil {
				w.OnInvalidate(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Dataset watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		err = w.watcher.Close()
		if w.cancel != nil {
			<-w.done
		}
	})
	return err
}
