package urlsource

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xkilldash9x/marquee/internal/urlfile"
	"go.uber.org/zap"
)

// watchDebounce batches the burst of events editors emit on save.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads the playlist file into a Source when it changes on disk.
// The parent directory is watched rather than the file itself, since most
// editors replace files instead of writing them in place.
type Watcher struct {
	source   *Source
	path     string
	category string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	done     chan struct{}
}

// NewWatcher sets up a filesystem watch for the playlist at path. Reloads
// are filtered to the given category, matching what the source was built
// with. Call Start to begin delivering reloads and Close to tear down.
func NewWatcher(source *Source, path, category string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		source:   source,
		path:     abs,
		category: category,
		watcher:  fsw,
		logger:   logger.Named("urlwatch"),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the watch loop. It is non-blocking; the loop ends when ctx
// is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Close stops the watch loop and releases the filesystem watch.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	// The timer is parked until a relevant event arrives.
	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("playlist watch error", zap.Error(err))

		case <-debounce.C:
			w.reload()
		}
	}
}

// reload parses the playlist and stages it into the source. A broken edit
// keeps the previous playlist running.
func (w *Watcher) reload() {
	entries, err := urlfile.Load(w.path)
	if err != nil {
		w.logger.Warn("playlist change rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	entries = urlfile.Filter(entries, w.category)
	if len(entries) == 0 {
		w.logger.Warn("playlist change rejected: no urls in category",
			zap.String("path", w.path), zap.String("category", w.category))
		return
	}
	if err := w.source.Reload(entries); err != nil {
		w.logger.Warn("playlist reload failed", zap.Error(err))
	}
}
