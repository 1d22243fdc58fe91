package rag

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reindexDebounce = 2 * time.Second

// WatchCorpus re-ingests the corpus file whenever it is rewritten, swapping
// both indices atomically. Crawler exports tend to arrive as several write
// events, so rebuilds are debounced. Blocks until the context is canceled.
func (e *Engine) WatchCorpus(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors and exporters often replace the file,
	// which would invalidate a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var debounce *time.Timer
	rebuild := make(chan struct{}, 1)

	e.logger.Info("Watching corpus for changes", zap.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reindexDebounce, func() {
				select {
				case rebuild <- struct{}{}:
				default:
				}
			})
		case <-rebuild:
			e.logger.Info("Corpus changed, rebuilding indices")
			if err := e.Ingest(ctx, target); err != nil {
				e.logger.Error("Corpus re-ingestion failed, keeping previous indices", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("Corpus watcher error", zap.Error(err))
		}
	}
}
