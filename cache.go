package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultReloadDebounce = 250 * time.Millisecond

// reloader rebuilds the offline datasets.
type reloader interface {
	Reload(ctx context.Context) int
}

// DatasetWatcher reloads the engine when one of its dataset files changes.
type DatasetWatcher struct {
	engine   reloader
	watcher  *fsnotify.Watcher
	dir      string
	files    map[string]bool
	debounce time.Duration
}

func NewDatasetWatcher(dir string, files DatasetFiles, engine reloader) (*DatasetWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch dataset directory: %w", err)
	}

	dw := &DatasetWatcher{
		engine:   engine,
		watcher:  watcher,
		dir:      dir,
		debounce: defaultReloadDebounce,
		files: map[string]bool{
			filepath.Base(files.Descriptions): true,
			filepath.Base(files.Precautions):  true,
			filepath.Base(files.Vaccinations): true,
		},
	}

	log.Info().Str("dir", dir).Msg("Dataset watcher initialized")
	return dw, nil
}

func (dw *DatasetWatcher) Close() {
	if dw.watcher != nil {
		dw.watcher.Close()
	}
}

// Watch runs until ctx is done or the watcher is closed. Bursts of events
// are collapsed into one reload.
func (dw *DatasetWatcher) Watch(ctx context.Context) {
	log.Info().Msg("Dataset watcher started")

	timer := time.NewTimer(dw.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !dw.files[filepath.Base(event.Name)] {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Dataset changed")
			timer.Reset(dw.debounce)

		case <-timer.C:
			n := dw.engine.Reload(ctx)
			log.Info().Int("topics", n).Msg("Datasets reloaded after file change")

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Dataset watcher error")
		}
	}
}
