package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch watches path for writes and invokes onChange with the freshly
// reloaded RunConfig (merged over base) each time. Used by the `serve`
// helper command (SPEC_FULL.md §12) to pick up `download-concurrency`/
// `early-exit` edits between runs without restarting the process; a
// one-shot `sync` invocation has no use for it. Grounded in the teacher's
// own config-file fsnotify watch (internal/config/load.go).
func Watch(path string, base RunConfig, logger *slog.Logger, onChange func(RunConfig)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadFile(path, base)
				if err != nil {
					logger.Warn("config: reload failed, keeping previous values", "error", err.Error())
					continue
				}
				logger.Info("config: reloaded", "path", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config: watch error", "error", err.Error())
			}
		}
	}()

	return watcher, nil
}
