package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const debounceDelay = 300 * time.Millisecond

// Watch reloads the configuration whenever its file changes and calls
// onChange after each successful reload. It returns once the watcher is
// running; the watcher stops when ctx is done.
func (c *Config) Watch(ctx context.Context, logger *zap.Logger, onChange func(*Config)) error {
	if c.file == "" {
		return errors.New("config: no file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: create watcher")
	}
	// watch the directory so editors that replace the file are seen
	if err := w.Add(filepath.Dir(c.file)); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "config: watch %s", c.file)
	}
	logger.Info("watching configuration", zap.String("file", c.file))

	go c.watchLoop(ctx, w, logger, onChange)
	return nil
}

func (c *Config) watchLoop(ctx context.Context, w *fsnotify.Watcher, logger *zap.Logger, onChange func(*Config)) {
	defer w.Close()

	target := filepath.Clean(c.file)
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if err := c.Reload(); err != nil {
			logger.Error("configuration reload failed", zap.Error(err))
			return
		}
		logger.Info("configuration reloaded", zap.String("file", c.file))
		if onChange != nil {
			onChange(c)
		}
	}

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, reload)
			mu.Unlock()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("configuration watcher error", zap.Error(err))

		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return
		}
	}
}
