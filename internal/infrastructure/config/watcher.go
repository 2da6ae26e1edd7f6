package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/pkg/safego"
)

// Holder is the process-wide atomic config snapshot. Readers get a
// consistent *Config; hot reload swaps the whole pointer. Sessions that
// already hold a snapshot keep it until they finish.
type Holder struct {
	current atomic.Pointer[Config]
}

// NewHolder creates a holder with the initial snapshot.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.current.Store(cfg)
	return h
}

// Current returns the active config snapshot.
func (h *Holder) Current() *Config {
	return h.current.Load()
}

// Swap validates and installs a new snapshot.
func (h *Holder) Swap(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

// Watcher reloads the config file on change and swaps the holder's
// snapshot. Invalid edits are logged and ignored; the previous snapshot
// stays active.
type Watcher struct {
	path     string
	holder   *Holder
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher starts watching the config file. Editors typically replace
// the file by rename, so the parent directory is watched instead of the
// file itself.
func NewWatcher(path string, holder *Holder, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}

	return &Watcher{
		path:     abs,
		holder:   holder,
		logger:   logger.With(zap.String("component", "config-watcher")),
		watcher:  fsw,
		onChange: onChange,
	}, nil
}

// Start runs the watch loop until the context is canceled.
func (w *Watcher) Start(ctx context.Context) {
	safego.Go(w.logger, "config-watcher", func() {
		// Rapid write bursts from editors collapse into one reload.
		var pending *time.Timer
		defer func() {
			if pending != nil {
				pending.Stop()
			}
		}()

		reload := make(chan struct{}, 1)
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
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				w.reload()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("Watcher error", zap.Error(err))
			}
		}
	})

	w.logger.Info("Config hot-reload watching started",
		zap.String("path", w.path),
	)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload rejected, keeping previous snapshot",
			zap.Error(err),
		)
		return
	}
	if err := w.holder.Swap(cfg); err != nil {
		w.logger.Warn("Config reload rejected, keeping previous snapshot",
			zap.Error(err),
		)
		return
	}
	w.logger.Info("Config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Save writes the config back to disk as YAML. The write is atomic: a
// temp file in the same directory is renamed over the target.
func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
