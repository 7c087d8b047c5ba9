package secrets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// WatchAllowlist reloads the allowlist at path into r whenever the file
// changes, until ctx is done. The parent directory is watched so that
// editors that replace the file on save are picked up. A file that fails to
// load is logged and the previous allowlist stays active.
//
// onReload, when non-nil, is called after every reload attempt.
func (r *Redactor) WatchAllowlist(ctx context.Context, path string, logger *logging.Logger, onReload func(error)) error {
	if !r.Enabled() || path == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Nop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving allowlist path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				err := r.reload(abs)
				if err != nil {
					logger.Warn(ctx, "allowlist reload failed, keeping previous allowlist",
						zap.String("path", abs), zap.Error(err))
				} else {
					logger.Info(ctx, "allowlist reloaded", zap.String("path", abs))
				}
				if onReload != nil {
					onReload(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn(ctx, "allowlist watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (r *Redactor) reload(path string) error {
	allowlist, err := LoadAllowlist(path)
	if err != nil {
		return err
	}
	return r.SetAllowlist(allowlist)
}
