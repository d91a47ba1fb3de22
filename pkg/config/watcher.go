package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
)

// ActiveFlagStore is the narrow slice of pkg/store.Store the Watcher needs:
// toggling is_active without touching any other ServerConfig field.
type ActiveFlagStore interface {
	ServerByID(ctx context.Context, id string) (*ServerConfig, error)
	ListServers(ctx context.Context) ([]*ServerConfig, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// Watcher monitors a stack file for changes and reconciles each server's
// is_active flag into the store. Unlike the teacher's reload.Watcher, which
// triggers a full stack redeploy, this gateway's durable state already
// lives in sqlite once the stack has been loaded once, so a file change
// only needs to flip the one mutable flag the file still governs.
type Watcher struct {
	path     string
	store    ActiveFlagStore
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a file watcher for the stack file at path.
func NewWatcher(path string, store ActiveFlagStore) *Watcher {
	return &Watcher{
		path:     path,
		store:    store,
		logger:   logging.NewDiscardLogger(),
		debounce: 300 * time.Millisecond,
	}
}

// SetLogger sets the logger used for watch events.
func (w *Watcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// Watch blocks until ctx is cancelled, reconciling is_active on every
// debounced change to the stack file.
//
// The parent directory is watched rather than the file itself because most
// editors save atomically (write a temp file, then rename it over the
// target), which fsnotify otherwise loses track of.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: starting watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	filename := filepath.Base(w.path)

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	w.logger.Info("watching stack file for is_active changes", "path", w.path)

	var debounceTimer *time.Timer
	var debounceChan <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.NewTimer(w.debounce)
				debounceChan = debounceTimer.C
			}

		case <-debounceChan:
			debounceChan = nil
			if err := w.reconcile(ctx); err != nil {
				w.logger.Error("stack file reconcile failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// reconcile loads the stack file fresh and pushes any is_active drift for
// servers already known to the store. Servers present in the file but
// absent from the store are left for the next explicit register/apply
// call; this watcher only narrows mutable flags, it never creates rows.
func (w *Watcher) reconcile(ctx context.Context) error {
	stack, err := LoadStack(w.path)
	if err != nil {
		return err
	}

	known, err := w.store.ListServers(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*ServerConfig, len(known))
	for _, s := range known {
		byName[s.Name] = s
	}

	for _, fileSrv := range stack.Servers {
		existing, ok := byName[fileSrv.Name]
		if !ok || existing.IsActive == fileSrv.IsActive {
			continue
		}
		if err := w.store.SetActive(ctx, existing.ID, fileSrv.IsActive); err != nil {
			return fmt.Errorf("reconciling %q: %w", fileSrv.Name, err)
		}
		w.logger.Info("is_active reconciled from stack file", "server", fileSrv.Name, "is_active", fileSrv.IsActive)
	}
	return nil
}
