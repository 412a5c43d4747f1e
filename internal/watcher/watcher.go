// Package watcher turns filesystem activity in vaults into ingestion
// items.
package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/notemcp/notemcp/internal/queue"
	"github.com/notemcp/notemcp/internal/vault"
)

// EnqueueFunc receives each note change that survives filtering and
// debouncing.
type EnqueueFunc func(queue.Item)

// VaultWatcher watches a set of vaults recursively and forwards note
// creations and modifications. Deletions and renames are logged but
// never forwarded; a note that leaves the filesystem keeps its last
// indexed state.
type VaultWatcher struct {
	vaults   vault.Set
	enqueue  EnqueueFunc
	debounce *Debouncer
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	errors chan error

	mu      sync.Mutex
	started bool
	stopped bool

	wg sync.WaitGroup
}

// New creates a watcher over the given vaults. window controls the
// per-note debounce; DefaultDebounceWindow is a sensible choice.
func New(vaults vault.Set, window time.Duration, enqueue EnqueueFunc, logger *slog.Logger) (*VaultWatcher, error) {
	if len(vaults) == 0 {
		return nil, fmt.Errorf("watcher needs at least one vault")
	}
	if enqueue == nil {
		return nil, fmt.Errorf("watcher needs an enqueue function")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &VaultWatcher{
		vaults:  vaults,
		enqueue: enqueue,
		logger:  logger,
		fsw:     fsw,
		errors:  make(chan error, 16),
	}
	w.debounce = NewDebouncer(window, enqueue)
	return w, nil
}

// Start registers the vault trees and launches the event loop.
func (w *VaultWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("watcher already started")
	}
	if w.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	for _, v := range w.vaults {
		if err := w.addRecursive(v.Root); err != nil {
			return fmt.Errorf("watch vault %s: %w", v.Name, err)
		}
		w.logger.Info("watching vault",
			slog.String("vault", v.Name),
			slog.String("root", v.Root))
	}

	w.started = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// addRecursive registers every directory under root.
func (w *VaultWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

// loop consumes raw fsnotify events until the watcher closes.
func (w *VaultWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *VaultWatcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// New directory: watch it and pick up notes created inside
			// before the watch landed.
			if err := w.addRecursive(path); err == nil {
				w.enqueueExisting(path)
			}
			return
		}
		w.forwardNote(path, "created")

	case event.Op&fsnotify.Write != 0:
		w.forwardNote(path, "modified")

	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		// Deletions keep their indexed entry; the stored state is the
		// note's last known content.
		if vault.IsNote(path) {
			w.logger.Info("note removed or renamed, index entry retained",
				slog.String("path", path),
				slog.String("op", event.Op.String()))
		}

	default:
		// Chmod and friends carry no content change.
	}
}

// forwardNote filters a path and hands it to the debouncer.
func (w *VaultWatcher) forwardNote(path, action string) {
	if !vault.IsNote(path) {
		return
	}

	v, ok := w.vaults.Owner(path)
	if !ok {
		return
	}

	w.logger.Debug("note "+action,
		slog.String("vault", v.Name),
		slog.String("path", path))
	w.debounce.Add(queue.Item{Vault: v.Name, Path: path})
}

// enqueueExisting forwards notes already present under a directory
// that just became watched.
func (w *VaultWatcher) enqueueExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		w.forwardNote(path, "created")
		return nil
	})
}

// Errors exposes non-fatal watcher errors.
func (w *VaultWatcher) Errors() <-chan error {
	return w.errors
}

// Stop closes the underlying watcher, waits for the event loop to
// drain, and flushes debounced items. Safe to call twice.
func (w *VaultWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	w.debounce.Stop()
	return err
}
