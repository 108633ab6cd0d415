package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kayedejour/kayedejour/internal/journal"
	"github.com/kayedejour/kayedejour/internal/store"
)

// ImportWatcher watches a drop directory for note JSON files and
// imports them into the local store as dirty rows, so offline bulk
// captures (exports from other tools, scripted notes) ride the normal
// push path on the next cycle.
type ImportWatcher struct {
	watcher *fsnotify.Watcher
	store   *store.Store
	dir     string
	logger  *log.Logger

	imported chan string

	pendingMu sync.Mutex
	pending   map[string]time.Time
}

// NewImportWatcher creates a watcher over dir, creating it if needed.
func NewImportWatcher(dir string, st *store.Store, logger *log.Logger) (*ImportWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create import directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if logger == nil {
		logger = log.New(os.Stderr, "[import] ", log.LstdFlags)
	}

	return &ImportWatcher{
		watcher:  watcher,
		store:    st,
		dir:      dir,
		logger:   logger,
		imported: make(chan string, 32),
		pending:  make(map[string]time.Time),
	}, nil
}

// Imported returns the channel of imported note ids.
func (w *ImportWatcher) Imported() <-chan string {
	return w.imported
}

// Close releases the underlying filesystem watcher.
func (w *ImportWatcher) Close() error {
	return w.watcher.Close()
}

// Run processes filesystem events until ctx is cancelled. Files are
// imported only after they stop changing for a short settle window,
// so partially-written drops are not read mid-write.
func (w *ImportWatcher) Run(ctx context.Context) {
	const settle = 200 * time.Millisecond

	// Pick up anything already sitting in the directory.
	w.importExisting(ctx)

	ticker := time.NewTicker(settle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watcher error: %v", err)

		case <-ticker.C:
			w.importSettled(ctx, settle)
		}
	}
}

// importExisting imports files already present at startup.
func (w *ImportWatcher) importExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Printf("failed to scan import directory: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		w.importFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

// importSettled imports queued files that have stopped changing.
func (w *ImportWatcher) importSettled(ctx context.Context, settle time.Duration) {
	w.pendingMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range w.pending {
		if now.Sub(queuedAt) >= settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()

	for _, path := range ready {
		w.importFile(ctx, path)
	}
}

// importFile reads one dropped note and stores it dirty. The source
// file is removed after a successful import so the drop directory acts
// as a queue.
func (w *ImportWatcher) importFile(ctx context.Context, path string) {
	note, err := journal.ReadNoteFile(path)
	if err != nil {
		w.logger.Printf("skipping %s: %v", filepath.Base(path), err)
		return
	}

	if err := w.store.PutNote(ctx, note); err != nil {
		w.logger.Printf("failed to import %s: %v", filepath.Base(path), err)
		return
	}

	if err := os.Remove(path); err != nil {
		w.logger.Printf("warning: failed to remove %s after import: %v", filepath.Base(path), err)
	}

	w.logger.Printf("imported note %s (%s)", note.ID, note.Title)

	select {
	case w.imported <- note.ID:
	default:
	}
}
