package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/singleflight"

	"github.com/kayedejour/kayedejour/internal/journal"
	"github.com/kayedejour/kayedejour/internal/remote"
	"github.com/kayedejour/kayedejour/internal/store"
)

// Engine runs push-then-pull sync cycles between the local store and
// the remote row store.
type Engine struct {
	store  *store.Store
	remote remote.Client
	logger *log.Logger

	// group serializes cycles per entity kind and owner: a trigger
	// arriving while a cycle is in flight coalesces onto it and shares
	// its result rather than queueing a second cycle.
	group singleflight.Group
}

// New creates an Engine. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, client remote.Client, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:  st,
		remote: client,
		logger: logger,
	}
}

// SyncNotes runs one notes cycle for the owner. Safe to call from any
// goroutine and at any rate: concurrent calls coalesce onto the
// in-flight cycle.
func (e *Engine) SyncNotes(ctx context.Context, ownerID string) error {
	_, err, _ := e.group.Do("notes/"+ownerID, func() (interface{}, error) {
		return nil, e.syncNotes(ctx, ownerID)
	})
	return err
}

// SyncFolders runs one folders cycle for the owner, with the same
// coalescing behavior as SyncNotes.
func (e *Engine) SyncFolders(ctx context.Context, ownerID string) error {
	_, err, _ := e.group.Do("folders/"+ownerID, func() (interface{}, error) {
		return nil, e.syncFolders(ctx, ownerID)
	})
	return err
}

// SyncAll runs both entity kinds. A failure in one kind does not stop
// the other; the combined error reports every failed kind.
func (e *Engine) SyncAll(ctx context.Context, ownerID string) error {
	notesErr := e.SyncNotes(ctx, ownerID)
	if notesErr != nil {
		e.logger.Printf("notes cycle failed: %v", notesErr)
	}

	foldersErr := e.SyncFolders(ctx, ownerID)
	if foldersErr != nil {
		e.logger.Printf("folders cycle failed: %v", foldersErr)
	}

	return errors.Join(notesErr, foldersErr)
}

// Bootstrap seeds a device on first authenticated use.
//
// A kind whose local table is empty is seeded straight from remote as
// a clean baseline, skipping the push phase entirely. A non-empty
// table means pre-existing (possibly guest) data, which is reconciled
// with a normal sync cycle: guest rows are adopted under the owner and
// pushed, then the pull merges the rest.
func (e *Engine) Bootstrap(ctx context.Context, ownerID string) error {
	notesErr := e.bootstrapNotes(ctx, ownerID)
	if notesErr != nil {
		e.logger.Printf("notes bootstrap failed: %v", notesErr)
	}

	foldersErr := e.bootstrapFolders(ctx, ownerID)
	if foldersErr != nil {
		e.logger.Printf("folders bootstrap failed: %v", foldersErr)
	}

	return errors.Join(notesErr, foldersErr)
}

// syncNotes is one full notes cycle: adopt, push, pull.
func (e *Engine) syncNotes(ctx context.Context, ownerID string) error {
	if adopted, err := e.store.AdoptNotes(ctx, ownerID); err != nil {
		return fmt.Errorf("adopt notes: %w", err)
	} else if adopted > 0 {
		e.logger.Printf("adopted %d guest notes for owner %s", adopted, ownerID)
	}

	dirty, err := e.store.DirtyNotes(ctx)
	if err != nil {
		return fmt.Errorf("read dirty notes: %w", err)
	}

	var toUpsert []*journal.Note
	var toDelete []string
	for _, n := range dirty {
		if n.State == journal.StateTombstone {
			toDelete = append(toDelete, n.ID)
		} else {
			toUpsert = append(toUpsert, n)
		}
	}

	// Push live rows as full payloads. The remote row is overwritten
	// regardless of its current timestamp: push is local-wins, only
	// the pull phase is conflict-aware.
	if len(toUpsert) > 0 {
		if err := e.remote.UpsertNotes(ctx, toUpsert); err != nil {
			return fmt.Errorf("push notes: %w", err)
		}
		// Clear exactly the revisions that were sent. A row mutated
		// mid-push keeps its newer revision dirty for the next cycle.
		if err := e.store.ClearPushedNotes(ctx, toUpsert); err != nil {
			return fmt.Errorf("clear pushed notes: %w", err)
		}
		e.logger.Printf("pushed %d notes", len(toUpsert))
	}

	// Push deletes, then purge the confirmed tombstones locally.
	if len(toDelete) > 0 {
		if err := e.remote.DeleteNotes(ctx, toDelete); err != nil {
			return fmt.Errorf("push note deletes: %w", err)
		}
		if err := e.store.PurgeNotes(ctx, toDelete); err != nil {
			return fmt.Errorf("purge notes: %w", err)
		}
		e.logger.Printf("deleted %d notes remotely", len(toDelete))
	}

	// Pull the owner's full row set and merge last-write-wins.
	rows, err := e.remote.SelectNotes(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("pull notes: %w", err)
	}

	applied, err := e.store.MergeNotes(ctx, rows)
	if err != nil {
		return fmt.Errorf("merge notes: %w", err)
	}
	if applied > 0 {
		e.logger.Printf("merged %d remote notes", applied)
	}

	// A clean local row absent from the pulled set was deleted on
	// another device. Dirty rows are untouched; their push reasserts
	// them next cycle.
	remoteIDs := make([]string, 0, len(rows))
	for _, n := range rows {
		remoteIDs = append(remoteIDs, n.ID)
	}
	pruned, err := e.store.PruneNotes(ctx, ownerID, remoteIDs)
	if err != nil {
		return fmt.Errorf("prune notes: %w", err)
	}
	if pruned > 0 {
		e.logger.Printf("pruned %d notes deleted remotely", pruned)
	}

	return nil
}

// syncFolders is one full folders cycle: adopt, push, pull.
func (e *Engine) syncFolders(ctx context.Context, ownerID string) error {
	if adopted, err := e.store.AdoptFolders(ctx, ownerID); err != nil {
		return fmt.Errorf("adopt folders: %w", err)
	} else if adopted > 0 {
		e.logger.Printf("adopted %d guest folders for owner %s", adopted, ownerID)
	}

	dirty, err := e.store.DirtyFolders(ctx)
	if err != nil {
		return fmt.Errorf("read dirty folders: %w", err)
	}

	var toUpsert []*journal.Folder
	var toDelete []string
	for _, f := range dirty {
		if f.State == journal.StateTombstone {
			toDelete = append(toDelete, f.ID)
		} else {
			toUpsert = append(toUpsert, f)
		}
	}

	if len(toUpsert) > 0 {
		if err := e.remote.UpsertFolders(ctx, toUpsert); err != nil {
			return fmt.Errorf("push folders: %w", err)
		}
		if err := e.store.ClearPushedFolders(ctx, toUpsert); err != nil {
			return fmt.Errorf("clear pushed folders: %w", err)
		}
		e.logger.Printf("pushed %d folders", len(toUpsert))
	}

	if len(toDelete) > 0 {
		if err := e.remote.DeleteFolders(ctx, toDelete); err != nil {
			return fmt.Errorf("push folder deletes: %w", err)
		}
		if err := e.store.PurgeFolders(ctx, toDelete); err != nil {
			return fmt.Errorf("purge folders: %w", err)
		}
		e.logger.Printf("deleted %d folders remotely", len(toDelete))
	}

	rows, err := e.remote.SelectFolders(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("pull folders: %w", err)
	}

	applied, err := e.store.MergeFolders(ctx, rows)
	if err != nil {
		return fmt.Errorf("merge folders: %w", err)
	}
	if applied > 0 {
		e.logger.Printf("merged %d remote folders", applied)
	}

	remoteIDs := make([]string, 0, len(rows))
	for _, f := range rows {
		remoteIDs = append(remoteIDs, f.ID)
	}
	pruned, err := e.store.PruneFolders(ctx, ownerID, remoteIDs)
	if err != nil {
		return fmt.Errorf("prune folders: %w", err)
	}
	if pruned > 0 {
		e.logger.Printf("pruned %d folders deleted remotely", pruned)
	}

	return nil
}

// bootstrapNotes seeds or reconciles the notes table.
func (e *Engine) bootstrapNotes(ctx context.Context, ownerID string) error {
	count, err := e.store.CountNotes(ctx)
	if err != nil {
		return fmt.Errorf("count notes: %w", err)
	}

	if count > 0 {
		return e.SyncNotes(ctx, ownerID)
	}

	rows, err := e.remote.SelectNotes(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("bootstrap pull notes: %w", err)
	}
	for _, n := range rows {
		n.SetDefaults()
	}
	if err := e.store.BulkUpsertNotes(ctx, rows, journal.StateClean); err != nil {
		return fmt.Errorf("bootstrap notes: %w", err)
	}

	e.logger.Printf("bootstrapped %d notes for owner %s", len(rows), ownerID)
	return nil
}

// bootstrapFolders seeds or reconciles the folders table.
func (e *Engine) bootstrapFolders(ctx context.Context, ownerID string) error {
	count, err := e.store.CountFolders(ctx)
	if err != nil {
		return fmt.Errorf("count folders: %w", err)
	}

	if count > 0 {
		return e.SyncFolders(ctx, ownerID)
	}

	rows, err := e.remote.SelectFolders(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("bootstrap pull folders: %w", err)
	}
	for _, f := range rows {
		f.SetDefaults()
	}
	if err := e.store.BulkUpsertFolders(ctx, rows, journal.StateClean); err != nil {
		return fmt.Errorf("bootstrap folders: %w", err)
	}

	e.logger.Printf("bootstrapped %d folders for owner %s", len(rows), ownerID)
	return nil
}
