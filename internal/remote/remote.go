// Package remote defines the contract the sync engine holds against the
// cloud row store, plus an HTTP implementation of it.
//
// The remote side is a per-table CRUD API filtered by owner id, with
// server-enforced row-level access control. Upserts are full-row and
// idempotent (conflict target = id); deletes take an id set; selects
// return every row for the owner. The dirty/tombstone bookkeeping is
// local-only and never crosses this boundary.
package remote

import (
	"context"

	"github.com/kayedejour/kayedejour/internal/journal"
)

// Client is the capability the sync engine needs from the remote store.
//
// Implementations must make Upsert idempotent: re-sending an
// already-applied row is a no-op, error-free call. Select results must
// cover exactly the requested owner: a response carrying a row that
// claims a different owner must fail the whole call rather than be
// partially used, because the engine treats the selected set as the
// complete remote state for that owner.
type Client interface {
	// SelectNotes returns all of the owner's note rows.
	SelectNotes(ctx context.Context, ownerID string) ([]*journal.Note, error)

	// UpsertNotes replaces rows by id with the full payloads given.
	UpsertNotes(ctx context.Context, notes []*journal.Note) error

	// DeleteNotes removes the rows with the given ids. Missing ids are
	// not an error.
	DeleteNotes(ctx context.Context, ids []string) error

	// SelectFolders returns all of the owner's folder rows.
	SelectFolders(ctx context.Context, ownerID string) ([]*journal.Folder, error)

	// UpsertFolders replaces rows by id with the full payloads given.
	UpsertFolders(ctx context.Context, folders []*journal.Folder) error

	// DeleteFolders removes the rows with the given ids.
	DeleteFolders(ctx context.Context, ids []string) error
}
