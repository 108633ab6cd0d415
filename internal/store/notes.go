package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kayedejour/kayedejour/internal/journal"
)

const noteColumns = "id, title, content, folder_id, owner_id, images, created_at, updated_at, state"

// PutNote inserts or replaces a note row with the caller's exact state.
// UI mutations call journal.Note.Touch first so the row lands dirty.
func (s *Store) PutNote(ctx context.Context, n *journal.Note) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}

	imagesJSON, err := json.Marshal(n.Images)
	if err != nil {
		return fmt.Errorf("failed to marshal images: %w", err)
	}

	query := `
	INSERT INTO notes (` + noteColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		folder_id = excluded.folder_id,
		owner_id = excluded.owner_id,
		images = excluded.images,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		state = excluded.state
	`

	_, err = s.conn.ExecContext(ctx, query,
		n.ID, n.Title, n.Content, n.FolderID, n.OwnerID,
		string(imagesJSON), formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
		string(n.State),
	)
	if err != nil {
		return fmt.Errorf("failed to put note %s: %w", n.ID, err)
	}

	s.notify(KindNotes)
	return nil
}

// GetNote returns a live note by id. Tombstoned rows are invisible to
// point lookups, same as to list queries; ErrNotFound covers both
// missing and tombstoned.
func (s *Store) GetNote(ctx context.Context, id string) (*journal.Note, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE id = ? AND state != 'tombstone'", id)

	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	return n, nil
}

// ListNotes returns live notes newest-first by journaled date.
//
// With a non-empty ownerID the result covers that owner's rows plus
// not-yet-adopted guest rows (owner_id = ''). An empty ownerID returns
// everything live, which is what an unauthenticated device shows.
func (s *Store) ListNotes(ctx context.Context, ownerID string) ([]*journal.Note, error) {
	query := "SELECT " + noteColumns + " FROM notes WHERE state != 'tombstone'"
	var args []interface{}
	if ownerID != "" {
		query += " AND (owner_id = ? OR owner_id = '')"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// DirtyNotes returns every note awaiting a push: dirty rows and
// tombstones. The result is a snapshot; the sync engine clears exactly
// these revisions after the remote confirms them.
func (s *Store) DirtyNotes(ctx context.Context) ([]*journal.Note, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE state != 'clean' ORDER BY updated_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// SoftDeleteNote tombstones a note. The row stays in the table so the
// delete can be pushed, but disappears from all user-facing queries.
// Returns ErrNotFound if no live row exists.
func (s *Store) SoftDeleteNote(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE notes SET state = 'tombstone', updated_at = ? WHERE id = ? AND state != 'tombstone'",
		formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.notify(KindNotes)
	return nil
}

// PurgeNotes physically removes tombstoned rows whose remote delete has
// been confirmed. Rows that were resurrected or never tombstoned are
// left alone. All-or-nothing.
func (s *Store) PurgeNotes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM notes WHERE id = ? AND state = 'tombstone'", id); err != nil {
			return fmt.Errorf("failed to purge note %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}

	s.notify(KindNotes)
	return nil
}

// ClearPushedNotes marks exactly the pushed revisions clean. A row that
// was mutated again after the push snapshot was taken carries a newer
// updated_at and stays dirty for the next cycle. All-or-nothing.
func (s *Store) ClearPushedNotes(ctx context.Context, pushed []*journal.Note) error {
	if len(pushed) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, n := range pushed {
		if _, err := tx.ExecContext(ctx,
			"UPDATE notes SET state = 'clean' WHERE id = ? AND state = 'dirty' AND updated_at = ?",
			n.ID, formatTime(n.UpdatedAt)); err != nil {
			return fmt.Errorf("failed to clear note %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	s.notify(KindNotes)
	return nil
}

// MergeNotes applies remote rows with the last-write-wins rule:
// unknown ids are materialized clean, clean rows are overwritten only
// by a strictly newer remote revision, dirty and tombstoned rows are
// skipped entirely (the next push reasserts them). Returns how many
// rows changed. All-or-nothing.
func (s *Store) MergeNotes(ctx context.Context, incoming []*journal.Note) (int, error) {
	if len(incoming) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	applied := 0
	for _, remote := range incoming {
		// A row without an id or an update timestamp cannot participate
		// in id-keyed last-write-wins; skip it rather than materialize
		// an unaddressable local row.
		if remote.ID == "" || remote.UpdatedAt.IsZero() {
			continue
		}

		row := tx.QueryRowContext(ctx,
			"SELECT "+noteColumns+" FROM notes WHERE id = ?", remote.ID)

		local, err := scanNote(row)
		switch {
		case err == sql.ErrNoRows:
			// New from remote: materialize clean.
			if err := upsertNoteTx(ctx, tx, remote, journal.StateClean); err != nil {
				return 0, err
			}
			applied++

		case err != nil:
			return 0, fmt.Errorf("failed to read note %s: %w", remote.ID, err)

		case local.SupersededBy(remote):
			// Overwrite everything except id; keep the row clean.
			merged := remote.Clone()
			merged.ID = local.ID
			if err := upsertNoteTx(ctx, tx, merged, journal.StateClean); err != nil {
				return 0, err
			}
			applied++

		default:
			// Local dirty/tombstone wins, or remote is not newer. No-op.
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit merge: %w", err)
	}

	if applied > 0 {
		s.notify(KindNotes)
	}
	return applied, nil
}

// BulkUpsertNotes writes rows with the given state in one transaction.
// Bootstrap uses StateClean (remote baseline); import uses StateDirty
// (push on next cycle).
func (s *Store) BulkUpsertNotes(ctx context.Context, notes []*journal.Note, state journal.State) error {
	if len(notes) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, n := range notes {
		if err := upsertNoteTx(ctx, tx, n, state); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk upsert: %w", err)
	}

	s.notify(KindNotes)
	return nil
}

// AdoptNotes stamps ownerID onto guest rows (owner_id = ''), so a
// pre-login dataset is pushed under the authenticated owner. Lifecycle
// state is untouched: guest rows are already dirty.
func (s *Store) AdoptNotes(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, nil
	}

	res, err := s.conn.ExecContext(ctx,
		"UPDATE notes SET owner_id = ? WHERE owner_id = ''", ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to adopt notes: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to adopt notes: %w", err)
	}
	if affected > 0 {
		s.notify(KindNotes)
	}
	return int(affected), nil
}

// PruneNotes removes the owner's clean rows whose ids are absent from
// keep, which is the remote row set just pulled. A clean row missing
// remotely was deleted by another device; dirty rows and tombstones are
// kept, their next push decides their fate. Returns how many rows were
// removed.
func (s *Store) PruneNotes(ctx context.Context, ownerID string, keep []string) (int, error) {
	if ownerID == "" {
		return 0, nil
	}

	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT id FROM notes WHERE owner_id = ? AND state = 'clean'", ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to query prunable notes: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan note id: %w", err)
		}
		if !keepSet[id] {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate note ids: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range stale {
		// Re-check state inside the transaction; the row may have been
		// edited since the snapshot above.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM notes WHERE id = ? AND state = 'clean'", id); err != nil {
			return 0, fmt.Errorf("failed to prune note %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	s.notify(KindNotes)
	return len(stale), nil
}

// CountNotes returns the number of note rows of any state.
func (s *Store) CountNotes(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

// NoteStateCounts returns row counts per lifecycle state.
func (s *Store) NoteStateCounts(ctx context.Context) (map[journal.State]int, error) {
	return s.stateCounts(ctx, "notes")
}

// upsertNoteTx writes a full note row inside tx with an explicit state.
func upsertNoteTx(ctx context.Context, tx *sql.Tx, n *journal.Note, state journal.State) error {
	imagesJSON, err := json.Marshal(n.Images)
	if err != nil {
		return fmt.Errorf("failed to marshal images for %s: %w", n.ID, err)
	}

	query := `
	INSERT INTO notes (` + noteColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		folder_id = excluded.folder_id,
		owner_id = excluded.owner_id,
		images = excluded.images,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		state = excluded.state
	`

	if _, err := tx.ExecContext(ctx, query,
		n.ID, n.Title, n.Content, n.FolderID, n.OwnerID,
		string(imagesJSON), formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
		string(state),
	); err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", n.ID, err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanNote reads one note row.
func scanNote(row rowScanner) (*journal.Note, error) {
	var n journal.Note
	var images, createdAt, updatedAt, state string

	if err := row.Scan(&n.ID, &n.Title, &n.Content, &n.FolderID, &n.OwnerID,
		&images, &createdAt, &updatedAt, &state); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(images), &n.Images); err != nil {
		return nil, fmt.Errorf("corrupt images column for %s: %w", n.ID, err)
	}

	var err error
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("note %s: %w", n.ID, err)
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("note %s: %w", n.ID, err)
	}
	n.State = journal.State(state)

	return &n, nil
}

// scanNotes reads all rows from a query result.
func scanNotes(rows *sql.Rows) ([]*journal.Note, error) {
	var notes []*journal.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}
