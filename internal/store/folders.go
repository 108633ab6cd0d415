package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kayedejour/kayedejour/internal/journal"
)

const folderColumns = "id, name, owner_id, created_at, updated_at, state"

// PutFolder inserts or replaces a folder row with the caller's exact
// state.
func (s *Store) PutFolder(ctx context.Context, f *journal.Folder) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid folder: %w", err)
	}

	query := `
	INSERT INTO folders (` + folderColumns + `)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		owner_id = excluded.owner_id,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		state = excluded.state
	`

	_, err := s.conn.ExecContext(ctx, query,
		f.ID, f.Name, f.OwnerID,
		formatTime(f.CreatedAt), formatTime(f.UpdatedAt), string(f.State))
	if err != nil {
		return fmt.Errorf("failed to put folder %s: %w", f.ID, err)
	}

	s.notify(KindFolders)
	return nil
}

// GetFolder returns a live folder by id, ErrNotFound otherwise.
func (s *Store) GetFolder(ctx context.Context, id string) (*journal.Folder, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE id = ? AND state != 'tombstone'", id)

	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder %s: %w", id, err)
	}
	return f, nil
}

// ListFolders returns live folders ordered by name. Owner filtering
// matches ListNotes: owner's rows plus guest rows, or everything when
// ownerID is empty.
func (s *Store) ListFolders(ctx context.Context, ownerID string) ([]*journal.Folder, error) {
	query := "SELECT " + folderColumns + " FROM folders WHERE state != 'tombstone'"
	var args []interface{}
	if ownerID != "" {
		query += " AND (owner_id = ? OR owner_id = '')"
		args = append(args, ownerID)
	}
	query += " ORDER BY name ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	return scanFolders(rows)
}

// DirtyFolders returns every folder awaiting a push.
func (s *Store) DirtyFolders(ctx context.Context) ([]*journal.Folder, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE state != 'clean' ORDER BY updated_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty folders: %w", err)
	}
	defer rows.Close()

	return scanFolders(rows)
}

// SoftDeleteFolder tombstones a folder. Notes referencing it keep
// their folder_id; display resolution falls back to Unsorted.
func (s *Store) SoftDeleteFolder(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE folders SET state = 'tombstone', updated_at = ? WHERE id = ? AND state != 'tombstone'",
		formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.notify(KindFolders)
	return nil
}

// PurgeFolders physically removes tombstoned rows after the remote
// delete is confirmed. All-or-nothing.
func (s *Store) PurgeFolders(ctx context.Context, ids []string) error {
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
			"DELETE FROM folders WHERE id = ? AND state = 'tombstone'", id); err != nil {
			return fmt.Errorf("failed to purge folder %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}

	s.notify(KindFolders)
	return nil
}

// ClearPushedFolders marks exactly the pushed revisions clean,
// mirroring ClearPushedNotes.
func (s *Store) ClearPushedFolders(ctx context.Context, pushed []*journal.Folder) error {
	if len(pushed) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range pushed {
		if _, err := tx.ExecContext(ctx,
			"UPDATE folders SET state = 'clean' WHERE id = ? AND state = 'dirty' AND updated_at = ?",
			f.ID, formatTime(f.UpdatedAt)); err != nil {
			return fmt.Errorf("failed to clear folder %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	s.notify(KindFolders)
	return nil
}

// MergeFolders applies remote rows with the same last-write-wins rule
// as MergeNotes. Returns how many rows changed. All-or-nothing.
func (s *Store) MergeFolders(ctx context.Context, incoming []*journal.Folder) (int, error) {
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
		// Same guard as MergeNotes: id-less or timestamp-less rows are
		// unaddressable and skipped.
		if remote.ID == "" || remote.UpdatedAt.IsZero() {
			continue
		}

		row := tx.QueryRowContext(ctx,
			"SELECT "+folderColumns+" FROM folders WHERE id = ?", remote.ID)

		local, err := scanFolder(row)
		switch {
		case err == sql.ErrNoRows:
			if err := upsertFolderTx(ctx, tx, remote, journal.StateClean); err != nil {
				return 0, err
			}
			applied++

		case err != nil:
			return 0, fmt.Errorf("failed to read folder %s: %w", remote.ID, err)

		case local.SupersededBy(remote):
			merged := remote.Clone()
			merged.ID = local.ID
			if err := upsertFolderTx(ctx, tx, merged, journal.StateClean); err != nil {
				return 0, err
			}
			applied++

		default:
			// Local wins or remote not newer.
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit merge: %w", err)
	}

	if applied > 0 {
		s.notify(KindFolders)
	}
	return applied, nil
}

// BulkUpsertFolders writes rows with the given state in one
// transaction.
func (s *Store) BulkUpsertFolders(ctx context.Context, folders []*journal.Folder, state journal.State) error {
	if len(folders) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range folders {
		if err := upsertFolderTx(ctx, tx, f, state); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk upsert: %w", err)
	}

	s.notify(KindFolders)
	return nil
}

// AdoptFolders stamps ownerID onto guest rows, mirroring AdoptNotes.
func (s *Store) AdoptFolders(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, nil
	}

	res, err := s.conn.ExecContext(ctx,
		"UPDATE folders SET owner_id = ? WHERE owner_id = ''", ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to adopt folders: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to adopt folders: %w", err)
	}
	if affected > 0 {
		s.notify(KindFolders)
	}
	return int(affected), nil
}

// PruneFolders removes the owner's clean rows absent from keep,
// mirroring PruneNotes. Returns how many rows were removed.
func (s *Store) PruneFolders(ctx context.Context, ownerID string, keep []string) (int, error) {
	if ownerID == "" {
		return 0, nil
	}

	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT id FROM folders WHERE owner_id = ? AND state = 'clean'", ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to query prunable folders: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan folder id: %w", err)
		}
		if !keepSet[id] {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate folder ids: %w", err)
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
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM folders WHERE id = ? AND state = 'clean'", id); err != nil {
			return 0, fmt.Errorf("failed to prune folder %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	s.notify(KindFolders)
	return len(stale), nil
}

// CountFolders returns the number of folder rows of any state.
func (s *Store) CountFolders(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM folders").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count folders: %w", err)
	}
	return count, nil
}

// FolderStateCounts returns row counts per lifecycle state.
func (s *Store) FolderStateCounts(ctx context.Context) (map[journal.State]int, error) {
	return s.stateCounts(ctx, "folders")
}

// stateCounts groups a table's rows by lifecycle state.
func (s *Store) stateCounts(ctx context.Context, table string) (map[journal.State]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM "+table+" GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to count %s by state: %w", table, err)
	}
	defer rows.Close()

	counts := make(map[journal.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[journal.State(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state counts: %w", err)
	}
	return counts, nil
}

// upsertFolderTx writes a full folder row inside tx with an explicit
// state.
func upsertFolderTx(ctx context.Context, tx *sql.Tx, f *journal.Folder, state journal.State) error {
	query := `
	INSERT INTO folders (` + folderColumns + `)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		owner_id = excluded.owner_id,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		state = excluded.state
	`

	if _, err := tx.ExecContext(ctx, query,
		f.ID, f.Name, f.OwnerID,
		formatTime(f.CreatedAt), formatTime(f.UpdatedAt), string(state)); err != nil {
		return fmt.Errorf("failed to upsert folder %s: %w", f.ID, err)
	}
	return nil
}

// scanFolder reads one folder row.
func scanFolder(row rowScanner) (*journal.Folder, error) {
	var f journal.Folder
	var createdAt, updatedAt, state string

	if err := row.Scan(&f.ID, &f.Name, &f.OwnerID, &createdAt, &updatedAt, &state); err != nil {
		return nil, err
	}

	var err error
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("folder %s: %w", f.ID, err)
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("folder %s: %w", f.ID, err)
	}
	f.State = journal.State(state)

	return &f, nil
}

// scanFolders reads all rows from a query result.
func scanFolders(rows *sql.Rows) ([]*journal.Folder, error) {
	var folders []*journal.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate folders: %w", err)
	}
	return folders, nil
}

// nowUTC is the store's single clock read for tombstone stamps.
func nowUTC() time.Time {
	return time.Now().UTC()
}
