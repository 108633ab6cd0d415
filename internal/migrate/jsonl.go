// Package migrate moves the local dataset in and out of JSONL files,
// one JSON object per line, for backup and device-to-device transfer
// without going through the remote store.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kayedejour/kayedejour/internal/journal"
	"github.com/kayedejour/kayedejour/internal/store"
)

const (
	notesFile   = "notes.jsonl"
	foldersFile = "folders.jsonl"
)

// Result holds statistics for an export or import run.
type Result struct {
	Notes   int
	Folders int
	Skipped []string
}

// Export writes the store's live rows (tombstones excluded) to
// dir/notes.jsonl and dir/folders.jsonl.
func Export(ctx context.Context, st *store.Store, dir string) (*Result, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	res := &Result{}

	notes, err := st.ListNotes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	if err := writeJSONL(filepath.Join(dir, notesFile), len(notes), func(i int) interface{} {
		return notes[i]
	}); err != nil {
		return nil, err
	}
	res.Notes = len(notes)

	folders, err := st.ListFolders(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read folders: %w", err)
	}
	if err := writeJSONL(filepath.Join(dir, foldersFile), len(folders), func(i int) interface{} {
		return folders[i]
	}); err != nil {
		return nil, err
	}
	res.Folders = len(folders)

	return res, nil
}

// Import reads dir/notes.jsonl and dir/folders.jsonl and upserts the
// rows as dirty, so the next sync cycle pushes them. Invalid lines are
// skipped and reported in the result, not fatal.
func Import(ctx context.Context, st *store.Store, dir string) (*Result, error) {
	res := &Result{}

	var notes []*journal.Note
	if err := readJSONL(filepath.Join(dir, notesFile), func(line []byte, lineNum int) {
		var n journal.Note
		if err := json.Unmarshal(line, &n); err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s:%d: %v", notesFile, lineNum, err))
			return
		}
		n.SetDefaults()
		n.State = journal.StateDirty
		if err := n.Validate(); err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s:%d: %v", notesFile, lineNum, err))
			return
		}
		notes = append(notes, &n)
	}); err != nil {
		return nil, err
	}

	var folders []*journal.Folder
	if err := readJSONL(filepath.Join(dir, foldersFile), func(line []byte, lineNum int) {
		var f journal.Folder
		if err := json.Unmarshal(line, &f); err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s:%d: %v", foldersFile, lineNum, err))
			return
		}
		f.SetDefaults()
		f.State = journal.StateDirty
		if err := f.Validate(); err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s:%d: %v", foldersFile, lineNum, err))
			return
		}
		folders = append(folders, &f)
	}); err != nil {
		return nil, err
	}

	// Folders first so note folder references resolve immediately.
	if err := st.BulkUpsertFolders(ctx, folders, journal.StateDirty); err != nil {
		return nil, fmt.Errorf("failed to import folders: %w", err)
	}
	if err := st.BulkUpsertNotes(ctx, notes, journal.StateDirty); err != nil {
		return nil, fmt.Errorf("failed to import notes: %w", err)
	}

	res.Notes = len(notes)
	res.Folders = len(folders)
	return res, nil
}

// writeJSONL writes n rows, one JSON object per line.
func writeJSONL(path string, n int, row func(int) interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < n; i++ {
		if err := enc.Encode(row(i)); err != nil {
			return fmt.Errorf("failed to encode row %d of %s: %w", i, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return nil
}

// readJSONL calls fn for each non-empty line. A missing file is valid
// and reads as empty.
func readJSONL(path string, fn func(line []byte, lineNum int)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line, lineNum)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
