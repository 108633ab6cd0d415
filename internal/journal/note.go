// Package journal defines the entity schema shared by the local store,
// the sync engine, and the remote wire format.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// State describes where a row sits in its local lifecycle.
//
// A row is clean when it matches the last confirmed remote revision,
// dirty when a local mutation has not been pushed yet, and a tombstone
// when it has been deleted locally but the remote delete is not yet
// confirmed. A purged row simply no longer exists, so the three values
// below cover every representable state; "deleted but clean" cannot be
// expressed.
type State string

const (
	// StateClean means the row matches the last known remote revision.
	StateClean State = "clean"
	// StateDirty means the row has local changes awaiting a push.
	StateDirty State = "dirty"
	// StateTombstone means the row is soft-deleted and awaiting a
	// confirmed remote delete, after which it is purged.
	StateTombstone State = "tombstone"
)

// Valid reports whether s is one of the known lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateClean, StateDirty, StateTombstone:
		return true
	}
	return false
}

// Pending reports whether the row needs to be pushed.
func (s State) Pending() bool {
	return s == StateDirty || s == StateTombstone
}

// ImageSet holds the resized variants of one attached image.
// The URLs are produced by the upload pipeline; the engine treats them
// as opaque strings.
type ImageSet struct {
	Thumb  string `json:"thumb"`
	Medium string `json:"medium"`
	Large  string `json:"large"`
}

// UnsortedFolder is the sentinel collection for notes whose folder
// reference is empty or does not resolve.
const UnsortedFolder = "Unsorted"

// Note is a journal entry.
//
// CreatedAt is the journaled date and is user-adjustable (backdating an
// entry is a feature), so it must never be used to break conflicts.
// UpdatedAt is system time, bumped by Touch on every mutation, and is
// the sole last-write-wins signal.
//
// State is local bookkeeping and is never transmitted.
type Note struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Content  string     `json:"content"`
	FolderID string     `json:"folder_id,omitempty"`
	OwnerID  string     `json:"user_id,omitempty"`
	Images   []ImageSet `json:"images,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	State State `json:"-"`
}

// NewNote creates a locally-authored note. The id is client-generated
// and stable for the life of the entity. OwnerID may be empty for guest
// usage; the first authenticated sync adopts the row.
func NewNote(ownerID string) *Note {
	now := time.Now().UTC()
	return &Note{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		FolderID:  "",
		Images:    []ImageSet{},
		CreatedAt: now,
		UpdatedAt: now,
		State:     StateDirty,
	}
}

// Touch records a local mutation: bumps UpdatedAt and marks the note
// dirty. Call after every field change made on this device.
func (n *Note) Touch() {
	n.UpdatedAt = time.Now().UTC()
	n.State = StateDirty
}

// SupersededBy reports whether remote should overwrite this local row
// during the pull phase. A dirty or tombstoned local row always wins
// until it has been pushed; on a timestamp tie the existing local value
// is kept.
func (n *Note) SupersededBy(remote *Note) bool {
	return n.State == StateClean && remote.UpdatedAt.After(n.UpdatedAt)
}

// Validate checks the invariants every stored note must satisfy.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !n.State.Valid() {
		return fmt.Errorf("invalid state %q", n.State)
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if n.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults fills optional fields so rows materialized from remote or
// imported from files behave consistently.
func (n *Note) SetDefaults() {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Images == nil {
		n.Images = []ImageSet{}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	if n.State == "" {
		n.State = StateDirty
	}
}

// Clone returns a deep copy.
func (n *Note) Clone() *Note {
	out := *n
	out.Images = make([]ImageSet, len(n.Images))
	copy(out.Images, n.Images)
	return &out
}

// ResolveFolderName maps a note's folder reference to a display name.
// Empty, dangling, or tombstoned references resolve to the Unsorted
// sentinel; the engine never treats them as an error.
func ResolveFolderName(n *Note, folders []*Folder) string {
	if n.FolderID == "" {
		return UnsortedFolder
	}
	for _, f := range folders {
		if f.ID == n.FolderID && f.State != StateTombstone {
			return f.Name
		}
	}
	return UnsortedFolder
}

// ReadNoteFile reads and parses a note JSON file, applying defaults.
// Files imported this way are dirty: the next sync cycle pushes them.
func ReadNoteFile(path string) (*Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read note file %s: %w", path, err)
	}

	var note Note
	if err := json.Unmarshal(data, &note); err != nil {
		return nil, fmt.Errorf("failed to parse note file %s: %w", path, err)
	}

	note.SetDefaults()
	note.State = StateDirty

	if err := note.Validate(); err != nil {
		return nil, fmt.Errorf("invalid note file %s: %w", path, err)
	}
	return &note, nil
}

// WriteNoteFile writes a note to dir/{id}.json with pretty-printed
// formatting. Used by the export command and by tests.
func WriteNoteFile(dir string, n *Note) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid note: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create notes directory: %w", err)
	}

	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal note %s: %w", n.ID, err)
	}

	path := filepath.Join(dir, n.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write note file %s: %w", path, err)
	}
	return nil
}
