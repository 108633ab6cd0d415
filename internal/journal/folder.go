package journal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Folder is a named collection of notes. Folders share the note
// lifecycle: created dirty, pushed, tombstoned on delete, purged after
// the remote delete is confirmed.
//
// UpdatedAt exists so folder renames resolve with the same
// last-write-wins rule as notes; CreatedAt is never consulted for
// conflicts.
type Folder struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	State State `json:"-"`
}

// NewFolder creates a locally-authored folder.
func NewFolder(ownerID, name string) *Folder {
	now := time.Now().UTC()
	return &Folder{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
		State:     StateDirty,
	}
}

// Touch records a local mutation: bumps UpdatedAt and marks the folder
// dirty.
func (f *Folder) Touch() {
	f.UpdatedAt = time.Now().UTC()
	f.State = StateDirty
}

// SupersededBy reports whether remote should overwrite this local row
// during the pull phase. Same rule as notes: only clean rows are
// overwritten, and only by a strictly newer revision.
func (f *Folder) SupersededBy(remote *Folder) bool {
	return f.State == StateClean && remote.UpdatedAt.After(f.UpdatedAt)
}

// Validate checks the invariants every stored folder must satisfy.
func (f *Folder) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !f.State.Valid() {
		return fmt.Errorf("invalid state %q", f.State)
	}
	if f.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// SetDefaults fills optional fields for rows materialized from remote
// or imported from files.
func (f *Folder) SetDefaults() {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
	if f.State == "" {
		f.State = StateDirty
	}
}

// Clone returns a copy.
func (f *Folder) Clone() *Folder {
	out := *f
	return &out
}
