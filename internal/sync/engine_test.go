package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/kayedejour/kayedejour/internal/journal"
	"github.com/kayedejour/kayedejour/internal/remote"
	"github.com/kayedejour/kayedejour/internal/store"
)

// fakeRemote is an in-memory remote.Client. Per-method errors and a
// gate channel make failure and concurrency scenarios reproducible.
type fakeRemote struct {
	mu      gosync.Mutex
	notes   map[string]*journal.Note
	folders map[string]*journal.Folder

	upsertNoteCalls   int
	selectNoteCalls   int
	upsertFolderCalls int

	failUpsertNotes   error
	failSelectNotes   error
	failUpsertFolders error

	// When set, SelectNotes blocks until the channel is closed.
	selectGate chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		notes:   make(map[string]*journal.Note),
		folders: make(map[string]*journal.Folder),
	}
}

func (f *fakeRemote) SelectNotes(ctx context.Context, ownerID string) ([]*journal.Note, error) {
	f.mu.Lock()
	gate := f.selectGate
	f.selectNoteCalls++
	if err := f.failSelectNotes; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*journal.Note
	for _, n := range f.notes {
		if n.OwnerID == ownerID {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func (f *fakeRemote) UpsertNotes(ctx context.Context, notes []*journal.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertNoteCalls++
	if f.failUpsertNotes != nil {
		return f.failUpsertNotes
	}
	for _, n := range notes {
		f.notes[n.ID] = n.Clone()
	}
	return nil
}

func (f *fakeRemote) DeleteNotes(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.notes, id)
	}
	return nil
}

func (f *fakeRemote) SelectFolders(ctx context.Context, ownerID string) ([]*journal.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*journal.Folder
	for _, fl := range f.folders {
		if fl.OwnerID == ownerID {
			out = append(out, fl.Clone())
		}
	}
	return out, nil
}

func (f *fakeRemote) UpsertFolders(ctx context.Context, folders []*journal.Folder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertFolderCalls++
	if f.failUpsertFolders != nil {
		return f.failUpsertFolders
	}
	for _, fl := range folders {
		f.folders[fl.ID] = fl.Clone()
	}
	return nil
}

func (f *fakeRemote) DeleteFolders(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.folders, id)
	}
	return nil
}

func (f *fakeRemote) note(id string) *journal.Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.notes[id]; ok {
		return n.Clone()
	}
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return s
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeRemote) {
	t.Helper()
	s := newTestStore(t)
	r := newFakeRemote()
	e := New(s, r, log.New(io.Discard, "", 0))
	return e, s, r
}

func addNote(t *testing.T, s *store.Store, owner, title string) *journal.Note {
	t.Helper()
	n := journal.NewNote(owner)
	n.Title = title
	if err := s.PutNote(context.Background(), n); err != nil {
		t.Fatalf("failed to put note: %v", err)
	}
	return n
}

func TestSyncPushesDirtyNotes(t *testing.T) {
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	n := addNote(t, s, "owner-1", "unsent")

	if err := e.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatalf("SyncNotes failed: %v", err)
	}

	if got := r.note(n.ID); got == nil || got.Title != "unsent" {
		t.Errorf("note not pushed: %+v", got)
	}

	local, err := s.GetNote(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if local.State != journal.StateClean {
		t.Errorf("state after push = %q, want clean", local.State)
	}
}

func TestSyncIdempotent(t *testing.T) {
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	addNote(t, s, "owner-1", "once")

	for i := 0; i < 3; i++ {
		if err := e.SyncNotes(ctx, "owner-1"); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}

	// Only the first cycle had anything to push.
	if r.upsertNoteCalls != 1 {
		t.Errorf("upsert calls = %d, want 1", r.upsertNoteCalls)
	}
}

func TestPushOverwritesRemote(t *testing.T) {
	// Push is deliberately not conflict-aware: whatever is dirty locally
	// replaces the remote row even if the remote revision is newer. The
	// conflict is settled before the push, when the local edit happens.
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	n := addNote(t, s, "owner-1", "local edit")

	r.mu.Lock()
	newer := n.Clone()
	newer.Title = "newer remote edit"
	newer.UpdatedAt = n.UpdatedAt.Add(time.Hour)
	r.notes[n.ID] = newer
	r.mu.Unlock()

	if err := e.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatalf("SyncNotes failed: %v", err)
	}

	if got := r.note(n.ID); got.Title != "local edit" {
		t.Errorf("remote title = %q, want the pushed local edit", got.Title)
	}
}

func TestPullDoesNotOverwriteDirty(t *testing.T) {
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	n := addNote(t, s, "owner-1", "mine")
	if err := e.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}

	// Edit locally without syncing, then a newer revision appears
	// remotely.
	local, err := s.GetNote(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	local.Title = "local unpushed edit"
	local.Touch()
	if err := s.PutNote(ctx, local); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	remote := n.Clone()
	remote.Title = "remote edit"
	remote.UpdatedAt = local.UpdatedAt.Add(time.Hour)
	r.notes[n.ID] = remote
	r.mu.Unlock()

	// The cycle pushes the dirty row first, so by pull time the remote
	// row already carries the local edit and merge is a no-op.
	if err := e.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetNote(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "local unpushed edit" {
		t.Errorf("local title = %q, dirty edit was lost", got.Title)
	}
}

func TestDeleteConvergesAcrossDevices(t *testing.T) {
	r := newFakeRemote()
	deviceA := newTestStore(t)
	deviceB := newTestStore(t)
	engineA := New(deviceA, r, log.New(io.Discard, "", 0))
	engineB := New(deviceB, r, log.New(io.Discard, "", 0))
	ctx := context.Background()

	n := addNote(t, deviceA, "owner-1", "shared")
	if err := engineA.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}
	if err := engineB.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := deviceB.GetNote(ctx, n.ID); err != nil {
		t.Fatalf("note did not reach second device: %v", err)
	}

	// Delete on A, sync both. B's clean row must disappear.
	if err := deviceA.SoftDeleteNote(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if err := engineA.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}
	if err := engineB.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}

	if r.note(n.ID) != nil {
		t.Error("remote row still present after delete push")
	}
	countA, err := deviceA.CountNotes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	countB, err := deviceB.CountNotes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if countA != 0 || countB != 0 {
		t.Errorf("row counts after convergence: A=%d B=%d, want 0/0", countA, countB)
	}
}

func TestRoundTripToSecondDevice(t *testing.T) {
	r := newFakeRemote()
	deviceA := newTestStore(t)
	deviceB := newTestStore(t)
	engineA := New(deviceA, r, log.New(io.Discard, "", 0))
	engineB := New(deviceB, r, log.New(io.Discard, "", 0))
	ctx := context.Background()

	n := addNote(t, deviceA, "owner-1", "written on A")
	f := journal.NewFolder("owner-1", "Travel")
	if err := deviceA.PutFolder(ctx, f); err != nil {
		t.Fatal(err)
	}

	if err := engineA.SyncAll(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}
	if err := engineB.SyncAll(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}

	got, err := deviceB.GetNote(ctx, n.ID)
	if err != nil {
		t.Fatalf("note missing on B: %v", err)
	}
	if got.Title != "written on A" || got.State != journal.StateClean {
		t.Errorf("got %+v", got)
	}
	if _, err := deviceB.GetFolder(ctx, f.ID); err != nil {
		t.Errorf("folder missing on B: %v", err)
	}
}

func TestGuestAdoptionOnSync(t *testing.T) {
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	n := addNote(t, s, "", "written before login")

	if err := e.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}

	pushed := r.note(n.ID)
	if pushed == nil {
		t.Fatal("guest note never pushed")
	}
	if pushed.OwnerID != "owner-1" {
		t.Errorf("pushed owner = %q, want owner-1", pushed.OwnerID)
	}
}

func TestPushFailureKeepsDirty(t *testing.T) {
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	n := addNote(t, s, "owner-1", "stuck")
	r.failUpsertNotes = errors.New("remote unavailable")

	if err := e.SyncNotes(ctx, "owner-1"); err == nil {
		t.Fatal("expected sync error")
	}

	dirty, err := s.DirtyNotes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 || dirty[0].ID != n.ID {
		t.Errorf("dirty set after failed push = %v, want the unsent note", dirty)
	}

	// Recovery needs nothing special; the next cycle retries.
	r.mu.Lock()
	r.failUpsertNotes = nil
	r.mu.Unlock()
	if err := e.SyncNotes(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}
	if r.note(n.ID) == nil {
		t.Error("note not pushed on retry")
	}
}

func TestNotesFailureDoesNotBlockFolders(t *testing.T) {
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	addNote(t, s, "owner-1", "n")
	f := journal.NewFolder("owner-1", "Travel")
	if err := s.PutFolder(ctx, f); err != nil {
		t.Fatal(err)
	}
	r.failUpsertNotes = errors.New("remote unavailable")

	err := e.SyncAll(ctx, "owner-1")
	if err == nil {
		t.Fatal("expected combined error")
	}

	r.mu.Lock()
	folderPushed := r.folders[f.ID] != nil
	r.mu.Unlock()
	if !folderPushed {
		t.Error("folders cycle skipped because notes failed")
	}
}

func TestConcurrentSyncsCoalesce(t *testing.T) {
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	addNote(t, s, "owner-1", "n")

	gate := make(chan struct{})
	r.mu.Lock()
	r.selectGate = gate
	r.mu.Unlock()

	var wg gosync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.SyncNotes(ctx, "owner-1")
		}(i)
	}

	// Let both callers reach the engine before releasing the pull; the
	// second caller must join the in-flight cycle, not start its own.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	r.mu.Lock()
	selects := r.selectNoteCalls
	r.mu.Unlock()
	if selects != 1 {
		t.Errorf("select calls = %d, want 1 coalesced cycle", selects)
	}
}

func TestForeignOwnerResponseNeverPrunes(t *testing.T) {
	// A select response claiming rows for a different owner aborts the
	// cycle before the prune step, so a misrouted response can never
	// read as "this owner has nothing remotely" and wipe local rows.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusCreated)
			return
		}
		json.NewEncoder(w).Encode([]*journal.Note{
			{ID: "foreign-1", Title: "not yours", OwnerID: "owner-2",
				CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
		})
	}))
	t.Cleanup(srv.Close)

	client, err := remote.NewHTTP(remote.Config{
		BaseURL:     srv.URL,
		RetryBudget: time.Second,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t)
	e := New(s, client, log.New(io.Discard, "", 0))
	ctx := context.Background()

	n := addNote(t, s, "owner-1", "precious")
	if err := s.ClearPushedNotes(ctx, []*journal.Note{n}); err != nil {
		t.Fatal(err)
	}

	if err := e.SyncNotes(ctx, "owner-1"); !remote.IsRejected(err) {
		t.Fatalf("sync err = %v, want rejection", err)
	}

	if _, err := s.GetNote(ctx, n.ID); err != nil {
		t.Errorf("clean local note lost after untrusted response: %v", err)
	}
}

func TestBootstrapSeedsEmptyStore(t *testing.T) {
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	r.notes["n1"] = &journal.Note{ID: "n1", Title: "one", OwnerID: "owner-1", CreatedAt: base, UpdatedAt: base}
	r.notes["n2"] = &journal.Note{ID: "n2", Title: "two", OwnerID: "owner-1", CreatedAt: base, UpdatedAt: base}
	r.notes["n3"] = &journal.Note{ID: "n3", Title: "three", OwnerID: "owner-1", CreatedAt: base, UpdatedAt: base}
	r.folders["f1"] = &journal.Folder{ID: "f1", Name: "Travel", OwnerID: "owner-1", CreatedAt: base, UpdatedAt: base}
	r.folders["f2"] = &journal.Folder{ID: "f2", Name: "Books", OwnerID: "owner-1", CreatedAt: base, UpdatedAt: base}

	if err := e.Bootstrap(ctx, "owner-1"); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	noteCounts, err := s.NoteStateCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	folderCounts, err := s.FolderStateCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if noteCounts[journal.StateClean] != 3 {
		t.Errorf("note counts = %v, want 3 clean", noteCounts)
	}
	if folderCounts[journal.StateClean] != 2 {
		t.Errorf("folder counts = %v, want 2 clean", folderCounts)
	}
	// Seeding must not push anything back.
	if r.upsertNoteCalls != 0 || r.upsertFolderCalls != 0 {
		t.Errorf("bootstrap pushed: %d note, %d folder upserts", r.upsertNoteCalls, r.upsertFolderCalls)
	}
}

func TestBootstrapWithLocalDataSyncs(t *testing.T) {
	e, s, r := newTestEngine(t)
	ctx := context.Background()

	n := addNote(t, s, "", "guest note")

	if err := e.Bootstrap(ctx, "owner-1"); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	// Non-empty table: bootstrap adopts and pushes instead of seeding.
	pushed := r.note(n.ID)
	if pushed == nil || pushed.OwnerID != "owner-1" {
		t.Errorf("guest note not adopted and pushed: %+v", pushed)
	}
}
