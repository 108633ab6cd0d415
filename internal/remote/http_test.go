package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kayedejour/kayedejour/internal/journal"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTP(Config{
		BaseURL:     srv.URL + "/rest/v1",
		APIKey:      "anon-key",
		Token:       "access-token",
		CallTimeout: 2 * time.Second,
		RetryBudget: 2 * time.Second,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	return c
}

func TestSelectNotesRequest(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotKey string

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("user_id")
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		json.NewEncoder(w).Encode([]*journal.Note{
			{ID: "n1", Title: "hello", OwnerID: "owner-1"},
		})
	}))

	rows, err := c.SelectNotes(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("SelectNotes failed: %v", err)
	}

	if gotPath != "/rest/v1/notes" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "eq.owner-1" {
		t.Errorf("user_id filter = %q, want eq.owner-1", gotQuery)
	}
	if gotAuth != "Bearer access-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotKey != "anon-key" {
		t.Errorf("apikey header = %q", gotKey)
	}
	if len(rows) != 1 || rows[0].Title != "hello" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestSelectNotesRejectsForeignRows(t *testing.T) {
	// A response with even one foreign-owner row is not a row set the
	// caller can act on: the select result stands in for the owner's
	// complete remote state, so a tainted response fails outright.
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]*journal.Note{
			{ID: "n1", OwnerID: "owner-1"},
			{ID: "n2", OwnerID: "someone-else"},
		})
	}))

	rows, err := c.SelectNotes(context.Background(), "owner-1")
	if !IsRejected(err) {
		t.Fatalf("err = %v, want rejection for foreign-owner row", err)
	}
	if rows != nil {
		t.Errorf("rows = %+v, want none from a tainted response", rows)
	}
}

func TestSelectFoldersRejectsForeignRows(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]*journal.Folder{
			{ID: "f1", OwnerID: "someone-else"},
		})
	}))

	if _, err := c.SelectFolders(context.Background(), "owner-1"); !IsRejected(err) {
		t.Fatalf("err = %v, want rejection for foreign-owner row", err)
	}
}

func TestUpsertNotesRequest(t *testing.T) {
	var gotMethod, gotPrefer string
	var gotBody []map[string]interface{}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPrefer = r.Header.Get("Prefer")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))

	n := journal.NewNote("owner-1")
	n.Title = "pushed"
	if err := c.UpsertNotes(context.Background(), []*journal.Note{n}); err != nil {
		t.Fatalf("UpsertNotes failed: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q", gotMethod)
	}
	if gotPrefer != "resolution=merge-duplicates" {
		t.Errorf("Prefer = %q", gotPrefer)
	}
	if len(gotBody) != 1 || gotBody[0]["title"] != "pushed" {
		t.Errorf("body = %+v", gotBody)
	}
	// Lifecycle state is local bookkeeping and must never be sent.
	if _, ok := gotBody[0]["state"]; ok {
		t.Error("state field leaked onto the wire")
	}
}

func TestDeleteNotesRequest(t *testing.T) {
	var gotMethod, gotFilter string

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotFilter = r.URL.Query().Get("id")
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.DeleteNotes(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("DeleteNotes failed: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q", gotMethod)
	}
	if gotFilter != "in.(a,b)" {
		t.Errorf("id filter = %q, want in.(a,b)", gotFilter)
	}
}

func TestTransientFailureRetries(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]*journal.Note{})
	}))

	if _, err := c.SelectNotes(context.Background(), "owner-1"); err != nil {
		t.Fatalf("expected retries to succeed, got: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRejectionIsPermanent(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "jwt expired", http.StatusUnauthorized)
	}))

	_, err := c.SelectNotes(context.Background(), "owner-1")
	if !IsRejected(err) {
		t.Fatalf("err = %v, want rejection", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d: rejections must not be retried", calls.Load())
	}

	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Status != http.StatusUnauthorized {
		t.Errorf("rejection detail lost: %v", err)
	}
}

func TestUnavailableAfterBudget(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))

	_, err := c.SelectNotes(context.Background(), "owner-1")
	if !IsUnavailable(err) {
		t.Fatalf("err = %v, want unavailable", err)
	}
}

func TestEmptyBatchesSkipNetwork(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request for empty batch")
	}))

	ctx := context.Background()
	if err := c.UpsertNotes(ctx, nil); err != nil {
		t.Errorf("UpsertNotes(nil) = %v", err)
	}
	if err := c.DeleteNotes(ctx, nil); err != nil {
		t.Errorf("DeleteNotes(nil) = %v", err)
	}
	if err := c.UpsertFolders(ctx, nil); err != nil {
		t.Errorf("UpsertFolders(nil) = %v", err)
	}
	if err := c.DeleteFolders(ctx, nil); err != nil {
		t.Errorf("DeleteFolders(nil) = %v", err)
	}
}
