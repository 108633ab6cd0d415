package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kayedejour/kayedejour/internal/journal"
)

// Config holds settings for the HTTP remote client.
type Config struct {
	// BaseURL is the root of the row API, e.g. https://host/rest/v1.
	BaseURL string

	// APIKey is sent as the apikey header on every request.
	APIKey string

	// Token is the bearer access token for the authenticated session.
	Token string

	// CallTimeout bounds each individual request attempt so a hung
	// network cannot block future sync triggers. Defaults to 10s.
	CallTimeout time.Duration

	// RetryBudget bounds the total time spent retrying transient
	// failures within one call. Defaults to 30s.
	RetryBudget time.Duration

	// HTTPClient overrides the transport. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger for client diagnostics. Defaults to stderr.
	Logger *log.Logger
}

// HTTPClient talks to a PostgREST-style row API: per-table endpoints,
// owner filtering via query parameters, full-row upserts with conflict
// target id.
type HTTPClient struct {
	base    *url.URL
	apiKey  string
	token   string
	timeout time.Duration
	budget  time.Duration
	hc      *http.Client
	logger  *log.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTP creates an HTTP remote client.
func NewHTTP(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &HTTPClient{
		base:    base,
		apiKey:  cfg.APIKey,
		token:   cfg.Token,
		timeout: cfg.CallTimeout,
		budget:  cfg.RetryBudget,
		hc:      cfg.HTTPClient,
		logger:  cfg.Logger,
	}, nil
}

// SelectNotes implements Client.SelectNotes.
func (c *HTTPClient) SelectNotes(ctx context.Context, ownerID string) ([]*journal.Note, error) {
	query := url.Values{"user_id": {"eq." + ownerID}}

	var rows []*journal.Note
	if err := c.do(ctx, http.MethodGet, "notes", query, nil, &rows); err != nil {
		return nil, fmt.Errorf("select notes: %w", err)
	}

	for _, n := range rows {
		if n.OwnerID != ownerID {
			// Row-level access control is server-side, but a response
			// carrying another owner's rows is never trusted: the whole
			// row set is suspect, and acting on a partial view of it
			// could mislead the caller about what exists remotely.
			c.logger.Printf("rejecting select response: note %s claims owner %s", n.ID, n.OwnerID)
			return nil, fmt.Errorf("select notes: %w", &RejectedError{
				Msg: fmt.Sprintf("response contains note %s for owner %s, expected %s", n.ID, n.OwnerID, ownerID),
			})
		}
	}
	return rows, nil
}

// UpsertNotes implements Client.UpsertNotes. Rows are sent as full
// payloads; the server resolves conflicts on id by replacing the row.
func (c *HTTPClient) UpsertNotes(ctx context.Context, notes []*journal.Note) error {
	if len(notes) == 0 {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "notes", nil, notes, nil); err != nil {
		return fmt.Errorf("upsert notes: %w", err)
	}
	return nil
}

// DeleteNotes implements Client.DeleteNotes.
func (c *HTTPClient) DeleteNotes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := url.Values{"id": {"in.(" + strings.Join(ids, ",") + ")"}}
	if err := c.do(ctx, http.MethodDelete, "notes", query, nil, nil); err != nil {
		return fmt.Errorf("delete notes: %w", err)
	}
	return nil
}

// SelectFolders implements Client.SelectFolders.
func (c *HTTPClient) SelectFolders(ctx context.Context, ownerID string) ([]*journal.Folder, error) {
	query := url.Values{"user_id": {"eq." + ownerID}}

	var rows []*journal.Folder
	if err := c.do(ctx, http.MethodGet, "folders", query, nil, &rows); err != nil {
		return nil, fmt.Errorf("select folders: %w", err)
	}

	for _, f := range rows {
		if f.OwnerID != ownerID {
			c.logger.Printf("rejecting select response: folder %s claims owner %s", f.ID, f.OwnerID)
			return nil, fmt.Errorf("select folders: %w", &RejectedError{
				Msg: fmt.Sprintf("response contains folder %s for owner %s, expected %s", f.ID, f.OwnerID, ownerID),
			})
		}
	}
	return rows, nil
}

// UpsertFolders implements Client.UpsertFolders.
func (c *HTTPClient) UpsertFolders(ctx context.Context, folders []*journal.Folder) error {
	if len(folders) == 0 {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "folders", nil, folders, nil); err != nil {
		return fmt.Errorf("upsert folders: %w", err)
	}
	return nil
}

// DeleteFolders implements Client.DeleteFolders.
func (c *HTTPClient) DeleteFolders(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := url.Values{"id": {"in.(" + strings.Join(ids, ",") + ")"}}
	if err := c.do(ctx, http.MethodDelete, "folders", query, nil, nil); err != nil {
		return fmt.Errorf("delete folders: %w", err)
	}
	return nil
}

// do performs one logical API call, retrying transient failures with
// exponential backoff until the retry budget is spent. Rejections are
// permanent and returned immediately.
func (c *HTTPClient) do(ctx context.Context, method, table string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	endpoint := *c.base
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/" + table
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(callCtx, method, endpoint.String(), reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}

		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("apikey", c.apiKey)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if method == http.MethodPost {
			// Upsert semantics: conflict target id, full-row replace.
			req.Header.Set("Prefer", "resolution=merge-duplicates")
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return &UnavailableError{Err: err}
		}
		defer resp.Body.Close()

		if err := statusError(resp); err != nil {
			if IsRejected(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return &UnavailableError{Err: fmt.Errorf("failed to decode response: %w", err)}
			}
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.budget

	return backoff.Retry(attempt, backoff.WithContext(policy, ctx))
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &UnavailableError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	default:
		return &RejectedError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	}
}
