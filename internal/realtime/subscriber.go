// Package realtime subscribes to the remote change feed over
// WebSocket and turns server-side changes into sync triggers.
//
// The feed is advisory: the engine converges with or without it. A
// subscriber that never connects degrades to manual and periodic sync;
// redundant events are harmless because sync triggers are idempotent
// and coalesced.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
)

// Event is one change notification from the feed. The engine only
// needs "something changed in this table, re-run sync"; the remaining
// fields are informational.
type Event struct {
	Table   string `json:"table"`
	OwnerID string `json:"owner_id,omitempty"`
	Action  string `json:"action,omitempty"`
	RowID   string `json:"row_id,omitempty"`
}

// Config holds settings for the subscriber.
type Config struct {
	// URL is the WebSocket endpoint of the change feed.
	URL string

	// Token authenticates the subscription; sent in the subscribe
	// frame after connecting.
	Token string

	// OwnerID filters the subscription to one owner's rows.
	OwnerID string

	// Logger defaults to stderr.
	Logger *log.Logger
}

// subscribeFrame is the first message sent on each connection.
type subscribeFrame struct {
	Token   string   `json:"token,omitempty"`
	OwnerID string   `json:"owner_id"`
	Tables  []string `json:"tables"`
}

// Subscriber maintains the feed connection and emits events.
type Subscriber struct {
	cfg    Config
	logger *log.Logger
	events chan Event
}

// New creates a Subscriber. Run must be called to start it.
func New(cfg Config) *Subscriber {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	return &Subscriber{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, 64),
	}
}

// Events returns the channel change notifications arrive on. When the
// consumer falls behind, events are dropped rather than buffered
// without bound; a dropped event costs nothing because the next sync
// cycle pulls the full row set anyway.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Run connects to the feed and reconnects with exponential backoff
// until ctx is cancelled. It returns ctx.Err on cancellation.
func (s *Subscriber) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // keep reconnecting for the process lifetime
	policy.MaxInterval = time.Minute

	for {
		// A connection that got as far as subscribing resets the
		// backoff, so a drop after hours of healthy streaming
		// reconnects promptly instead of waiting out a grown interval.
		if err := s.connectAndRead(ctx, policy.Reset); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Printf("feed connection lost: %v", err)
		}

		wait := policy.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// connectAndRead holds one connection: dial, subscribe, then decode
// events until the connection drops. subscribed is called once the
// subscribe frame has been written.
func (s *Subscriber) connectAndRead(ctx context.Context, subscribed func()) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	frame, err := json.Marshal(subscribeFrame{
		Token:   s.cfg.Token,
		OwnerID: s.cfg.OwnerID,
		Tables:  []string{"notes", "folders"},
	})
	if err != nil {
		return fmt.Errorf("failed to encode subscribe frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.logger.Printf("subscribed to change feed for owner %s", s.cfg.OwnerID)
	subscribed()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Printf("ignoring malformed event: %v", err)
			continue
		}
		if ev.OwnerID != "" && ev.OwnerID != s.cfg.OwnerID {
			// The server filters by owner; anything else is dropped.
			continue
		}

		select {
		case s.events <- ev:
		default:
			s.logger.Printf("event queue full, dropping %s event", ev.Table)
		}
	}
}
