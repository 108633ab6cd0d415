// Package daemon runs background synchronization for one device.
//
// The daemon:
//  1. Bootstraps the local store on startup
//  2. Runs a sync cycle on a fixed interval
//  3. Consumes realtime change-feed events as extra triggers, debounced
//  4. Optionally watches an import drop directory for note JSON files
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kayedejour/kayedejour/internal/realtime"
	"github.com/kayedejour/kayedejour/internal/store"
	"github.com/kayedejour/kayedejour/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a cycle runs with no other trigger.
	SyncInterval time.Duration

	// Debounce is how long to wait after a feed event before syncing,
	// batching rapid bursts into one cycle.
	Debounce time.Duration

	// ImportDir, when set, is watched for dropped note JSON files.
	ImportDir string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Minute,
		Debounce:     500 * time.Millisecond,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon ties the engine, the change feed, and the import watcher
// together for one owner.
type Daemon struct {
	engine  *sync.Engine
	store   *store.Store
	ownerID string
	sub     *realtime.Subscriber // nil when no feed is configured
	config  *Config
}

// New creates a Daemon. sub may be nil: the daemon then relies on the
// periodic interval alone, which the engine fully supports.
func New(engine *sync.Engine, st *store.Store, ownerID string, sub *realtime.Subscriber, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("ownerID cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	return &Daemon{
		engine:  engine,
		store:   st,
		ownerID: ownerID,
		sub:     sub,
		config:  config,
	}, nil
}

// Run bootstraps the store and then syncs until ctx is cancelled.
// Background failures are logged and retried on the next trigger; they
// never stop the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	d.config.Logger.Printf("starting daemon for owner %s", d.ownerID)

	if err := d.engine.Bootstrap(ctx, d.ownerID); err != nil {
		// Not fatal: the device may simply be offline right now.
		d.config.Logger.Printf("bootstrap incomplete: %v", err)
	}

	var feedEvents <-chan realtime.Event
	if d.sub != nil {
		feedEvents = d.sub.Events()
		go func() {
			if err := d.sub.Run(ctx); err != nil && ctx.Err() == nil {
				d.config.Logger.Printf("change feed stopped: %v", err)
			}
		}()
	}

	var watcherEvents <-chan string
	if d.config.ImportDir != "" {
		watcher, err := NewImportWatcher(d.config.ImportDir, d.store, d.config.Logger)
		if err != nil {
			return fmt.Errorf("failed to start import watcher: %w", err)
		}
		defer watcher.Close()
		watcherEvents = watcher.Imported()
		go watcher.Run(ctx)
	}

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	// debounce is nil until a trigger arrives, so the select below
	// blocks on it only when a cycle is actually pending.
	var debounce *time.Timer
	var debounceC <-chan time.Time

	trigger := func(reason string) {
		d.config.Logger.Printf("sync trigger: %s", reason)
		if debounce == nil {
			debounce = time.NewTimer(d.config.Debounce)
			debounceC = debounce.C
			return
		}
		if !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
		debounce.Reset(d.config.Debounce)
	}

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("daemon stopped")
			return ctx.Err()

		case <-ticker.C:
			d.runCycle(ctx)

		case ev, ok := <-feedEvents:
			if !ok {
				feedEvents = nil
				continue
			}
			trigger("remote change in " + ev.Table)

		case id, ok := <-watcherEvents:
			if !ok {
				watcherEvents = nil
				continue
			}
			trigger("imported note " + id)

		case <-debounceC:
			debounce = nil
			debounceC = nil
			d.runCycle(ctx)
		}
	}
}

// runCycle executes one full sync, logging failures instead of
// propagating them: the next trigger retries the same dirty state.
func (d *Daemon) runCycle(ctx context.Context) {
	start := time.Now()
	if err := d.engine.SyncAll(ctx, d.ownerID); err != nil {
		d.config.Logger.Printf("sync failed: %v", err)
		return
	}
	d.config.Logger.Printf("sync complete in %v", time.Since(start).Round(time.Millisecond))
}
