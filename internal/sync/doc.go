// Package sync implements the bidirectional synchronization engine
// between the local embedded store and the remote row store.
//
// # Overview
//
// The local store is the single source of truth for the UI; the engine
// keeps it eventually consistent with the remote store across any
// number of devices, with no continuous connection required. Each
// cycle runs a push phase then a pull phase per entity kind:
//
//	UI mutation ──► Local Store (dirty, updated_at stamped)
//	                     │
//	            push: dirty rows ──► Remote upsert / delete
//	                     │               (confirmed: clear / purge)
//	            pull: owner's rows ◄── Remote select
//	                     │
//	            last-write-wins merge into Local Store
//
// # Conflict rule
//
// Whole-row last-write-wins on updated_at. During the pull phase a
// dirty or tombstoned local row is never overwritten; it is skipped,
// pushed on the next cycle, and the pull after that sees the matching
// remote state. Equal timestamps keep the local value. The push phase
// is not conflict-aware: it overwrites the remote row regardless of the
// remote's current timestamp. That asymmetry is deliberate and tested;
// concurrent offline edits to the same entity resolve to whichever
// device carries the later updated_at, and the loser is discarded.
//
// Deletes converge through the pull as well: a clean local row absent
// from the pulled set was deleted on another device and is pruned.
// Dirty rows and tombstones are exempt from pruning, so an unpushed
// local change is never lost to it.
//
// # Failure behavior
//
// Any remote failure aborts the current kind's cycle and leaves dirty
// and tombstone state untouched, so the same batch is retried on the
// next trigger; upsert idempotency makes the retry safe. A failed
// notes cycle does not prevent the folders cycle from completing.
// Dirty flags are cleared if and only if the corresponding remote
// write was confirmed.
//
// # Concurrency
//
// Cycles are serialized per entity kind and owner via singleflight:
// a trigger arriving while a cycle is in flight joins that cycle and
// shares its result instead of queueing another. A change that lands
// after the in-flight cycle's push already ran stays dirty and is
// covered by the next trigger (periodic or realtime), so coalescing
// trades a little convergence latency for bounded work under trigger
// bursts.
package sync
