/*
Package types provides the core interfaces and data structures of the page cache.

This package defines the contracts between the page store backends, the
time-bounded facade that guards them, and the metrics sink that observes the
facade.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│               Cache Client                  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│     Guarded store (optional, breaker)      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   Time-bounded store (deadline + workers)  │──── StoreMetrics
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────┐ ┌───────────┐ ┌──────────────┐
	│    local    │ │  badger   │ │    memory    │
	└─────────────┘ └───────────┘ └──────────────┘

# Core Interfaces

PageStore:
Persists page bytes. Put, Get and Delete take a context that the store may
observe; ignoring it is allowed. Expected conditions are reported with the
domain errors of pkg/errors (ErrPageNotFound, ErrResourceExhausted).

TempPageStore:
Adds Commit and Abort for stores that keep temporary pages apart from
committed ones.

StoreMetrics:
Receives one event per timeout or rejection. OperationRecorder optionally
observes every completed call.

# Data Structures

PageID:
The (file ID, page index) pair. Comparable, totally ordered by Compare.

ReadTarget and ByteTarget:
The destination of a Get. A store never writes more than Remaining() bytes.

StoreStats:
Counters of a time-bounded store, returned by its Stats method.

# Usage Examples

Reading a page range into a caller buffer:

	buf := make([]byte, 4096)
	target := types.NewByteTarget(buf)
	n, err := store.Get(ctx, types.NewPageID("file-1", 0), 0, len(buf), target, false)
	if errors.Is(err, pcerrors.ErrPageNotFound) {
		// cache miss
	}
	data := target.Bytes()[:n]

Implementing a backend Get with the shared range helper:

	func (s *MyStore) Get(ctx context.Context, id types.PageID, offset, length int, target types.ReadTarget, temp bool) (int, error) {
		page, ok := s.lookup(id, temp)
		if !ok {
			return 0, pcerrors.PageNotFound(id.String())
		}
		return types.CopyRange(page, offset, length, target)
	}

# Thread Safety

All PageStore implementations must be safe for concurrent use. ByteTarget is
not; each call should own its target.
*/
package types
