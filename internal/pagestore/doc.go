/*
Package pagestore builds the page stores used by the client cache.

A store is assembled in layers:

	GuardedPageStore      optional: fails fast while the backend is unhealthy
	      │
	TimeBoundPageStore    bounds each call by a timeout and a fixed worker pool
	      │
	backend               local files, badger, or memory

# Time-Bounded Calls

TimeBoundPageStore runs every call on one of N workers. Admission is a direct
hand-off: a call either starts on an idle worker at once or fails with
WORKER_BUSY. Nothing waits in a queue, so a caller is blocked for at most the
configured timeout.

Failures are reported through pkg/errors:

	PAGE_NOT_FOUND, RESOURCE_EXHAUSTED   returned by the backend, passed through unchanged
	OPERATION_TIMEOUT                    deadline elapsed; counted per operation
	WORKER_BUSY                          every worker busy; counted once per rejection
	OPERATION_CANCELED                   the caller's context ended first; not counted
	STORAGE_IO                           any other backend failure, wrapping the cause

A timed-out call is abandoned, not aborted. The backend sees a cancelled
context and may stop early, but a backend that ignores it keeps the worker
until it returns.

# Construction

Create builds the whole stack from configuration:

	store, err := pagestore.Create(cfg.PageStore, collector, logger)
	if err != nil {
		return err
	}
	defer store.Close()

Closing the outermost store stops admission and then closes the backend
exactly once.
*/
package pagestore
