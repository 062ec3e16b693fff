package types

import (
	"context"
)

// PageStore persists page bytes on local media.
//
// The context passed to each call is a cancellation signal the store may
// observe. A store that ignores it is still conformant: callers of a
// time-bounded store stop waiting at their deadline whether or not the
// underlying call stops. All methods must be safe for concurrent use.
type PageStore interface {
	// Put stores page as the content of id. It may fail with
	// errors.ErrResourceExhausted when local media is full.
	Put(ctx context.Context, id PageID, page []byte, isTemporary bool) error

	// Get copies up to length bytes of the page, starting at offset, into
	// target and returns the number of bytes copied. It fails with
	// errors.ErrPageNotFound when the page does not exist.
	Get(ctx context.Context, id PageID, offset, length int, target ReadTarget, isTemporary bool) (int, error)

	// Delete removes a committed page. It fails with errors.ErrPageNotFound
	// when the page does not exist.
	Delete(ctx context.Context, id PageID) error

	// Close releases all resources held by the store.
	Close() error
}

// TempPageStore is implemented by stores that keep temporary pages apart
// from committed ones.
type TempPageStore interface {
	PageStore

	// Commit turns every temporary page of fileID into a committed page of
	// newFileID.
	Commit(ctx context.Context, fileID, newFileID string) error

	// Abort drops every temporary page of fileID.
	Abort(ctx context.Context, fileID string) error
}

// StoreMetrics receives the overload and timeout events of a time-bounded
// page store. Each call corresponds to exactly one event.
type StoreMetrics interface {
	RecordTimeout(op Operation)
	RecordRejection()
}

// OperationRecorder is optionally implemented by a StoreMetrics sink to
// observe completed calls.
type OperationRecorder interface {
	RecordOperation(op Operation, seconds float64, err error)
}
