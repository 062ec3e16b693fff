package pagestore

import (
	"context"
	"errors"

	"github.com/objectfs/pagecache/internal/circuit"
	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
)

const guardedComponent = "guarded"

// GuardedPageStore fails calls fast while its circuit breaker is open.
//
// Only infrastructure failures (timeouts, rejections, i/o errors) count
// against the store. Missing pages and full media are ordinary answers and
// count as successes, as do calls the caller cancelled.
type GuardedPageStore struct {
	store   types.PageStore
	breaker *circuit.Breaker
}

var _ types.TempPageStore = (*GuardedPageStore)(nil)

// NewGuardedPageStore wraps store with breaker. The breaker's IsFailure is
// replaced so that only infrastructure failures trip it.
func NewGuardedPageStore(store types.PageStore, name string, config circuit.Config) *GuardedPageStore {
	config.IsFailure = pcerrors.IsInfrastructure
	return &GuardedPageStore{
		store:   store,
		breaker: circuit.New(name, config),
	}
}

// Breaker exposes the breaker for inspection.
func (g *GuardedPageStore) Breaker() *circuit.Breaker {
	return g.breaker
}

// Unwrap returns the guarded store.
func (g *GuardedPageStore) Unwrap() types.PageStore {
	return g.store
}

func (g *GuardedPageStore) guard(op types.Operation, fn func() error) error {
	err := g.breaker.Do(fn)
	if errors.Is(err, circuit.ErrOpen) || errors.Is(err, circuit.ErrTooManyRequests) {
		return pcerrors.NewError(pcerrors.ErrCodeServiceUnavailable, "page store unavailable: circuit breaker "+g.breaker.State().String()).
			WithComponent(guardedComponent).
			WithOperation(string(op)).
			WithCause(err)
	}
	return err
}

// Put stores page unless the breaker is open.
func (g *GuardedPageStore) Put(ctx context.Context, id types.PageID, page []byte, isTemporary bool) error {
	return g.guard(types.OpPut, func() error {
		return g.store.Put(ctx, id, page, isTemporary)
	})
}

// Get reads a page unless the breaker is open.
func (g *GuardedPageStore) Get(ctx context.Context, id types.PageID, offset, length int, target types.ReadTarget, isTemporary bool) (int, error) {
	var n int
	err := g.guard(types.OpGet, func() error {
		var err error
		n, err = g.store.Get(ctx, id, offset, length, target, isTemporary)
		return err
	})
	return n, err
}

// Delete removes a page unless the breaker is open.
func (g *GuardedPageStore) Delete(ctx context.Context, id types.PageID) error {
	return g.guard(types.OpDelete, func() error {
		return g.store.Delete(ctx, id)
	})
}

// Commit forwards to the wrapped store when it keeps temporary pages.
func (g *GuardedPageStore) Commit(ctx context.Context, fileID, newFileID string) error {
	temp, ok := g.store.(types.TempPageStore)
	if !ok {
		return errTempUnsupported(guardedComponent, types.OpCommit)
	}
	return g.guard(types.OpCommit, func() error {
		return temp.Commit(ctx, fileID, newFileID)
	})
}

// Abort forwards to the wrapped store when it keeps temporary pages.
func (g *GuardedPageStore) Abort(ctx context.Context, fileID string) error {
	temp, ok := g.store.(types.TempPageStore)
	if !ok {
		return errTempUnsupported(guardedComponent, types.OpAbort)
	}
	return g.guard(types.OpAbort, func() error {
		return temp.Abort(ctx, fileID)
	})
}

// Close closes the wrapped store regardless of breaker state.
func (g *GuardedPageStore) Close() error {
	return g.store.Close()
}
