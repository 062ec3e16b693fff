package pagestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objectfs/pagecache/internal/metrics"
	"github.com/objectfs/pagecache/internal/worker"
	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
	"github.com/objectfs/pagecache/pkg/utils"
)

const timeBoundComponent = "timebound"

// Options configures a TimeBoundPageStore.
type Options struct {
	// Timeout bounds every call, measured from submission.
	Timeout time.Duration
	// Workers is the number of calls that may run at once. A call arriving
	// while every worker is busy is rejected, never queued.
	Workers int
	// Metrics receives timeout and rejection events. Nil discards them.
	Metrics types.StoreMetrics
	Logger  *utils.StructuredLogger
}

// TimeBoundPageStore decorates a page store so that no call blocks its
// caller for longer than the configured timeout and no more than a fixed
// number of calls reach the underlying store at once.
//
// Calls that outlive their deadline are abandoned, not aborted: the
// underlying call receives a cancelled context and keeps its worker until it
// returns. A slow store therefore shows up first as timeouts and then as
// rejections once every worker is held by an abandoned call.
type TimeBoundPageStore struct {
	store    types.PageStore
	timeout  time.Duration
	pool     *worker.Pool
	metrics  types.StoreMetrics
	recorder types.OperationRecorder
	logger   *utils.StructuredLogger

	completed atomic.Uint64
	timedOut  atomic.Uint64
	canceled  atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

var _ types.TempPageStore = (*TimeBoundPageStore)(nil)

// NewTimeBoundPageStore wraps store. The returned store owns store and
// closes it from Close.
func NewTimeBoundPageStore(store types.PageStore, opts Options) (*TimeBoundPageStore, error) {
	if store == nil {
		return nil, pcerrors.NewError(pcerrors.ErrCodeInvalidConfig, "page store is required").
			WithComponent(timeBoundComponent)
	}
	if opts.Timeout <= 0 {
		return nil, pcerrors.NewError(pcerrors.ErrCodeInvalidConfig, "timeout must be positive").
			WithComponent(timeBoundComponent).
			WithDetail("timeout", opts.Timeout.String())
	}

	pool, err := worker.NewPool(opts.Workers)
	if err != nil {
		return nil, pcerrors.NewError(pcerrors.ErrCodeInvalidConfig, "invalid worker count").
			WithComponent(timeBoundComponent).
			WithCause(err)
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}

	s := &TimeBoundPageStore{
		store:   store,
		timeout: opts.Timeout,
		pool:    pool,
		metrics: opts.Metrics,
		logger:  opts.Logger.WithComponent(timeBoundComponent),
	}
	if recorder, ok := opts.Metrics.(types.OperationRecorder); ok {
		s.recorder = recorder
	}

	s.logger.Info("time-bounded page store started", map[string]interface{}{
		"timeout": opts.Timeout.String(),
		"workers": opts.Workers,
	})
	return s, nil
}

// Put stores page through the underlying store.
func (s *TimeBoundPageStore) Put(ctx context.Context, id types.PageID, page []byte, isTemporary bool) error {
	_, err := s.call(ctx, types.OpPut, id.String(), func(callCtx context.Context) (int, error) {
		return 0, s.store.Put(callCtx, id, page, isTemporary)
	})
	return err
}

// Get reads from the underlying store.
//
// After a timeout the abandoned call may still write into target, so a
// caller that received an error must not reuse target's buffer while the
// call could still be running.
func (s *TimeBoundPageStore) Get(ctx context.Context, id types.PageID, offset, length int, target types.ReadTarget, isTemporary bool) (int, error) {
	return s.call(ctx, types.OpGet, id.String(), func(callCtx context.Context) (int, error) {
		return s.store.Get(callCtx, id, offset, length, target, isTemporary)
	})
}

// Delete removes a page through the underlying store.
func (s *TimeBoundPageStore) Delete(ctx context.Context, id types.PageID) error {
	_, err := s.call(ctx, types.OpDelete, id.String(), func(callCtx context.Context) (int, error) {
		return 0, s.store.Delete(callCtx, id)
	})
	return err
}

// Commit forwards to the underlying store when it keeps temporary pages.
func (s *TimeBoundPageStore) Commit(ctx context.Context, fileID, newFileID string) error {
	temp, ok := s.store.(types.TempPageStore)
	if !ok {
		return errTempUnsupported(timeBoundComponent, types.OpCommit)
	}
	_, err := s.call(ctx, types.OpCommit, fileID, func(callCtx context.Context) (int, error) {
		return 0, temp.Commit(callCtx, fileID, newFileID)
	})
	return err
}

// Abort forwards to the underlying store when it keeps temporary pages.
func (s *TimeBoundPageStore) Abort(ctx context.Context, fileID string) error {
	temp, ok := s.store.(types.TempPageStore)
	if !ok {
		return errTempUnsupported(timeBoundComponent, types.OpAbort)
	}
	_, err := s.call(ctx, types.OpAbort, fileID, func(callCtx context.Context) (int, error) {
		return 0, temp.Abort(callCtx, fileID)
	})
	return err
}

// Close stops accepting calls, then closes the underlying store. Calls
// already running are not interrupted. Only the first call has any effect.
func (s *TimeBoundPageStore) Close() error {
	s.closeOnce.Do(func() {
		s.pool.Shutdown()
		s.closeErr = s.store.Close()

		stats := s.Stats()
		s.logger.Info("time-bounded page store closed", map[string]interface{}{
			"in_flight": stats.Active,
			"completed": stats.Completed,
			"timed_out": stats.TimedOut,
			"rejected":  stats.Rejected,
		})
	})
	return s.closeErr
}

// Stats returns a snapshot of call counters.
func (s *TimeBoundPageStore) Stats() types.StoreStats {
	ps := s.pool.Stats()
	return types.StoreStats{
		Workers:   ps.Size,
		Active:    ps.Active,
		Submitted: ps.Submitted,
		Completed: s.completed.Load(),
		Rejected:  ps.Rejected,
		TimedOut:  s.timedOut.Load(),
		Canceled:  s.canceled.Load(),
		Timeout:   s.timeout,
	}
}

type callResult struct {
	n   int
	err error
}

func (s *TimeBoundPageStore) call(ctx context.Context, op types.Operation, page string, fn func(context.Context) (int, error)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, s.canceledError(op, page, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	results := make(chan callResult, 1)
	var res callResult

	err := s.pool.TrySubmitWithDone(func() {
		defer func() {
			if p := recover(); p != nil {
				res = callResult{err: fmt.Errorf("page store panicked during %s: %v", op, p)}
			}
		}()
		res.n, res.err = fn(callCtx)
	}, func() {
		results <- res
	})

	switch {
	case errors.Is(err, worker.ErrRejected):
		s.metrics.RecordRejection()
		s.logger.Warn("page store call rejected: all workers busy", map[string]interface{}{
			"operation": string(op),
			"page_id":   page,
		})
		return 0, pcerrors.NewError(pcerrors.ErrCodeWorkerBusy, "rejected: all page store workers are busy").
			WithComponent(timeBoundComponent).
			WithOperation(string(op)).
			WithContext("page_id", page).
			WithDetail("workers", s.pool.Size()).
			WithCause(err)
	case errors.Is(err, worker.ErrClosed):
		return 0, pcerrors.NewError(pcerrors.ErrCodeComponentStopped, "page store is closed").
			WithComponent(timeBoundComponent).
			WithOperation(string(op)).
			WithCause(err)
	case err != nil:
		return 0, pcerrors.NewError(pcerrors.ErrCodeInternalError, "failed to submit page store call").
			WithComponent(timeBoundComponent).
			WithOperation(string(op)).
			WithCause(err)
	}

	select {
	case r := <-results:
		return r.n, s.complete(ctx, callCtx, op, page, start, r)
	case <-callCtx.Done():
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, s.canceledError(op, page, ctxErr)
		}
		return 0, s.timeoutError(op, page)
	}
}

// complete classifies the result of a call that returned before the facade
// stopped waiting.
func (s *TimeBoundPageStore) complete(ctx, callCtx context.Context, op types.Operation, page string, start time.Time, r callResult) error {
	err := r.err
	if err != nil && !pcerrors.IsDomain(err) && callCtx.Err() != nil {
		// The store gave up because it observed the cancelled context.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.canceledError(op, page, ctxErr)
		}
		return s.timeoutError(op, page)
	}

	s.completed.Add(1)
	if s.recorder != nil {
		s.recorder.RecordOperation(op, time.Since(start).Seconds(), err)
	}

	if err == nil || pcerrors.IsDomain(err) || pcerrors.IsInfrastructure(err) {
		return err
	}
	return pcerrors.StorageIO(err).
		WithComponent(timeBoundComponent).
		WithOperation(string(op)).
		WithContext("page_id", page)
}

func (s *TimeBoundPageStore) timeoutError(op types.Operation, page string) error {
	s.timedOut.Add(1)
	s.metrics.RecordTimeout(op)
	s.logger.Warn("page store call timed out", map[string]interface{}{
		"operation": string(op),
		"page_id":   page,
		"timeout":   s.timeout.String(),
	})
	return pcerrors.NewError(pcerrors.ErrCodeOperationTimeout,
		fmt.Sprintf("%s timed out after %s", op, s.timeout)).
		WithComponent(timeBoundComponent).
		WithOperation(string(op)).
		WithContext("page_id", page).
		WithCause(context.DeadlineExceeded)
}

func (s *TimeBoundPageStore) canceledError(op types.Operation, page string, cause error) error {
	s.canceled.Add(1)
	return pcerrors.NewError(pcerrors.ErrCodeOperationCanceled, "page store call interrupted").
		WithComponent(timeBoundComponent).
		WithOperation(string(op)).
		WithContext("page_id", page).
		WithCause(cause)
}

func errTempUnsupported(component string, op types.Operation) error {
	return pcerrors.NewError(pcerrors.ErrCodeInvalidArgument, "page store does not keep temporary pages").
		WithComponent(component).
		WithOperation(string(op))
}
