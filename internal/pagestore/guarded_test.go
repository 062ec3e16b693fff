package pagestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/pagecache/internal/circuit"
	"github.com/objectfs/pagecache/internal/pagestore/memory"
	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
)

func TestGuarded_DomainFailuresDoNotTrip(t *testing.T) {
	t.Parallel()

	g := NewGuardedPageStore(memory.New(nil), "test", circuit.Config{FailureThreshold: 2})
	defer g.Close()

	for i := 0; i < 10; i++ {
		_, err := g.Get(context.Background(), pageA, 0, 1, types.NewByteTarget(make([]byte, 1)), false)
		require.True(t, pcerrors.IsPageNotFound(err))
	}
	assert.Equal(t, circuit.StateClosed, g.Breaker().State())
}

func TestGuarded_InfrastructureFailuresTrip(t *testing.T) {
	t.Parallel()

	var calls int
	g := NewGuardedPageStore(&stubStore{
		put: func(context.Context, types.PageID, []byte) error {
			calls++
			return pcerrors.StorageIO(errors.New("disk gone"))
		},
	}, "test", circuit.Config{FailureThreshold: 3, OpenTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		err := g.Put(context.Background(), pageA, nil, false)
		require.ErrorIs(t, err, pcerrors.NewError(pcerrors.ErrCodeStorageIO, ""))
	}
	assert.Equal(t, circuit.StateOpen, g.Breaker().State())

	err := g.Put(context.Background(), pageA, nil, false)
	assert.ErrorIs(t, err, pcerrors.ErrUnavailable)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, 3, calls)
}

func TestGuarded_TimeoutsCountAgainstStore(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	bounded := newBounded(t, &stubStore{
		del: func(context.Context, types.PageID) error {
			<-release
			return nil
		},
	}, 10*time.Millisecond, 4, nil)
	g := NewGuardedPageStore(bounded, "test", circuit.Config{FailureThreshold: 2, OpenTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, g.Delete(context.Background(), pageA), pcerrors.ErrTimeout)
	}
	assert.ErrorIs(t, g.Delete(context.Background(), pageA), pcerrors.ErrUnavailable)
}

func TestGuarded_CancellationDoesNotTrip(t *testing.T) {
	t.Parallel()

	bounded := newBounded(t, memory.New(nil), time.Second, 1, nil)
	g := NewGuardedPageStore(bounded, "test", circuit.Config{FailureThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Put(ctx, pageA, nil, false), context.Canceled)
	assert.Equal(t, circuit.StateClosed, g.Breaker().State())
}

func TestGuarded_TempPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewGuardedPageStore(memory.New(nil), "test", circuit.Config{})

	require.NoError(t, g.Put(ctx, types.NewPageID("t", 0), []byte("x"), true))
	require.NoError(t, g.Commit(ctx, "t", "c"))
	require.NoError(t, g.Abort(ctx, "t"))
	require.NoError(t, g.Delete(ctx, types.NewPageID("c", 0)))

	plain := NewGuardedPageStore(&stubStore{}, "plain", circuit.Config{})
	assert.ErrorIs(t, plain.Commit(ctx, "a", "b"), pcerrors.ErrInvalidArgument)
}

func TestGuarded_CloseForwards(t *testing.T) {
	t.Parallel()

	stub := &stubStore{}
	g := NewGuardedPageStore(stub, "test", circuit.Config{})
	require.NoError(t, g.Close())
	assert.Equal(t, int32(1), stub.closes.Load())
}
