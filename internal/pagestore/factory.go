package pagestore

import (
	"fmt"
	"time"

	"github.com/objectfs/pagecache/internal/circuit"
	"github.com/objectfs/pagecache/internal/config"
	"github.com/objectfs/pagecache/internal/pagestore/codec"
	"github.com/objectfs/pagecache/internal/pagestore/kv"
	"github.com/objectfs/pagecache/internal/pagestore/local"
	"github.com/objectfs/pagecache/internal/pagestore/memory"
	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
	"github.com/objectfs/pagecache/pkg/utils"
)

// kvGCInterval is how often the badger backend reclaims value log space.
const kvGCInterval = 10 * time.Minute

// Create opens the backend described by cfg and layers the time-bounded
// facade (when cfg.Timeout > 0) and the circuit breaker (when enabled) on
// top of it. The breaker sits outside the facade so timeouts and
// rejections count against the store.
func Create(cfg config.PageStoreConfig, sink types.StoreMetrics, logger *utils.StructuredLogger) (types.TempPageStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, pcerrors.NewError(pcerrors.ErrCodeConfigValidation, "invalid page store configuration").
			WithComponent("factory").
			WithCause(err)
	}
	if logger == nil {
		logger = utils.NopLogger()
	}

	store, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.TimeoutEnabled() {
		bounded, err := NewTimeBoundPageStore(store, Options{
			Timeout: cfg.Timeout,
			Workers: cfg.TimeoutThreads,
			Metrics: sink,
			Logger:  logger,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = bounded
	}

	if cb := cfg.CircuitBreaker; cb.Enabled {
		store = NewGuardedPageStore(store, "page_store", circuit.Config{
			FailureThreshold: uint32(cb.FailureThreshold),
			Interval:         cb.Interval,
			OpenTimeout:      cb.OpenTimeout,
			HalfOpenRequests: uint32(cb.HalfOpenRequests),
			OnStateChange: func(name string, from, to circuit.State) {
				logger.WithComponent(guardedComponent).Warn("circuit breaker state changed", map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		})
	}

	return store, nil
}

func openBackend(cfg config.PageStoreConfig, logger *utils.StructuredLogger) (types.TempPageStore, error) {
	pageCodec, err := codec.New(cfg.Compression)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case config.StoreMemory:
		return memory.New(logger), nil

	case config.StoreBadger:
		return kv.Open(kv.Options{
			Dir:        cfg.Directory,
			SyncWrites: cfg.SyncWrites,
			Codec:      pageCodec,
			GCInterval: kvGCInterval,
			Logger:     logger,
		})

	case config.StoreLocal:
		pageSize, err := cfg.PageSizeBytes()
		if err != nil {
			return nil, err
		}
		rateLimit, err := cfg.WriteRateLimitBytes()
		if err != nil {
			return nil, err
		}
		return local.Open(local.Options{
			Root:           cfg.Directory,
			PageSize:       pageSize,
			FileBuckets:    cfg.FileBuckets,
			Codec:          pageCodec,
			WriteRateLimit: rateLimit,
			SyncWrites:     cfg.SyncWrites,
			Logger:         logger,
		})

	default:
		return nil, fmt.Errorf("unknown page store type %q", cfg.Type)
	}
}

// TimeBound returns the time-bounded layer of a store built by Create,
// looking through any wrappers that implement Unwrap.
func TimeBound(store types.PageStore) (*TimeBoundPageStore, bool) {
	for store != nil {
		if bounded, ok := store.(*TimeBoundPageStore); ok {
			return bounded, true
		}
		wrapper, ok := store.(interface{ Unwrap() types.PageStore })
		if !ok {
			return nil, false
		}
		store = wrapper.Unwrap()
	}
	return nil, false
}
