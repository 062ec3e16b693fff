package pagestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/pagecache/internal/config"
	"github.com/objectfs/pagecache/internal/pagestore/kv"
	"github.com/objectfs/pagecache/internal/pagestore/local"
	"github.com/objectfs/pagecache/internal/pagestore/memory"
	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
)

func TestCreate_Layers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*config.PageStoreConfig)
		check  func(t *testing.T, store types.TempPageStore)
	}{
		{
			name:   "memory without timeout",
			modify: func(c *config.PageStoreConfig) { c.Type = config.StoreMemory; c.Timeout = 0 },
			check: func(t *testing.T, store types.TempPageStore) {
				assert.IsType(t, &memory.Store{}, store)
				_, ok := TimeBound(store)
				assert.False(t, ok)
			},
		},
		{
			name:   "local with timeout",
			modify: func(c *config.PageStoreConfig) { c.Compression = "lz4" },
			check: func(t *testing.T, store types.TempPageStore) {
				bounded, ok := store.(*TimeBoundPageStore)
				require.True(t, ok, "got %T", store)
				assert.IsType(t, &local.Store{}, bounded.store)
				assert.Equal(t, 4, bounded.Stats().Workers)

				found, ok := TimeBound(store)
				require.True(t, ok)
				assert.Same(t, bounded, found)
			},
		},
		{
			name:   "badger with breaker",
			modify: func(c *config.PageStoreConfig) { c.Type = config.StoreBadger; c.CircuitBreaker.Enabled = true },
			check: func(t *testing.T, store types.TempPageStore) {
				guarded, ok := store.(*GuardedPageStore)
				require.True(t, ok, "got %T", store)
				bounded, ok := guarded.store.(*TimeBoundPageStore)
				require.True(t, ok, "got %T", guarded.store)
				assert.IsType(t, &kv.Store{}, bounded.store)

				found, ok := TimeBound(store)
				require.True(t, ok)
				assert.Same(t, bounded, found)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefault().PageStore
			cfg.Directory = t.TempDir()
			cfg.PageSize = "64KB"
			cfg.Timeout = time.Second
			cfg.TimeoutThreads = 4
			tt.modify(&cfg)

			store, err := Create(cfg, nil, nil)
			require.NoError(t, err)
			defer store.Close()

			tt.check(t, store)

			ctx := context.Background()
			id := types.NewPageID("factory", 1)
			require.NoError(t, store.Put(ctx, id, []byte("created"), false))

			buf := make([]byte, 16)
			n, err := store.Get(ctx, id, 0, len(buf), types.NewByteTarget(buf), false)
			require.NoError(t, err)
			assert.Equal(t, "created", string(buf[:n]))
		})
	}
}

func TestCreate_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefault().PageStore
	cfg.Type = "cassandra"

	_, err := Create(cfg, nil, nil)
	assert.ErrorIs(t, err, pcerrors.NewError(pcerrors.ErrCodeConfigValidation, ""))
}
