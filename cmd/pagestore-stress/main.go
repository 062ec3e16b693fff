// Command pagestore-stress drives a configured page store with concurrent
// put/get/delete traffic and reports how the time-bounded layer behaved.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/objectfs/pagecache/internal/config"
	"github.com/objectfs/pagecache/internal/metrics"
	"github.com/objectfs/pagecache/internal/pagestore"
	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/retry"
	"github.com/objectfs/pagecache/pkg/types"
	"github.com/objectfs/pagecache/pkg/utils"
)

type options struct {
	configFile   string
	duration     time.Duration
	clients      int
	files        int
	pagesPerFile int
	readRatio    float64
	deleteRatio  float64
	uploadRatio  float64
	retries      int
}

func main() {
	opts := options{}
	flag.StringVar(&opts.configFile, "config", "", "path to YAML configuration")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "how long to generate load")
	flag.IntVar(&opts.clients, "clients", 64, "concurrent client goroutines")
	flag.IntVar(&opts.files, "files", 128, "number of distinct files")
	flag.IntVar(&opts.pagesPerFile, "pages", 16, "pages per file")
	flag.Float64Var(&opts.readRatio, "read-ratio", 0.7, "fraction of operations that are reads")
	flag.Float64Var(&opts.deleteRatio, "delete-ratio", 0.05, "fraction of operations that are deletes")
	flag.Float64Var(&opts.uploadRatio, "upload-ratio", 0.05, "fraction of operations that write and commit temporary pages")
	flag.IntVar(&opts.retries, "retries", 5, "attempts for commit and abort when the store is saturated")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "pagestore-stress: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) (err error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Port:      cfg.Metrics.Port,
		Path:      cfg.Metrics.Path,
		Labels:    cfg.Metrics.CustomLabels,
		Namespace: cfg.Metrics.Namespace,
		Subsystem: "client_cache",
	})
	if err != nil {
		return err
	}
	collector.SetLogger(logger)
	if err := collector.Start(ctx); err != nil {
		return err
	}

	store, err := pagestore.Create(cfg.PageStore, collector, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing page store: %w", closeErr)
		}
	}()

	pageSize, err := cfg.PageStore.PageSizeBytes()
	if err != nil {
		return err
	}

	files := make([]string, opts.files)
	for i := range files {
		files[i] = uuid.NewString()
	}

	logger.Info("starting load", map[string]interface{}{
		"store":    cfg.PageStore.Type,
		"clients":  opts.clients,
		"files":    opts.files,
		"duration": opts.duration.String(),
	})

	var tally tally
	loadCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = opts.retries
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		tally.retries.Add(1)
	}
	retryer := retry.New(retryCfg)

	g, gctx := errgroup.WithContext(loadCtx)
	start := time.Now()
	for c := 0; c < opts.clients; c++ {
		g.Go(func() error {
			return client(gctx, store, retryer, files, opts, int(pageSize), &tally)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	tally.report(os.Stdout, elapsed)
	if bounded, ok := pagestore.TimeBound(store); ok {
		stats := bounded.Stats()
		fmt.Printf("facade: workers=%d submitted=%d completed=%d timed_out=%d rejected=%d\n",
			stats.Workers, stats.Submitted, stats.Completed, stats.TimedOut, stats.Rejected)
	}
	return nil
}

func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	output, err := utils.OpenLogOutput(cfg.Global.LogFile)
	if err != nil {
		return nil, err
	}
	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:         level,
		Output:        output,
		Format:        utils.ParseLogFormat(cfg.Logging.Format),
		IncludeCaller: cfg.Logging.IncludeCaller,
	}), nil
}

func client(ctx context.Context, store types.TempPageStore, retryer *retry.Retryer, files []string, opts options, pageSize int, t *tally) error {
	page := make([]byte, pageSize)
	buf := make([]byte, pageSize)

	for ctx.Err() == nil {
		fileID := files[rand.Intn(len(files))]
		id := types.NewPageID(fileID, rand.Int63n(int64(opts.pagesPerFile)))

		var err error
		op := types.OpPut
		switch r := rand.Float64(); {
		case r < opts.readRatio:
			op = types.OpGet
			_, err = store.Get(ctx, id, 0, pageSize, types.NewByteTarget(buf), false)
		case r < opts.readRatio+opts.deleteRatio:
			op = types.OpDelete
			err = store.Delete(ctx, id)
		case r < opts.readRatio+opts.deleteRatio+opts.uploadRatio:
			op = types.OpCommit
			err = upload(ctx, store, retryer, page)
		default:
			fillPage(page, id)
			err = store.Put(ctx, id, page, false)
		}
		t.record(op, err)
	}
	return nil
}

// upload writes a handful of temporary pages and commits them as a new file.
// Commit and abort are retried while the store is saturated so that a busy
// pool does not leave temporary pages behind.
func upload(ctx context.Context, store types.TempPageStore, retryer *retry.Retryer, page []byte) error {
	tempID := uuid.NewString()
	abort := func() {
		_ = retryer.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
			return store.Abort(ctx, tempID)
		})
	}
	for i := int64(0); i < 4; i++ {
		if err := store.Put(ctx, types.NewPageID(tempID, i), page, true); err != nil {
			abort()
			return err
		}
	}
	newID := uuid.NewString()
	err := retryer.Do(ctx, func(ctx context.Context) error {
		return store.Commit(ctx, tempID, newID)
	})
	if err != nil {
		abort()
		return err
	}
	return nil
}

func fillPage(page []byte, id types.PageID) {
	seed := []byte(id.String())
	for i := range page {
		page[i] = seed[i%len(seed)]
	}
}

type tally struct {
	ops       [5]atomic.Uint64
	ok        atomic.Uint64
	notFound  atomic.Uint64
	timeouts  atomic.Uint64
	rejected  atomic.Uint64
	canceled  atomic.Uint64
	unhealthy atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
}

var opIndex = map[types.Operation]int{
	types.OpPut: 0, types.OpGet: 1, types.OpDelete: 2, types.OpCommit: 3, types.OpAbort: 4,
}

func (t *tally) record(op types.Operation, err error) {
	t.ops[opIndex[op]].Add(1)

	switch {
	case err == nil:
		t.ok.Add(1)
	case pcerrors.IsPageNotFound(err):
		t.notFound.Add(1)
	case errors.Is(err, pcerrors.ErrTimeout):
		t.timeouts.Add(1)
	case errors.Is(err, pcerrors.ErrRejected):
		t.rejected.Add(1)
	case errors.Is(err, pcerrors.ErrCanceled):
		t.canceled.Add(1)
	case errors.Is(err, pcerrors.ErrUnavailable):
		t.unhealthy.Add(1)
	default:
		t.failed.Add(1)
	}
}

func (t *tally) report(w io.Writer, elapsed time.Duration) {
	var total uint64
	for i := range t.ops {
		total += t.ops[i].Load()
	}
	rate := float64(total) / elapsed.Seconds()

	fmt.Fprintf(w, "operations: %d in %s (%.0f ops/s)\n", total, elapsed.Round(time.Millisecond), rate)
	fmt.Fprintf(w, "  put=%d get=%d delete=%d upload=%d\n",
		t.ops[0].Load(), t.ops[1].Load(), t.ops[2].Load(), t.ops[3].Load())
	fmt.Fprintf(w, "outcomes: ok=%d not_found=%d timeout=%d rejected=%d canceled=%d circuit_open=%d failed=%d retries=%d\n",
		t.ok.Load(), t.notFound.Load(), t.timeouts.Load(), t.rejected.Load(),
		t.canceled.Load(), t.unhealthy.Load(), t.failed.Load(), t.retries.Load())
}
