package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with valid config", func(t *testing.T) {
		config := &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "pagecache",
			Subsystem: "test",
		}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector.config != config {
			t.Error("collector.config does not match input config")
		}
		if collector.Registry() == nil {
			t.Error("collector registry is nil")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector.config.Path != "/metrics" {
			t.Errorf("default path = %q, want %q", collector.config.Path, "/metrics")
		}
		if collector.config.Namespace != "pagecache" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "pagecache")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}
		if collector.Registry() != nil {
			t.Error("disabled collector should not have registry")
		}
		// Must not panic.
		collector.RecordTimeout(types.OpPut)
		collector.RecordRejection()
		collector.RecordOperation(types.OpGet, 0.01, nil)
	})
}

func TestRecordTimeout(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordTimeout(types.OpPut)
	collector.RecordTimeout(types.OpGet)
	collector.RecordTimeout(types.OpGet)

	tests := []struct {
		op   types.Operation
		want float64
	}{
		{types.OpPut, 1},
		{types.OpGet, 2},
		{types.OpDelete, 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(collector.storeTimeouts.With(prometheus.Labels{"operation": string(tt.op)}))
		if got != tt.want {
			t.Errorf("%s timeouts = %v, want %v", tt.op, got, tt.want)
		}
	}

	timeouts := collector.GetMetrics()["timeouts"].(map[types.Operation]uint64)
	if timeouts[types.OpGet] != 2 {
		t.Errorf("tracked get timeouts = %d, want 2", timeouts[types.OpGet])
	}
	if got := testutil.ToFloat64(collector.threadsRejected); got != 0 {
		t.Errorf("rejections = %v, want 0", got)
	}
}

func TestRecordRejection(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordRejection()
	collector.RecordRejection()

	if got := testutil.ToFloat64(collector.threadsRejected); got != 2 {
		t.Errorf("rejections = %v, want 2", got)
	}
	if got := collector.GetMetrics()["rejections"].(uint64); got != 2 {
		t.Errorf("tracked rejections = %d, want 2", got)
	}
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordOperation(types.OpGet, 0.002, nil)
	collector.RecordOperation(types.OpGet, 0.004, pcerrors.PageNotFound("f:0"))
	collector.RecordOperation(types.OpGet, 0.006, errors.New("disk error"))

	statuses := map[string]float64{"success": 1, "domain_error": 1, "error": 1}
	for status, want := range statuses {
		got := testutil.ToFloat64(collector.operationCounter.With(prometheus.Labels{
			"operation": "get",
			"status":    status,
		}))
		if got != want {
			t.Errorf("get/%s = %v, want %v", status, got, want)
		}
	}

	ops := collector.GetMetrics()["operations"].(map[types.Operation]OperationMetrics)
	op := ops[types.OpGet]
	if op.Count != 3 {
		t.Errorf("Count = %d, want 3", op.Count)
	}
	if op.Errors != 1 {
		t.Errorf("Errors = %d, want 1 (domain errors are not counted)", op.Errors)
	}

	collector.ResetMetrics()
	if ops := collector.GetMetrics()["operations"].(map[types.Operation]OperationMetrics); len(ops) != 0 {
		t.Errorf("operations after reset = %d, want 0", len(ops))
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Namespace: "pagecache", Subsystem: "client_cache"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	collector.RecordTimeout(types.OpDelete)
	collector.RecordRejection()

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`pagecache_client_cache_store_timeouts_total{operation="delete"} 1`,
		`pagecache_client_cache_store_threads_rejected_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Port: 0, Path: "/metrics", Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := collector.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := collector.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestNoop(t *testing.T) {
	t.Parallel()

	var sink types.StoreMetrics = Noop{}
	sink.RecordTimeout(types.OpPut)
	sink.RecordRejection()
}
