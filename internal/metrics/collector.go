package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
	"github.com/objectfs/pagecache/pkg/utils"
)

// Collector exports page store events as Prometheus metrics. It implements
// types.StoreMetrics and types.OperationRecorder.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	// Prometheus metrics
	storeTimeouts     *prometheus.CounterVec
	threadsRejected   prometheus.Counter
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Internal tracking
	operations map[types.Operation]*OperationMetrics
	timeouts   map[types.Operation]uint64
	rejections uint64
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// OperationMetrics tracks completed calls of one operation
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "pagecache",
		Subsystem: "client_cache",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[types.Operation]*OperationMetrics),
		timeouts:   make(map[types.Operation]uint64),
		lastReset:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// SetLogger sets the logger used by the metrics HTTP server.
func (c *Collector) SetLogger(logger *utils.StructuredLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// Registry returns the Prometheus registry backing the collector, or nil if
// metrics are disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/debug/store", c.debugStoreHandler)

	c.mu.Lock()
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server, logger := c.server, c.logger
	c.mu.Unlock()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("metrics server stopped", map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordTimeout counts one call that outlived its deadline.
func (c *Collector) RecordTimeout(op types.Operation) {
	if !c.config.Enabled {
		return
	}

	c.storeTimeouts.With(prometheus.Labels{"operation": string(op)}).Inc()

	c.mu.Lock()
	c.timeouts[op]++
	c.mu.Unlock()
}

// RecordRejection counts one call turned away because every worker was busy.
func (c *Collector) RecordRejection() {
	if !c.config.Enabled {
		return
	}

	c.threadsRejected.Inc()

	c.mu.Lock()
	c.rejections++
	c.mu.Unlock()
}

// RecordOperation records a call that reached the underlying store and returned.
func (c *Collector) RecordOperation(op types.Operation, seconds float64, err error) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	switch {
	case err == nil:
	case pcerrors.IsDomain(err):
		status = "domain_error"
	default:
		status = "error"
	}

	c.operationCounter.With(prometheus.Labels{"operation": string(op), "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": string(op)}).Observe(seconds)

	duration := time.Duration(seconds * float64(time.Second))

	c.mu.Lock()
	defer c.mu.Unlock()

	metrics, exists := c.operations[op]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[op] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	if status == "error" {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
}

// GetMetrics returns a snapshot of the internally tracked values.
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[types.Operation]OperationMetrics, len(c.operations))
	for op, m := range c.operations {
		operations[op] = *m
	}
	timeouts := make(map[types.Operation]uint64, len(c.timeouts))
	for op, n := range c.timeouts {
		timeouts[op] = n
	}

	return map[string]interface{}{
		"enabled":    c.config.Enabled,
		"uptime":     time.Since(c.lastReset).String(),
		"last_reset": c.lastReset,
		"operations": operations,
		"timeouts":   timeouts,
		"rejections": c.rejections,
	}
}

// ResetMetrics clears the internally tracked values. Prometheus counters are
// monotonic and are left untouched.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[types.Operation]*OperationMetrics)
	c.timeouts = make(map[types.Operation]uint64)
	c.rejections = 0
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	labels := prometheus.Labels(c.config.Labels)

	c.storeTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "store_timeouts_total",
			Help:        "Number of page store calls that exceeded their timeout",
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.threadsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "store_threads_rejected_total",
			Help:        "Number of page store calls rejected because every I/O worker was busy",
			ConstLabels: labels,
		},
	)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "store_operations_total",
			Help:        "Number of page store calls that returned before their timeout",
			ConstLabels: labels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "store_operation_duration_seconds",
			Help:        "Duration of page store calls in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	// Pre-create the timeout series so they are exported at zero.
	for _, op := range []types.Operation{types.OpPut, types.OpGet, types.OpDelete} {
		c.storeTimeouts.With(prometheus.Labels{"operation": string(op)})
	}
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.storeTimeouts,
		c.threadsRejected,
		c.operationCounter,
		c.operationDuration,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

func (c *Collector) debugStoreHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c.GetMetrics())
}

// Noop discards every event.
type Noop struct{}

func (Noop) RecordTimeout(types.Operation) {}
func (Noop) RecordRejection()              {}
