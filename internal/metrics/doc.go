/*
Package metrics provides Prometheus metrics for the page store.

# Overview

The Collector is the metrics sink of a time-bounded page store. It counts the
two events that signal local storage distress, calls that outlived their
timeout and calls rejected because every I/O worker was busy, and records the
latency and outcome of calls that completed.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "pagecache",
		Subsystem: "client_cache",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Prometheus Metrics

Counters:
  - <ns>_<sub>_store_timeouts_total{operation}: put, get and delete timeouts
  - <ns>_<sub>_store_threads_rejected_total: calls rejected by a saturated pool
  - <ns>_<sub>_store_operations_total{operation,status}: completed calls;
    status is success, domain_error or error

Histograms:
  - <ns>_<sub>_store_operation_duration_seconds{operation}

Each timeout or rejection increments exactly one counter by one.

# HTTP Endpoints

/metrics serves the Prometheus exposition format. /debug/store returns the
internally tracked values as JSON.

# Thread Safety

All Collector methods are safe for concurrent use.
*/
package metrics
