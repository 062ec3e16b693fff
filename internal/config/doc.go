/*
Package config loads and validates page cache configuration.

Values are resolved in order of increasing precedence:

	compiled-in defaults (NewDefault)
	        │
	YAML configuration file (LoadFromFile)
	        │
	environment variables (LoadFromEnv, PAGECACHE_*)

# Page Store Section

The page_store section selects the backend and the bounds placed on every
call made through it:

	page_store:
	  type: local              # local | badger | memory
	  directory: /var/cache/pagecache
	  page_size: 1MB
	  file_buckets: 1000
	  compression: lz4         # none | lz4 | zstd
	  write_rate_limit: 256MB  # bytes per second, 0 for unlimited
	  timeout: 5s              # <= 0 disables the time-bounded facade
	  timeout_threads: 32
	  circuit_breaker:
	    enabled: true
	    failure_threshold: 5
	    open_timeout: 30s

A configuration is read once when the store is created; later edits do not
affect a running store.

# Environment Variables

	PAGECACHE_LOG_LEVEL        PAGECACHE_STORE_TYPE
	PAGECACHE_LOG_FILE         PAGECACHE_STORE_DIR
	PAGECACHE_LOG_FORMAT       PAGECACHE_PAGE_SIZE
	PAGECACHE_METRICS_PORT     PAGECACHE_COMPRESSION
	PAGECACHE_METRICS_ENABLED  PAGECACHE_SYNC_WRITES
	PAGECACHE_TIMEOUT          PAGECACHE_TIMEOUT_THREADS

Malformed duration and integer values for the timeout variables are reported
as errors rather than silently ignored.
*/
package config
