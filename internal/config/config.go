package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/pagecache/pkg/utils"
)

// Page store backend types.
const (
	StoreLocal  = "local"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	PageStore PageStoreConfig `yaml:"page_store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// PageStoreConfig describes the page store backend and its time-bounded facade.
type PageStoreConfig struct {
	Type           string `yaml:"type"`
	Directory      string `yaml:"directory"`
	PageSize       string `yaml:"page_size"`
	FileBuckets    int    `yaml:"file_buckets"`
	Compression    string `yaml:"compression"`
	WriteRateLimit string `yaml:"write_rate_limit"`
	SyncWrites     bool   `yaml:"sync_writes"`

	// Timeout bounds every store call; zero or negative disables the facade.
	Timeout time.Duration `yaml:"timeout"`
	// TimeoutThreads is the number of workers executing bounded calls.
	TimeoutThreads int `yaml:"timeout_threads"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Interval         time.Duration `yaml:"interval"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Port         int               `yaml:"port"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Format        string `yaml:"format"`
	IncludeCaller bool   `yaml:"include_caller"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
		},
		PageStore: PageStoreConfig{
			Type:           StoreLocal,
			Directory:      filepath.Join(os.TempDir(), "pagecache"),
			PageSize:       "1MB",
			FileBuckets:    1000,
			Compression:    "none",
			WriteRateLimit: "0",
			Timeout:        5 * time.Second,
			TimeoutThreads: 32,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				Interval:         60 * time.Second,
				OpenTimeout:      30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Port:      9464,
			Path:      "/metrics",
			Namespace: "pagecache",
		},
		Logging: LoggingConfig{
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("PAGECACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("PAGECACHE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("PAGECACHE_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}

	// Page store settings
	if val := os.Getenv("PAGECACHE_STORE_TYPE"); val != "" {
		c.PageStore.Type = strings.ToLower(val)
	}
	if val := os.Getenv("PAGECACHE_STORE_DIR"); val != "" {
		c.PageStore.Directory = val
	}
	if val := os.Getenv("PAGECACHE_PAGE_SIZE"); val != "" {
		c.PageStore.PageSize = val
	}
	if val := os.Getenv("PAGECACHE_COMPRESSION"); val != "" {
		c.PageStore.Compression = strings.ToLower(val)
	}
	if val := os.Getenv("PAGECACHE_SYNC_WRITES"); val != "" {
		c.PageStore.SyncWrites = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PAGECACHE_TIMEOUT"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid PAGECACHE_TIMEOUT: %w", err)
		}
		c.PageStore.Timeout = duration
	}
	if val := os.Getenv("PAGECACHE_TIMEOUT_THREADS"); val != "" {
		threads, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid PAGECACHE_TIMEOUT_THREADS: %w", err)
		}
		c.PageStore.TimeoutThreads = threads
	}

	// Metrics settings
	if val := os.Getenv("PAGECACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	if val := os.Getenv("PAGECACHE_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	if err := c.PageStore.Validate(); err != nil {
		return err
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics port out of range: %d", c.Metrics.Port)
	}

	return nil
}

// Validate checks the page store section on its own.
func (p *PageStoreConfig) Validate() error {
	switch p.Type {
	case StoreLocal, StoreBadger:
		if p.Directory == "" {
			return fmt.Errorf("page_store.directory is required for %s store", p.Type)
		}
		if err := utils.ValidatePath(p.Directory, true); err != nil {
			return fmt.Errorf("page_store.directory: %w", err)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid page_store.type: %q (must be one of: %s)",
			p.Type, strings.Join([]string{StoreLocal, StoreBadger, StoreMemory}, ", "))
	}

	size, err := p.PageSizeBytes()
	if err != nil {
		return fmt.Errorf("invalid page_store.page_size: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("page_store.page_size must be greater than 0")
	}

	if p.Type == StoreLocal && p.FileBuckets <= 0 {
		return fmt.Errorf("page_store.file_buckets must be greater than 0")
	}

	switch p.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("invalid page_store.compression: %q", p.Compression)
	}

	if _, err := p.WriteRateLimitBytes(); err != nil {
		return fmt.Errorf("invalid page_store.write_rate_limit: %w", err)
	}

	if p.TimeoutEnabled() && p.TimeoutThreads < 1 {
		return fmt.Errorf("page_store.timeout_threads must be at least 1 when timeout is enabled")
	}

	if cb := p.CircuitBreaker; cb.Enabled && cb.FailureThreshold < 1 {
		return fmt.Errorf("page_store.circuit_breaker.failure_threshold must be at least 1")
	}

	return nil
}

// TimeoutEnabled reports whether store calls are wrapped in the time-bounded facade.
func (p *PageStoreConfig) TimeoutEnabled() bool {
	return p.Timeout > 0
}

// PageSizeBytes parses PageSize.
func (p *PageStoreConfig) PageSizeBytes() (int64, error) {
	return utils.ParseBytes(p.PageSize)
}

// WriteRateLimitBytes parses WriteRateLimit; zero means unlimited.
func (p *PageStoreConfig) WriteRateLimitBytes() (int64, error) {
	if strings.TrimSpace(p.WriteRateLimit) == "" {
		return 0, nil
	}
	return utils.ParseBytes(p.WriteRateLimit)
}
