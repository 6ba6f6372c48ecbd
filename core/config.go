package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the worker. It supports three-layer
// configuration priority:
//  1. Default values (lowest priority)
//  2. Optional YAML file pointed at by ORDERFLOW_CONFIG
//  3. Environment variables (highest priority)
type Config struct {
	Kafka    KafkaConfig    `yaml:"kafka"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Services ServicesConfig `yaml:"services"`
	Failure  FailureConfig  `yaml:"failure"`
	Lock     LockConfig     `yaml:"lock"`
	Trace    TraceConfig    `yaml:"trace"`
}

// KafkaConfig configures the bus consumer pool.
type KafkaConfig struct {
	BootstrapServers  []string      `yaml:"bootstrap_servers"` // BUS_BOOTSTRAP_SERVERS (comma-separated)
	Topic             string        `yaml:"topic"`             // TOPIC
	ConsumerGroup     string        `yaml:"consumer_group"`    // CONSUMER_GROUP
	Concurrency       int           `yaml:"concurrency"`       // CONSUMER_CONCURRENCY
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxPollInterval   time.Duration `yaml:"max_poll_interval"`
}

// StoreConfig configures the order document store.
type StoreConfig struct {
	URI        string `yaml:"uri"`      // STORE_URI
	Database   string `yaml:"database"` // STORE_DATABASE
	Collection string `yaml:"collection"`
}

// CacheConfig configures the Redis cache, lock, and ledger connection.
type CacheConfig struct {
	Host        string        `yaml:"host"` // CACHE_HOST
	Port        int           `yaml:"port"` // CACHE_PORT
	ProductTTL  time.Duration `yaml:"product_ttl"`  // CACHE_TTL_PRODUCT (seconds)
	CustomerTTL time.Duration `yaml:"customer_ttl"` // CACHE_TTL_CUSTOMER (seconds)
}

// Addr returns the host:port address for the Redis connection.
func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ServicesConfig holds the reference service base URLs.
type ServicesConfig struct {
	ProductAPIURL  string `yaml:"product_api_url"`  // PRODUCT_API_URL
	CustomerAPIURL string `yaml:"customer_api_url"` // CUSTOMER_API_URL
}

// FailureConfig configures the failure ledger.
type FailureConfig struct {
	MaxRetries int           `yaml:"max_retries"` // MAX_RETRIES
	TTL        time.Duration `yaml:"ttl"`         // FAILURE_TTL_HOURS (hours)
}

// LockConfig configures the distributed lock.
type LockConfig struct {
	TTL time.Duration `yaml:"ttl"` // LOCK_TTL_SECONDS (seconds)
}

// TraceConfig enables the stdout trace exporter.
type TraceConfig struct {
	Enabled bool `yaml:"enabled"` // TRACE_ENABLED
}

// DefaultConfig returns the worker defaults from the deployment contract.
func DefaultConfig() *Config {
	return &Config{
		Kafka: KafkaConfig{
			BootstrapServers:  []string{"localhost:9092"},
			Topic:             "orders",
			ConsumerGroup:     "order-processor-group",
			Concurrency:       3,
			SessionTimeout:    30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			MaxPollInterval:   300 * time.Second,
		},
		Store: StoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "orders",
			Collection: "orders",
		},
		Cache: CacheConfig{
			Host:        "localhost",
			Port:        6379,
			ProductTTL:  time.Hour,
			CustomerTTL: 30 * time.Minute,
		},
		Services: ServicesConfig{
			ProductAPIURL:  "http://localhost:8081",
			CustomerAPIURL: "http://localhost:8082",
		},
		Failure: FailureConfig{
			MaxRetries: 5,
			TTL:        24 * time.Hour,
		},
		Lock: LockConfig{
			TTL: 30 * time.Second,
		},
	}
}

// NewConfig builds a Config from defaults, the optional file layer, and the
// environment, then validates it.
func NewConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("ORDERFLOW_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvironment()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, ErrInvalidConfiguration)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %v: %w", path, err, ErrInvalidConfiguration)
	}
	return nil
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("BUS_BOOTSTRAP_SERVERS"); v != "" {
		c.Kafka.BootstrapServers = splitAndTrim(v)
	}
	if v := os.Getenv("TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("CONSUMER_GROUP"); v != "" {
		c.Kafka.ConsumerGroup = v
	}
	if v, ok := envInt("CONSUMER_CONCURRENCY"); ok {
		c.Kafka.Concurrency = v
	}
	if v := os.Getenv("STORE_URI"); v != "" {
		c.Store.URI = v
	}
	if v := os.Getenv("STORE_DATABASE"); v != "" {
		c.Store.Database = v
	}
	if v := os.Getenv("CACHE_HOST"); v != "" {
		c.Cache.Host = v
	}
	if v, ok := envInt("CACHE_PORT"); ok {
		c.Cache.Port = v
	}
	if v, ok := envInt("CACHE_TTL_PRODUCT"); ok {
		c.Cache.ProductTTL = time.Duration(v) * time.Second
	}
	if v, ok := envInt("CACHE_TTL_CUSTOMER"); ok {
		c.Cache.CustomerTTL = time.Duration(v) * time.Second
	}
	if v := os.Getenv("PRODUCT_API_URL"); v != "" {
		c.Services.ProductAPIURL = v
	}
	if v := os.Getenv("CUSTOMER_API_URL"); v != "" {
		c.Services.CustomerAPIURL = v
	}
	if v, ok := envInt("MAX_RETRIES"); ok {
		c.Failure.MaxRetries = v
	}
	if v, ok := envInt("FAILURE_TTL_HOURS"); ok {
		c.Failure.TTL = time.Duration(v) * time.Hour
	}
	if v, ok := envInt("LOCK_TTL_SECONDS"); ok {
		c.Lock.TTL = time.Duration(v) * time.Second
	}
	if v := os.Getenv("TRACE_ENABLED"); v != "" {
		c.Trace.Enabled = v == "true" || v == "1"
	}
}

// Validate checks configuration invariants before the worker starts.
func (c *Config) Validate() error {
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("no bootstrap servers: %w", ErrMissingConfiguration)
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("topic is required: %w", ErrMissingConfiguration)
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("consumer group is required: %w", ErrMissingConfiguration)
	}
	if c.Kafka.Concurrency < 1 {
		return fmt.Errorf("consumer concurrency must be at least 1: %w", ErrInvalidConfiguration)
	}
	if c.Store.URI == "" {
		return fmt.Errorf("store URI is required: %w", ErrMissingConfiguration)
	}
	if c.Services.ProductAPIURL == "" || c.Services.CustomerAPIURL == "" {
		return fmt.Errorf("reference service URLs are required: %w", ErrMissingConfiguration)
	}
	if c.Failure.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative: %w", ErrInvalidConfiguration)
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock TTL must be positive: %w", ErrInvalidConfiguration)
	}
	return nil
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
