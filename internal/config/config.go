package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Broker   BrokerConfig   `yaml:"broker"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Worker   WorkerConfig   `yaml:"worker"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BrokerConfig holds the broker, result backend and routing configuration
type BrokerConfig struct {
	URL           string           `yaml:"url"`
	ResultBackend string           `yaml:"result_backend"`
	Serializer    string           `yaml:"serializer"`
	Exchange      ExchangeConfig   `yaml:"exchange"`
	Queues        []QueueConfig    `yaml:"queues"`
	Connection    ConnectionConfig `yaml:"connection"`
	Publish       PublishConfig    `yaml:"publish"`
	Consumer      ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig is one allowed queue and its routing pattern
type QueueConfig struct {
	Name           string `yaml:"name"`
	RoutingPattern string `yaml:"routing_pattern"`
}

// ConnectionConfig holds broker connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds consumer settings
type ConsumerConfig struct {
	PrefetchCount int    `yaml:"prefetch_count"`
	Tag           string `yaml:"tag"`
}

// DatabaseConfig holds the shared credentials and the database ids the
// session manager connects to
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Databases       []string      `yaml:"databases"`
	SSLMode         string        `yaml:"sslmode"`
	PoolSize        int           `yaml:"pool_size"`
	MaxOverflow     *int          `yaml:"max_overflow"`
	PoolTimeout     time.Duration `yaml:"pool_timeout"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
}

// Overflow returns max_overflow, or the default when it is not set
func (d DatabaseConfig) Overflow() int {
	if d.MaxOverflow == nil {
		return defaultMaxOverflow
	}
	return *d.MaxOverflow
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	Debug        bool   `yaml:"debug"`
	Identifier   string `yaml:"identifier"`
	Dir          string `yaml:"dir"`
	MaxBytes     int64  `yaml:"max_bytes"`
	BackupCount  int    `yaml:"backup_count"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	BatchSize       int           `yaml:"batch_size"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file, overlays TASKWORKER_*
// environment variables and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	FromEnv(&config)
	config.ApplyDefaults()

	return &config, nil
}

// QueueNames returns the allowed queue names in configuration order
func (c *Config) QueueNames() []string {
	names := make([]string, 0, len(c.Broker.Queues))
	for _, q := range c.Broker.Queues {
		names = append(names, q.Name)
	}
	return names
}

// Validate checks the settings shared by every service
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker url is required")
	}

	if c.Broker.ResultBackend == "" {
		return fmt.Errorf("broker result_backend is required")
	}

	if s := strings.ToLower(c.Broker.Serializer); s != "" && s != "json" {
		return fmt.Errorf("unsupported serializer: %q (only json is accepted)", c.Broker.Serializer)
	}

	if len(c.Broker.Queues) == 0 {
		return fmt.Errorf("at least one broker queue is required")
	}

	seen := make(map[string]struct{}, len(c.Broker.Queues))
	for _, q := range c.Broker.Queues {
		if q.Name == "" {
			return fmt.Errorf("broker queue name is required")
		}
		if _, dup := seen[q.Name]; dup {
			return fmt.Errorf("duplicate broker queue: %s", q.Name)
		}
		seen[q.Name] = struct{}{}
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	switch c.Logging.Output {
	case "", "stdout", "stderr", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %q", c.Logging.Output)
	}

	return nil
}

// ValidateAPIConfig checks the producer API settings
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return nil
}

// ValidateWorkerConfig checks the worker and session manager settings
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < MinPort || c.Metrics.Port > MaxPort) {
		return fmt.Errorf("invalid metrics port: %d (must be between %d and %d)", c.Metrics.Port, MinPort, MaxPort)
	}

	return c.validateDatabase()
}

func (c *Config) validateDatabase() error {
	db := c.Database
	if len(db.Databases) == 0 {
		// the worker runs without database tasks
		return nil
	}

	switch db.Driver {
	case "postgres", "pgx", "sqlserver":
		if db.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if db.Port < MinPort || db.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", db.Port, MinPort, MaxPort)
		}
	case "sqlite":
		if db.Host == "" {
			return fmt.Errorf("database host is required (directory for sqlite files)")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", db.Driver)
	}

	for _, id := range db.Databases {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if db.PoolSize <= 0 {
		return fmt.Errorf("database pool_size must be greater than 0")
	}

	if db.Overflow() < 0 {
		return fmt.Errorf("database max_overflow must not be negative")
	}

	return nil
}
