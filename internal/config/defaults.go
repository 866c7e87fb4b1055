package config

import "time"

const (
	defaultSerializer   = "json"
	defaultExchangeName = "taskworker"
	defaultExchangeType = "topic"
	defaultMaxOverflow  = 10
)

// DefaultQueues mirrors the two task modules shipped with the worker
var DefaultQueues = []QueueConfig{
	{Name: "queue1", RoutingPattern: "worker.tasks.module1.tasks.#"},
	{Name: "queue2", RoutingPattern: "worker.tasks.module2.tasks.#"},
}

// ApplyDefaults fills every unset field
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "taskworker"
	}

	c.applyServerDefaults()
	c.applyBrokerDefaults()
	c.applyDatabaseDefaults()
	c.applyLoggingDefaults()

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.JobTimeout == 0 {
		c.Worker.JobTimeout = 5 * time.Minute
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 500
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
}

func (c *Config) applyServerDefaults() {
	s := &c.Server
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 15 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 15 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 60 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) applyBrokerDefaults() {
	b := &c.Broker
	if b.Serializer == "" {
		b.Serializer = defaultSerializer
	}
	if b.Exchange.Name == "" {
		b.Exchange.Name = defaultExchangeName
	}
	if b.Exchange.Type == "" {
		b.Exchange.Type = defaultExchangeType
	}
	if len(b.Queues) == 0 {
		b.Queues = append([]QueueConfig(nil), DefaultQueues...)
	}
	if b.Connection.RetryAttempts == 0 {
		b.Connection.RetryAttempts = 5
	}
	if b.Connection.RetryInterval == 0 {
		b.Connection.RetryInterval = 2 * time.Second
	}
	if b.Connection.Heartbeat == 0 {
		b.Connection.Heartbeat = 10 * time.Second
	}
	if b.Connection.ConnectionTimeout == 0 {
		b.Connection.ConnectionTimeout = 10 * time.Second
	}
	if b.Publish.RetryAttempts == 0 {
		b.Publish.RetryAttempts = 3
	}
	if b.Publish.RetryInterval == 0 {
		b.Publish.RetryInterval = 100 * time.Millisecond
	}
	if b.Publish.BackoffMultiplier == 0 {
		b.Publish.BackoffMultiplier = 2.0
	}
}

func (c *Config) applyDatabaseDefaults() {
	d := &c.Database
	if d.Driver == "" {
		d.Driver = "postgres"
	}
	if d.Port == 0 {
		switch d.Driver {
		case "postgres", "pgx":
			d.Port = 5432
		case "sqlserver":
			d.Port = 1433
		}
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
	if d.PoolSize == 0 {
		d.PoolSize = 5
	}
	if d.MaxOverflow == nil {
		overflow := defaultMaxOverflow
		d.MaxOverflow = &overflow
	}
	if d.PoolTimeout == 0 {
		d.PoolTimeout = 30 * time.Second
	}
	if d.ProbeTimeout == 0 {
		d.ProbeTimeout = 5 * time.Second
	}
}

func (c *Config) applyLoggingDefaults() {
	l := &c.Logging
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "console"
	}
	if l.Output == "" {
		l.Output = "stdout"
	}
	if l.Identifier == "" {
		l.Identifier = c.App.Name
	}
	if l.Dir == "" {
		l.Dir = "LOGS"
	}
	if l.MaxBytes == 0 {
		l.MaxBytes = 10 * 1024 * 1024
	}
	if l.BackupCount == 0 {
		l.BackupCount = 5
	}
}
