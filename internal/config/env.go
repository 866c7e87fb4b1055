package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays TASKWORKER_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TASKWORKER_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("TASKWORKER_RESULT_BACKEND"); v != "" {
		cfg.Broker.ResultBackend = v
	}
	if v := os.Getenv("TASKWORKER_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TASKWORKER_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("TASKWORKER_DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("TASKWORKER_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("TASKWORKER_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("TASKWORKER_DATABASES"); v != "" {
		cfg.Database.Databases = splitList(v)
	}
	if v := os.Getenv("TASKWORKER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TASKWORKER_LOG_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Debug = b
		}
	}
	if v := os.Getenv("TASKWORKER_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("TASKWORKER_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("TASKWORKER_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = n
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
