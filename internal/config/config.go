// Package config loads the demo binary's configuration from a YAML file or
// from environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the taskpool demo.
type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	DLQ       DLQConfig       `yaml:"dlq"`
	Demo      DemoConfig      `yaml:"demo"`
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DashboardConfig holds ops server configuration.
type DashboardConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Port              int    `yaml:"port"`
	JWTSecret         string `yaml:"jwt_secret"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// DLQConfig holds dead letter queue configuration.
type DLQConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Backend   string        `yaml:"backend"` // memory, redis, postgres
	RedisURL  string        `yaml:"redis_url"`
	DBURL     string        `yaml:"db_url"`
	MaxSize   int           `yaml:"max_size"`
	Retention time.Duration `yaml:"retention"`
}

// DemoConfig holds demonstration workload configuration.
type DemoConfig struct {
	Tasks     int           `yaml:"tasks"`
	TaskDelay time.Duration `yaml:"task_delay"`
}

// Load loads configuration from a YAML file, expanding ${ENV} references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	return &Config{
		Pool: PoolConfig{
			Workers:         getEnvInt("POOL_WORKERS", 4),
			QueueSize:       getEnvInt("POOL_QUEUE_SIZE", 0),
			ShutdownTimeout: getEnvDuration("POOL_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Dashboard: DashboardConfig{
			Enabled:           getEnvBool("DASHBOARD_ENABLED", false),
			Port:              getEnvInt("DASHBOARD_PORT", 9090),
			JWTSecret:         getEnv("DASHBOARD_JWT_SECRET", ""),
			AdminPasswordHash: getEnv("DASHBOARD_ADMIN_PASSWORD_HASH", ""),
		},
		DLQ: DLQConfig{
			Enabled:   getEnvBool("DLQ_ENABLED", false),
			Backend:   getEnv("DLQ_BACKEND", "memory"),
			RedisURL:  getEnv("DLQ_REDIS_URL", "redis://localhost:6379"),
			DBURL:     getEnv("DLQ_DATABASE_URL", ""),
			MaxSize:   getEnvInt("DLQ_MAX_SIZE", 1000),
			Retention: getEnvDuration("DLQ_RETENTION", 24*time.Hour),
		},
		Demo: DemoConfig{
			Tasks:     getEnvInt("DEMO_TASKS", 100),
			TaskDelay: getEnvDuration("DEMO_TASK_DELAY", 5*time.Millisecond),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
