// Package config loads storefront configuration from an optional YAML file
// with environment-variable overrides. Environment wins over file, file
// wins over defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMSSQL  = "mssql"
)

type Config struct {
	StoreBackend string `yaml:"storeBackend"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MSSQLConn string `yaml:"mssqlConn"`

	KafkaBrokers string `yaml:"kafkaBrokers"`
	KafkaTopic   string `yaml:"kafkaTopic"`

	AuthBaseURL string `yaml:"authBaseUrl"`
	BlobBaseURL string `yaml:"blobBaseUrl"`

	ServicePort string `yaml:"servicePort"`
}

// Load reads the config file named by VAPORSHOP_CONFIG (when set) and
// applies environment overrides and defaults.
func Load() (*Config, error) {
	cfg := &Config{
		StoreBackend: BackendMemory,
		RedisAddr:    "localhost:6379",
		MSSQLConn:    "server=localhost;user id=sa;password=Your_strong_pwd1;database=vaporshop;encrypt=disable",
		KafkaTopic:   "storefront-events",
		ServicePort:  "8080",
	}

	if path := os.Getenv("VAPORSHOP_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg.StoreBackend, "STORE_BACKEND")
	applyEnv(&cfg.RedisAddr, "REDIS_ADDR")
	applyEnv(&cfg.RedisPassword, "REDIS_PASSWORD")
	applyEnv(&cfg.MSSQLConn, "MSSQL_CONN")
	applyEnv(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	applyEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	applyEnv(&cfg.AuthBaseURL, "AUTH_BASE_URL")
	applyEnv(&cfg.BlobBaseURL, "BLOB_BASE_URL")
	applyEnv(&cfg.ServicePort, "SERVICE_PORT")

	switch cfg.StoreBackend {
	case BackendMemory, BackendRedis, BackendMSSQL:
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// Brokers splits the comma-separated broker list. Empty when no brokers
// are configured.
func (c *Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	return strings.Split(c.KafkaBrokers, ",")
}

func applyEnv(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}
