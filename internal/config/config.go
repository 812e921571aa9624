package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration
type Config struct {
	Graph    GraphConfig    `yaml:"graph"`
	Postgres PostgresConfig `yaml:"postgres"`
	AI       AIConfig       `yaml:"ai"`
	API      APIConfig      `yaml:"api"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Backfill BackfillConfig `yaml:"backfill"`
}

// GraphConfig represents Neo4j database configuration
type GraphConfig struct {
	URI         string        `yaml:"uri"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	MaxPoolSize int           `yaml:"max_pool_size"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

// PostgresConfig represents the relational store configuration
type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// AIConfig represents AI provider credentials
type AIConfig struct {
	OpenAIAPIKey string `yaml:"openai_api_key"`
}

// APIConfig represents the HTTP server configuration
type APIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	EnableCORS     bool          `yaml:"enable_cors"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// KafkaConfig represents the pipeline event publisher configuration
type KafkaConfig struct {
	Enabled bool          `yaml:"enabled"`
	Brokers []string      `yaml:"brokers"`
	Topic   string        `yaml:"topic"`
	Timeout time.Duration `yaml:"timeout"`
}

// BackfillConfig represents the isolated-node backfill cycle configuration
type BackfillConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load loads configuration from the file named by CONFIG_PATH, falling back
// to config/config.yaml, and fills in defaults. Secrets set in the environment
// override file values.
func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg := &Config{}
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Graph.URI == "" {
		cfg.Graph.URI = "bolt://localhost:7687"
	}
	if cfg.Graph.Username == "" {
		cfg.Graph.Username = "neo4j"
	}
	if cfg.Graph.MaxPoolSize == 0 {
		cfg.Graph.MaxPoolSize = 50
	}
	if cfg.Graph.ConnTimeout == 0 {
		cfg.Graph.ConnTimeout = 30 * time.Second
	}

	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = "postgres://localhost:5432/cooperage?sslmode=disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 20
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}
	if cfg.Postgres.ConnLifetime == 0 {
		cfg.Postgres.ConnLifetime = 30 * time.Minute
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = 30 * time.Second
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = 60 * time.Second
	}
	if cfg.API.IdleTimeout == 0 {
		cfg.API.IdleTimeout = 120 * time.Second
	}
	if len(cfg.API.AllowedOrigins) == 0 {
		cfg.API.AllowedOrigins = []string{"*"}
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "cooperage-events"
	}
	if cfg.Kafka.Timeout == 0 {
		cfg.Kafka.Timeout = 10 * time.Second
	}

	if cfg.Backfill.Interval == 0 {
		cfg.Backfill.Interval = 7 * 24 * time.Hour
	}
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.AI.OpenAIAPIKey = key
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		cfg.Graph.Password = pass
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Postgres.DSN = dsn
	}
}
