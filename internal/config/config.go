// Package config loads process configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "ANNOTATIONS_CONFIG"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port                 string        `yaml:"port"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	SlowRequestThreshold time.Duration `yaml:"slow_request_threshold"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MigrationsPath string `yaml:"migrations_path"`
}

// CacheConfig selects the active-record cache. An empty RedisAddr means
// a process-local cache.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	InputTopic  string   `yaml:"input_topic"`
	OutputTopic string   `yaml:"output_topic"`
	GroupID     string   `yaml:"group_id"`
	Workers     int      `yaml:"workers"`
}

// LogConfig sets the log level and the warning/error sample rate,
// where a rate of N emits one message in N.
type LogConfig struct {
	Level           string `yaml:"level"`
	ErrorSampleRate int    `yaml:"error_sample_rate"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                 "8080",
			ReadTimeout:          15 * time.Second,
			WriteTimeout:         15 * time.Second,
			IdleTimeout:          60 * time.Second,
			ShutdownTimeout:      30 * time.Second,
			SlowRequestThreshold: 500 * time.Millisecond,
		},
		Database: DatabaseConfig{
			MigrationsPath: "file://migrations",
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			InputTopic:  "events",
			OutputTopic: "events.annotated",
			GroupID:     "annotations-worker",
			Workers:     4,
		},
		Log: LogConfig{
			Level:           "INFO",
			ErrorSampleRate: 100,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FromEnv loads the file named by ANNOTATIONS_CONFIG, if any.
func FromEnv() (*Config, error) {
	return Load(os.Getenv(EnvConfigPath))
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("DATABASE_URL"); ok {
		c.Database.URL = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Server.Port = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Cache.RedisAddr = v
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl cannot be negative"))
	}
	if c.Kafka.Workers < 1 {
		errs = append(errs, fmt.Errorf("kafka.workers must be at least 1, got %d", c.Kafka.Workers))
	}
	if c.Log.ErrorSampleRate < 1 {
		errs = append(errs, fmt.Errorf("log.error_sample_rate must be at least 1, got %d", c.Log.ErrorSampleRate))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
