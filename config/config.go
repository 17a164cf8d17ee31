package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Skinflow SkinflowConfig `yaml:"skinflow"`
	Run      RunConfig      `yaml:"run"`
	Reader   ReaderConfig   `yaml:"reader"`
	Sources  []SourceConfig `yaml:"sources"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type SkinflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// RunConfig bounds a single pipeline run. Deadline must exceed every
// source's write timeout.
type RunConfig struct {
	Deadline    time.Duration `yaml:"deadline"`
	Concurrency int           `yaml:"concurrency"`
}

type ReaderConfig struct {
	UserAgent string          `yaml:"user_agent"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// SourceConfig describes one marketplace feed and how its listing is
// written to the store.
type SourceConfig struct {
	Name         string        `yaml:"name"`
	URL          string        `yaml:"url"`
	Enabled      *bool         `yaml:"enabled,omitempty"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	BatchSize    int           `yaml:"batch_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DBChunkSize  int           `yaml:"db_chunk_size"`
	Pace         time.Duration `yaml:"pace"`
}

// IsEnabled treats a missing enabled flag as true.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type StorageConfig struct {
	MySQL MySQLConfig `yaml:"mysql"`
	S3    S3Config    `yaml:"s3"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	Table           string        `yaml:"table"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Compression     string `yaml:"compression"`
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	RunHistory int    `yaml:"run_history"`
	LogHistory int    `yaml:"log_history"`
}

type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns a configuration populated with the built-in source
// registry and conservative run limits.
func Default() *Config {
	return &Config{
		Skinflow: SkinflowConfig{Name: "skinflow", Version: "dev"},
		Run: RunConfig{
			Deadline:    4 * time.Minute,
			Concurrency: 1,
		},
		Reader: ReaderConfig{
			UserAgent: "skinflow/1.0",
			RateLimit: RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1},
		},
		Storage: StorageConfig{
			MySQL: MySQLConfig{
				Table:           "market_prices",
				MaxIdleConns:    10,
				MaxOpenConns:    20,
				ConnMaxLifetime: time.Hour,
			},
			S3: S3Config{Prefix: "prices", Compression: "snappy"},
		},
		Server:   ServerConfig{Enabled: true, Address: ":8080", RunHistory: 20, LogHistory: 200},
		Schedule: ScheduleConfig{Cron: "*/30 * * * *"},
		Metrics:  MetricsConfig{CloudWatch: CloudWatchConfig{Namespace: "Skinflow"}},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.applySourceDefaults()
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.Storage.MySQL.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("SKINFLOW_ADDRESS"); v != "" {
		c.Server.Address = strings.TrimSpace(v)
	}

	if c.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			c.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			c.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			c.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			c.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

// applySourceDefaults falls back to the built-in registry when no sources
// are configured and fills zero tuning values of configured ones.
func (c *Config) applySourceDefaults() {
	if len(c.Sources) == 0 {
		c.Sources = DefaultSources()
		return
	}
	for i := range c.Sources {
		c.Sources[i] = withSourceDefaults(c.Sources[i])
	}
}

// EnabledSources returns the registry in configured order without the
// disabled entries.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Skinflow.Name == "" {
		return fmt.Errorf("skinflow.name is required")
	}

	if cfg.Run.Deadline <= 0 {
		return fmt.Errorf("run.deadline must be greater than 0")
	}
	if cfg.Run.Concurrency <= 0 {
		return fmt.Errorf("run.concurrency must be greater than 0")
	}

	seen := make(map[string]struct{}, len(cfg.Sources))
	for i, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.URL == "" {
			return fmt.Errorf("sources[%d].url is required", i)
		}
		if s.BatchSize <= 0 {
			return fmt.Errorf("sources[%d].batch_size must be greater than 0", i)
		}
		if s.DBChunkSize <= 0 {
			return fmt.Errorf("sources[%d].db_chunk_size must be greater than 0", i)
		}
		if s.IsEnabled() && s.WriteTimeout >= cfg.Run.Deadline {
			return fmt.Errorf("sources[%d].write_timeout (%s) must be shorter than run.deadline (%s)", i, s.WriteTimeout, cfg.Run.Deadline)
		}
	}

	if cfg.Storage.MySQL.DSN == "" {
		return fmt.Errorf("storage.mysql.dsn is required")
	}

	if cfg.Schedule.Enabled && strings.TrimSpace(cfg.Schedule.Cron) == "" {
		return fmt.Errorf("schedule.cron is required when the schedule is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
