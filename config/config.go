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
	Bookflow  BookflowConfig  `yaml:"bookflow"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Feed      FeedConfig      `yaml:"feed"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Export    ExportConfig    `yaml:"export"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type BookflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	EventBuffer int `yaml:"event_buffer"`
	OutBuffer   int `yaml:"out_buffer"`
}

type FeedConfig struct {
	URL                string        `yaml:"url"`
	Symbol             string        `yaml:"symbol"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	DialsPerMinute     int           `yaml:"dials_per_minute"`
}

type SchedulerConfig struct {
	RebuildInterval time.Duration `yaml:"rebuild_interval"`
}

type ExportConfig struct {
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

type MetricsConfig struct {
	ChannelSize bool          `yaml:"channel_size"`
	ReportEvery time.Duration `yaml:"report_every"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Feed: FeedConfig{
			DialTimeout:        10 * time.Second,
			PingInterval:       20 * time.Second,
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			RebuildInterval: 100 * time.Millisecond,
		},
		Channels: ChannelsConfig{
			EventBuffer: 1024,
			OutBuffer:   64,
		},
		Metrics: MetricsConfig{
			ChannelSize: true,
			ReportEvery: 30 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bookflow.Name == "" {
		return fmt.Errorf("bookflow.name is required")
	}

	if cfg.Bookflow.Version == "" {
		return fmt.Errorf("bookflow.version is required")
	}

	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}
	if cfg.Channels.OutBuffer <= 0 {
		return fmt.Errorf("channels.out_buffer must be greater than 0")
	}

	if cfg.Scheduler.RebuildInterval <= 0 {
		return fmt.Errorf("scheduler.rebuild_interval must be greater than 0")
	}

	if cfg.Feed.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("feed.reconnect_base_delay must be greater than 0")
	}
	if cfg.Feed.ReconnectMaxDelay < cfg.Feed.ReconnectBaseDelay {
		return fmt.Errorf("feed.reconnect_max_delay must not be below feed.reconnect_base_delay")
	}

	// Development tolerates a missing feed endpoint (offline loads still
	// work); production-like deployments do not.
	if IsProductionLike(getAppEnvironment()) {
		if cfg.Feed.URL == "" {
			return fmt.Errorf("feed.url is required")
		}
		if cfg.Feed.Symbol == "" {
			return fmt.Errorf("feed.symbol is required")
		}
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
