package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for
// LoadConfig and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `bookflow:
  name: "TestApp"
  version: "1.0"
channels:
  event_buffer: 16
  out_buffer: 4
feed:
  url: "wss://example.test/ws"
  symbol: "BTC"
  reconnect_base_delay: 1s
  reconnect_max_delay: 30s
scheduler:
  rebuild_interval: 50ms
storage:
  s3:
    enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Bookflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Bookflow.Name)
	}
	if cfg.Feed.Symbol != "BTC" {
		t.Errorf("unexpected symbol: %s", cfg.Feed.Symbol)
	}
	if cfg.Scheduler.RebuildInterval != 50*time.Millisecond {
		t.Errorf("unexpected rebuild interval: %s", cfg.Scheduler.RebuildInterval)
	}
	// Defaults kick in for fields the file omits.
	if cfg.Feed.DialTimeout != 10*time.Second {
		t.Errorf("unexpected dial timeout default: %s", cfg.Feed.DialTimeout)
	}
	if cfg.Feed.PingInterval != 20*time.Second {
		t.Errorf("unexpected ping interval default: %s", cfg.Feed.PingInterval)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/cfg.yml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Bookflow:  BookflowConfig{Name: "x", Version: "1"},
			Channels:  ChannelsConfig{EventBuffer: 1, OutBuffer: 1},
			Scheduler: SchedulerConfig{RebuildInterval: time.Millisecond},
			Feed: FeedConfig{
				ReconnectBaseDelay: time.Second,
				ReconnectMaxDelay:  30 * time.Second,
			},
		}
	}

	if err := validateConfig(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.Bookflow.Name = ""
	if err := validateConfig(cfg); err == nil {
		t.Error("missing name accepted")
	}

	cfg = base()
	cfg.Scheduler.RebuildInterval = 0
	if err := validateConfig(cfg); err == nil {
		t.Error("zero rebuild interval accepted")
	}

	cfg = base()
	cfg.Feed.ReconnectMaxDelay = time.Millisecond
	if err := validateConfig(cfg); err == nil {
		t.Error("max delay below base delay accepted")
	}

	cfg = base()
	cfg.Storage.S3.Enabled = true
	if err := validateConfig(cfg); err == nil {
		t.Error("S3 enabled without bucket accepted")
	}
}

func TestValidateConfigProductionRequiresFeed(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	cfg := &Config{
		Bookflow:  BookflowConfig{Name: "x", Version: "1"},
		Channels:  ChannelsConfig{EventBuffer: 1, OutBuffer: 1},
		Scheduler: SchedulerConfig{RebuildInterval: time.Millisecond},
		Feed: FeedConfig{
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  30 * time.Second,
		},
	}
	if err := validateConfig(cfg); err == nil {
		t.Error("missing feed url accepted in production")
	}

	cfg.Feed.URL = "wss://example.test/ws"
	cfg.Feed.Symbol = "BTC"
	if err := validateConfig(cfg); err != nil {
		t.Errorf("complete production config rejected: %v", err)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"my-bucket", true},
		{"ab", false},
		{"Bad_Bucket", false},
		{"double..dot", false},
		{".leading", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
