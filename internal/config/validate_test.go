package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config should validate cleanly, got %v", errs)
	}
}

func TestValidateClampsScanInterval(t *testing.T) {
	cfg := Default()
	cfg.ScanInterval = 100 * time.Millisecond

	errs := cfg.Validate()
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if cfg.ScanInterval != time.Second {
		t.Fatalf("ScanInterval = %s, want 1s (clamped)", cfg.ScanInterval)
	}
}

func TestValidateClampsHighValues(t *testing.T) {
	cfg := Default()
	cfg.ShutdownTimeout = time.Hour
	cfg.KillWorkers = 500
	cfg.FeedMaxClients = 0

	cfg.Validate()

	if cfg.ShutdownTimeout != time.Minute {
		t.Fatalf("ShutdownTimeout = %s, want 1m", cfg.ShutdownTimeout)
	}
	if cfg.KillWorkers != 16 {
		t.Fatalf("KillWorkers = %d, want 16", cfg.KillWorkers)
	}
	if cfg.FeedMaxClients != 1 {
		t.Fatalf("FeedMaxClients = %d, want 1", cfg.FeedMaxClients)
	}
}

func TestValidateEnumFallbacks(t *testing.T) {
	cfg := Default()
	cfg.Source = "netstat"
	cfg.NotifyCommand = "growl"
	cfg.FeedAddr = "not-an-addr"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if cfg.Source != SourceAuto {
		t.Fatalf("Source = %q, want auto", cfg.Source)
	}
	if cfg.NotifyCommand != NotifyAuto {
		t.Fatalf("NotifyCommand = %q, want auto", cfg.NotifyCommand)
	}
	if cfg.FeedAddr != "" {
		t.Fatalf("FeedAddr = %q, want disabled", cfg.FeedAddr)
	}
}

func TestValidateNormalizesSourceCase(t *testing.T) {
	cfg := Default()
	cfg.Source = " LSOF "
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if cfg.Source != SourceLsof {
		t.Fatalf("Source = %q, want lsof", cfg.Source)
	}
}

func TestValidateLogSettings(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.LogFormat = "xml"

	errs := cfg.Validate()
	var sawLevel, sawFormat bool
	for _, err := range errs {
		if strings.Contains(err.Error(), "log_level") {
			sawLevel = true
		}
		if strings.Contains(err.Error(), "log_format") {
			sawFormat = true
		}
	}
	if !sawLevel || !sawFormat {
		t.Fatalf("expected log_level and log_format errors, got %v", errs)
	}
}

func TestLoadReadsYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "port-killer.yaml")
	content := "scan_interval: 2s\nsource: lsof\nfeed_addr: \"\"\nnotify_per_minute: 5\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ScanInterval != 2*time.Second {
		t.Fatalf("ScanInterval = %s, want 2s", cfg.ScanInterval)
	}
	if cfg.Source != SourceLsof {
		t.Fatalf("Source = %q, want lsof", cfg.Source)
	}
	if cfg.FeedAddr != "" {
		t.Fatalf("FeedAddr = %q, want empty", cfg.FeedAddr)
	}
	if cfg.NotifyPerMinute != 5 {
		t.Fatalf("NotifyPerMinute = %d, want 5", cfg.NotifyPerMinute)
	}
	if cfg.ScanTimeout != Default().ScanTimeout {
		t.Fatalf("ScanTimeout = %s, want default", cfg.ScanTimeout)
	}
}

func TestSaveToThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "port-killer.yaml")
	cfg := Default()
	cfg.ScanInterval = 15 * time.Second
	cfg.Source = SourceGopsutil

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ScanInterval != 15*time.Second || loaded.Source != SourceGopsutil {
		t.Fatalf("loaded = %+v", loaded)
	}
}
