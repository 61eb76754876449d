package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Scanning
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	ScanTimeout  time.Duration `mapstructure:"scan_timeout"`
	Source       string        `mapstructure:"source"`
	LsofPath     string        `mapstructure:"lsof_path"`

	// Notifications
	NotifyCommand   string `mapstructure:"notify_command"`
	NotifyPerMinute int    `mapstructure:"notify_per_minute"`

	// Event feed
	FeedAddr       string `mapstructure:"feed_addr"`
	FeedMaxClients int    `mapstructure:"feed_max_clients"`

	// Lifecycle
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	KillWorkers     int           `mapstructure:"kill_workers"`
	KillQueueSize   int           `mapstructure:"kill_queue_size"`

	// Persistence
	PrefsFile string `mapstructure:"prefs_file"`
	AuditFile string `mapstructure:"audit_file"`

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		ScanInterval:    5 * time.Second,
		ScanTimeout:     10 * time.Second,
		Source:          SourceAuto,
		LsofPath:        "lsof",
		NotifyCommand:   NotifyAuto,
		NotifyPerMinute: 30,
		FeedAddr:        "127.0.0.1:7071",
		FeedMaxClients:  8,
		ShutdownTimeout: 5 * time.Second,
		KillWorkers:     2,
		KillQueueSize:   32,
		PrefsFile:       filepath.Join(ConfigDir(), "preferences.yaml"),
		AuditFile:       filepath.Join(DataDir(), "audit.jsonl"),
		LogLevel:        "info",
		LogFormat:       "text",
		LogMaxSizeMB:    10,
		LogMaxBackups:   3,
	}
}

// Load reads cfgFile (or port-killer.yaml from the config dir / cwd) over the
// defaults. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("port-killer")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PORTKILLER")
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveTo writes cfg as YAML. An empty path writes to the default config dir.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	bindDefaults(v, cfg)
	// Durations are written in their string form so the file stays editable.
	v.Set("scan_interval", cfg.ScanInterval.String())
	v.Set("scan_timeout", cfg.ScanTimeout.String())
	v.Set("shutdown_timeout", cfg.ShutdownTimeout.String())

	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = filepath.Join(ConfigDir(), "port-killer.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0700); err != nil {
		return err
	}

	return v.WriteConfigAs(cfgPath)
}

// bindDefaults registers every key so AutomaticEnv can override values that
// are absent from the config file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("scan_interval", cfg.ScanInterval)
	v.SetDefault("scan_timeout", cfg.ScanTimeout)
	v.SetDefault("source", cfg.Source)
	v.SetDefault("lsof_path", cfg.LsofPath)
	v.SetDefault("notify_command", cfg.NotifyCommand)
	v.SetDefault("notify_per_minute", cfg.NotifyPerMinute)
	v.SetDefault("feed_addr", cfg.FeedAddr)
	v.SetDefault("feed_max_clients", cfg.FeedMaxClients)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("kill_workers", cfg.KillWorkers)
	v.SetDefault("kill_queue_size", cfg.KillQueueSize)
	v.SetDefault("prefs_file", cfg.PrefsFile)
	v.SetDefault("audit_file", cfg.AuditFile)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "port-killer")
	}
	return filepath.Join(os.TempDir(), "port-killer")
}

// DataDir returns the per-user directory for audit and state files.
func DataDir() string {
	switch runtime.GOOS {
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "PortKiller")
		}
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, "PortKiller")
		}
	default:
		if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
			return filepath.Join(dir, "port-killer")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "state", "port-killer")
		}
	}
	return filepath.Join(os.TempDir(), "port-killer")
}
