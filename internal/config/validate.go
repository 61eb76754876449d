package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Scan sources.
const (
	SourceAuto     = "auto"
	SourceGopsutil = "gopsutil"
	SourceLsof     = "lsof"
)

// Notification back ends.
const (
	NotifyAuto = "auto"
	NotifyLog  = "log"
	NotifyNone = "none"
)

var validSources = map[string]bool{
	SourceAuto:     true,
	SourceGopsutil: true,
	SourceLsof:     true,
}

var validNotifiers = map[string]bool{
	NotifyAuto: true,
	NotifyLog:  true,
	NotifyNone: true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Out-of-range numbers are clamped to safe values so the engine can still
// start; unknown enum values fall back to their defaults.
func (c *Config) Validate() []error {
	var errs []error

	c.ScanInterval, errs = clampDuration("scan_interval", c.ScanInterval, time.Second, 10*time.Minute, errs)
	c.ScanTimeout, errs = clampDuration("scan_timeout", c.ScanTimeout, time.Second, 2*time.Minute, errs)
	c.ShutdownTimeout, errs = clampDuration("shutdown_timeout", c.ShutdownTimeout, time.Second, time.Minute, errs)

	c.NotifyPerMinute, errs = clampInt("notify_per_minute", c.NotifyPerMinute, 1, 600, errs)
	c.FeedMaxClients, errs = clampInt("feed_max_clients", c.FeedMaxClients, 1, 64, errs)
	c.KillWorkers, errs = clampInt("kill_workers", c.KillWorkers, 1, 16, errs)
	c.KillQueueSize, errs = clampInt("kill_queue_size", c.KillQueueSize, 1, 1024, errs)

	source := strings.ToLower(strings.TrimSpace(c.Source))
	if !validSources[source] {
		errs = append(errs, fmt.Errorf("source %q is not valid (use auto, gopsutil, lsof), using auto", c.Source))
		source = SourceAuto
	}
	c.Source = source

	notify := strings.ToLower(strings.TrimSpace(c.NotifyCommand))
	if !validNotifiers[notify] {
		errs = append(errs, fmt.Errorf("notify_command %q is not valid (use auto, log, none), using auto", c.NotifyCommand))
		notify = NotifyAuto
	}
	c.NotifyCommand = notify

	if c.FeedAddr != "" {
		if _, _, err := net.SplitHostPort(c.FeedAddr); err != nil {
			errs = append(errs, fmt.Errorf("feed_addr %q is not host:port, disabling feed: %w", c.FeedAddr, err))
			c.FeedAddr = ""
		}
	}

	if strings.TrimSpace(c.LsofPath) == "" {
		c.LsofPath = "lsof"
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	// Log validation errors as warnings
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}

func clampDuration(key string, v, lo, hi time.Duration, errs []error) (time.Duration, []error) {
	if v < lo {
		return lo, append(errs, fmt.Errorf("%s %s is below minimum %s, clamping", key, v, lo))
	}
	if v > hi {
		return hi, append(errs, fmt.Errorf("%s %s exceeds maximum %s, clamping", key, v, hi))
	}
	return v, errs
}

func clampInt(key string, v, lo, hi int, errs []error) (int, []error) {
	if v < lo {
		return lo, append(errs, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
	}
	if v > hi {
		return hi, append(errs, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
	}
	return v, errs
}
