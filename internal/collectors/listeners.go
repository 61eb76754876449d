package collectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hellotrik/port-killer/internal/logging"
)

var log = logging.L("collectors")

// ErrScanFailed marks a scan that produced no trustworthy result: the OS
// query failed, timed out, or returned nothing usable.
var ErrScanFailed = errors.New("scan failed")

const defaultScanTimeout = 10 * time.Second

// ListenerRecord is one raw listening socket as reported by the OS tool,
// before any normalization. Fields are kept textual; ParseListeners owns
// the interpretation.
type ListenerRecord struct {
	PID         string `json:"pid"`
	ProcessName string `json:"processName"`
	Command     string `json:"command"`
	User        string `json:"user"`
	FD          string `json:"fd"`
	Endpoint    string `json:"endpoint"` // e.g. "*:3000", "[::1]:8080"
}

// ListenerSource enumerates listening sockets. Every call is independent and
// bounded by the source's timeout.
type ListenerSource interface {
	Name() string
	Listeners(ctx context.Context) ([]ListenerRecord, error)
}

// NewSource returns the source selected by kind ("auto", "gopsutil", "lsof").
func NewSource(kind, lsofPath string, timeout time.Duration) ListenerSource {
	switch kind {
	case "gopsutil":
		return NewGopsutilSource(timeout)
	case "lsof":
		return NewLsofSource(lsofPath, timeout)
	default:
		return NewAutoSource(NewGopsutilSource(timeout), NewLsofSource(lsofPath, timeout))
	}
}

// AutoSource tries the primary source and falls back to the secondary when
// the primary fails or sees nothing.
type AutoSource struct {
	primary   ListenerSource
	secondary ListenerSource
}

// NewAutoSource creates a fallback chain of two sources.
func NewAutoSource(primary, secondary ListenerSource) *AutoSource {
	return &AutoSource{primary: primary, secondary: secondary}
}

func (a *AutoSource) Name() string { return "auto" }

func (a *AutoSource) Listeners(ctx context.Context) ([]ListenerRecord, error) {
	records, err := a.primary.Listeners(ctx)
	if err == nil && len(records) > 0 {
		return records, nil
	}
	if err != nil {
		log.Debug("primary listener source failed, falling back",
			"primary", a.primary.Name(), "secondary", a.secondary.Name(), logging.KeyError, err)
	}

	fallback, fallbackErr := a.secondary.Listeners(ctx)
	if fallbackErr == nil {
		return fallback, nil
	}
	if err == nil {
		// Primary legitimately saw no listeners.
		return records, nil
	}
	return nil, errors.Join(err, fallbackErr)
}

// collectWithTimeout runs collect under a deadline and abandons it if the
// deadline passes first. Failures are wrapped in ErrScanFailed.
func collectWithTimeout[T any](parent context.Context, timeout time.Duration, collect func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = defaultScanTimeout
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	out := make(chan result, 1)
	go func() {
		value, err := collect(ctx)
		out <- result{value: value, err: err}
	}()

	select {
	case res := <-out:
		if res.err != nil {
			var zero T
			return zero, fmt.Errorf("%w: %w", ErrScanFailed, res.err)
		}
		return res.value, nil
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: timed out after %s", ErrScanFailed, timeout)
		}
		return zero, fmt.Errorf("%w: cancelled: %w", ErrScanFailed, ctx.Err())
	}
}
