// Package engine drives periodic scans and routes their results into the
// state store, the watch tracker and the notification dispatcher. It also
// runs kill requests and tears down tunnels at shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hellotrik/port-killer/internal/audit"
	"github.com/hellotrik/port-killer/internal/collectors"
	"github.com/hellotrik/port-killer/internal/health"
	"github.com/hellotrik/port-killer/internal/logging"
	"github.com/hellotrik/port-killer/internal/state"
	"github.com/hellotrik/port-killer/internal/terminator"
	"github.com/hellotrik/port-killer/internal/tunnel"
	"github.com/hellotrik/port-killer/internal/watch"
	"github.com/hellotrik/port-killer/internal/workerpool"
	"github.com/hellotrik/port-killer/pkg/models"
)

var log = logging.L("engine")

// ErrScanInProgress is returned by Scan when another scan is running.
var ErrScanInProgress = errors.New("scan already in progress")

const (
	defaultScanInterval    = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Dispatcher receives watch events. Dispatch must not block.
type Dispatcher interface {
	Dispatch(e watch.Event) bool
}

// Terminator signals processes.
type Terminator interface {
	Terminate(ctx context.Context, pid int32, mode terminator.Mode) error
	Escalate(ctx context.Context, pid int32, grace time.Duration) error
}

// Options wires an Engine. Source and Store are required; the rest may be
// nil.
type Options struct {
	Source     collectors.ListenerSource
	Store      *state.Store
	Dispatcher Dispatcher
	Terminator Terminator
	Tunnels    *tunnel.Manager
	Health     *health.Monitor
	Audit      *audit.Logger
	Pool       *workerpool.Pool

	ScanInterval    time.Duration
	ShutdownTimeout time.Duration
}

// Stats counts scan outcomes since start.
type Stats struct {
	Scans        uint64        `json:"scans"`
	Failures     uint64        `json:"failures"`
	Skipped      int64         `json:"skipped"`
	LastDuration time.Duration `json:"lastDurationNs"`
}

// Engine owns the scan loop.
type Engine struct {
	opts    Options
	tracker *watch.Tracker

	scanning     atomic.Bool
	scanSeq      atomic.Uint64
	failures     atomic.Uint64
	skipped      atomic.Int64
	lastDuration atomic.Int64

	requests chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	unsubscribe func()

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	loopDone  chan struct{}
}

// New creates an engine. Call Start to begin periodic scanning.
func New(opts Options) *Engine {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = defaultScanInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Terminator == nil {
		opts.Terminator = terminator.New(opts.Audit)
	}
	if opts.Tunnels == nil {
		opts.Tunnels = tunnel.NewManager(opts.Audit)
	}
	if opts.Health == nil {
		opts.Health = health.NewMonitor()
	}
	opts.Health.Register(health.ComponentScanner)

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:     opts,
		tracker:  watch.NewTracker(),
		requests: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	e.tracker.Sync(len(opts.Store.Load().Watched))
	// The watch state follows the watch list as it changes, not only at scans.
	e.unsubscribe = opts.Store.Subscribe(func(v *state.View) {
		e.tracker.Sync(len(v.Watched))
	})
	opts.Store.OnPrefsChange(e.prefsChanged)
	return e
}

// WatchState returns whether the engine is watching any port.
func (e *Engine) WatchState() watch.State { return e.tracker.State() }

func (e *Engine) prefsChanged(old, next models.Preferences) {
	log.Info("preferences changed", "favorites", len(next.Favorites), "watched", len(next.Watched), "treeView", next.TreeView)
	e.opts.Audit.Log(audit.EventPrefsChanged, "", map[string]any{
		"favorites":         next.Favorites,
		"watched":           next.Watched,
		"treeView":          next.TreeView,
		"previousFavorites": old.Favorites,
		"previousWatched":   old.Watched,
	})
}

// Store returns the state store the engine writes to.
func (e *Engine) Store() *state.Store { return e.opts.Store }

// Tunnels returns the tunnel registry.
func (e *Engine) Tunnels() *tunnel.Manager { return e.opts.Tunnels }

// Health returns the health monitor.
func (e *Engine) Health() *health.Monitor { return e.opts.Health }

// Start scans once immediately and then on every interval until Stop.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.started.Store(true)
		e.opts.Audit.Log(audit.EventEngineStart, "", map[string]any{
			"source":   e.opts.Source.Name(),
			"interval": e.opts.ScanInterval.String(),
		})
		log.Info("engine started", "source", e.opts.Source.Name(), "interval", e.opts.ScanInterval.String())
		go e.loop()
	})
}

func (e *Engine) loop() {
	defer close(e.loopDone)

	ticker := time.NewTicker(e.opts.ScanInterval)
	defer ticker.Stop()

	e.scanAsync()
	for {
		select {
		case <-ticker.C:
			e.scanAsync()
		case <-e.requests:
			e.scanAsync()
		case <-e.stopChan:
			return
		}
	}
}

// scanAsync runs a scan without blocking the ticker. A scan already in
// flight causes this one to be skipped.
func (e *Engine) scanAsync() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Scan(e.ctx); errors.Is(err, ErrScanInProgress) {
			log.Debug("scan skipped, previous scan still running")
		}
	}()
}

// RequestScan asks the loop for an out-of-band scan. Requests made while
// one is pending are coalesced.
func (e *Engine) RequestScan() {
	select {
	case e.requests <- struct{}{}:
	default:
	}
}

// Scan runs one scan cycle. At most one scan runs at a time; a concurrent
// call returns ErrScanInProgress without waiting.
func (e *Engine) Scan(ctx context.Context) error {
	if !e.scanning.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		return ErrScanInProgress
	}
	defer e.scanning.Store(false)

	id := e.scanSeq.Add(1)
	logger := logging.WithScan(log, id)
	start := time.Now()
	defer func() { e.lastDuration.Store(int64(time.Since(start))) }()

	records, err := e.opts.Source.Listeners(ctx)
	if err != nil {
		return e.fail(id, err)
	}

	res := collectors.ParseListeners(records)
	if res.Skipped > 0 {
		logger.Debug("skipped malformed listener records", "skipped", res.Skipped)
	}
	if res.Err != nil {
		return e.fail(id, res.Err)
	}

	prev, next := e.opts.Store.ApplyScan(res.Ports)
	// The first successful scan is the baseline for watch diffs.
	if prev.HasScanned() {
		for _, ev := range e.tracker.Observe(prev.Ports, next.Ports, next.Watched) {
			logger.Info("watched port changed", logging.KeyPort, ev.Port, "kind", string(ev.Kind))
			if e.opts.Dispatcher != nil {
				e.opts.Dispatcher.Dispatch(ev)
			}
		}
	} else {
		e.tracker.Sync(len(next.Watched))
	}

	e.opts.Health.Update(health.ComponentScanner, health.Healthy, fmt.Sprintf("%d listeners", len(next.Ports)))
	logger.Debug("scan complete", "listeners", len(next.Ports), logging.KeyDurationMs, time.Since(start).Milliseconds())
	return nil
}

func (e *Engine) fail(id uint64, err error) error {
	if !errors.Is(err, collectors.ErrScanFailed) {
		err = fmt.Errorf("%w: %w", collectors.ErrScanFailed, err)
	}
	e.failures.Add(1)
	e.opts.Store.MarkScanFailed(err)
	e.opts.Health.Update(health.ComponentScanner, health.Degraded, err.Error())
	logging.WithScan(log, id).Warn("scan failed, keeping last snapshot", logging.KeyError, err)
	return err
}

// KillPort signals the owner of info and schedules a rescan. The store is
// not touched; the next scan shows the outcome.
func (e *Engine) KillPort(ctx context.Context, info models.PortInfo, forceful bool) error {
	mode := terminator.Graceful
	if forceful {
		mode = terminator.Forceful
	}
	log.Info("kill requested", logging.KeyPort, info.Port, logging.KeyPID, info.PID, "name", info.ProcessName, "mode", mode.String())

	err := e.opts.Terminator.Terminate(ctx, info.PID, mode)
	e.RequestScan()
	return err
}

// KillPortEscalate sends a graceful signal and a forceful one after grace.
func (e *Engine) KillPortEscalate(ctx context.Context, info models.PortInfo, grace time.Duration) error {
	log.Info("kill with escalation requested", logging.KeyPort, info.Port, logging.KeyPID, info.PID, "grace", grace.String())
	err := e.opts.Terminator.Escalate(ctx, info.PID, grace)
	e.RequestScan()
	return err
}

// SubmitKill runs KillPort on the worker pool and reports the result to
// done. Without a pool the kill runs on a new goroutine.
func (e *Engine) SubmitKill(info models.PortInfo, forceful bool, done func(error)) error {
	run := func(ctx context.Context) {
		err := e.KillPort(ctx, info, forceful)
		if done != nil {
			done(err)
		}
	}
	if e.opts.Pool == nil {
		go run(e.ctx)
		return nil
	}
	return e.opts.Pool.Submit(run)
}

// Stats returns scan counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Scans:        e.scanSeq.Load(),
		Failures:     e.failures.Load(),
		Skipped:      e.skipped.Load(),
		LastDuration: time.Duration(e.lastDuration.Load()),
	}
}

// Stop ends the scan loop and waits for the loop goroutine to exit. Scans
// it already launched may still be running; Shutdown waits for those.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		if e.started.Load() {
			<-e.loopDone
		}
	})
}

// Shutdown stops scanning, drains pending kills and stops every tunnel.
// It returns when all tunnels are stopped or the shutdown timeout elapses,
// whichever is first.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop()

	ctx, cancel := context.WithTimeout(ctx, e.opts.ShutdownTimeout)
	defer cancel()

	if e.opts.Pool != nil {
		e.opts.Pool.Shutdown(ctx)
	}

	result := make(chan error, 1)
	go func() { result <- e.opts.Tunnels.StopAll(ctx) }()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = fmt.Errorf("%w: %w", tunnel.ErrStopFailed, ctx.Err())
		log.Warn("tunnel teardown exceeded shutdown timeout, proceeding", "timeout", e.opts.ShutdownTimeout.String())
	}

	if err != nil {
		e.opts.Health.Update(health.ComponentTunnels, health.Unhealthy, err.Error())
		log.Error("some tunnels failed to stop", logging.KeyError, err)
	}

	e.unsubscribe()
	e.cancel()
	e.waitScans(ctx)
	e.opts.Audit.Log(audit.EventEngineStop, "", map[string]any{"tunnelErrors": err != nil})
	log.Info("engine stopped")
	return err
}

func (e *Engine) waitScans(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
