package main

import (
	"fmt"
	"strconv"

	"github.com/hellotrik/port-killer/internal/audit"
	"github.com/hellotrik/port-killer/internal/collectors"
	"github.com/hellotrik/port-killer/internal/config"
	"github.com/hellotrik/port-killer/internal/engine"
	"github.com/hellotrik/port-killer/internal/health"
	"github.com/hellotrik/port-killer/internal/logging"
	"github.com/hellotrik/port-killer/internal/notify"
	"github.com/hellotrik/port-killer/internal/prefs"
	"github.com/hellotrik/port-killer/internal/state"
	"github.com/hellotrik/port-killer/internal/workerpool"
)

// app holds the components shared by every command.
type app struct {
	cfg        *config.Config
	prefs      *prefs.File
	store      *state.Store
	audit      *audit.Logger
	health     *health.Monitor
	pool       *workerpool.Pool
	dispatcher *notify.Dispatcher
	engine     *engine.Engine
}

type appOptions struct {
	// daemon enables the kill worker pool and the notification dispatcher.
	daemon bool
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, prefs: prefs.NewFile(cfg.PrefsFile), health: health.NewMonitor()}

	p, err := a.prefs.Load()
	if err != nil {
		return nil, err
	}
	a.store = state.New(p, a.prefs)

	// Auditing is best effort; a read-only data dir must not block kills.
	a.audit, err = audit.NewLogger(cfg.AuditFile, 0, 0)
	if err != nil {
		log.Warn("audit log unavailable", logging.KeyError, err)
		a.audit = nil
	}

	engOpts := engine.Options{
		Source:          collectors.NewSource(cfg.Source, cfg.LsofPath, cfg.ScanTimeout),
		Store:           a.store,
		Health:          a.health,
		Audit:           a.audit,
		ScanInterval:    cfg.ScanInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if opts.daemon {
		a.pool = workerpool.New(cfg.KillWorkers, cfg.KillQueueSize)
		a.dispatcher = notify.NewDispatcher(
			notify.Options{PerMinute: cfg.NotifyPerMinute},
			notify.FromConfig(cfg.NotifyCommand)...,
		)
		engOpts.Pool = a.pool
		engOpts.Dispatcher = a.dispatcher
	}
	a.engine = engine.New(engOpts)
	return a, nil
}

func (a *app) close() {
	if err := a.audit.Close(); err != nil {
		log.Warn("failed to close audit log", logging.KeyError, err)
	}
}

func parsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", arg)
	}
	return port, nil
}
