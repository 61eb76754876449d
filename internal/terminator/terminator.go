// Package terminator signals processes that own listening ports. It never
// touches scan state; the next scan shows whether a kill took effect.
package terminator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/hellotrik/port-killer/internal/audit"
	"github.com/hellotrik/port-killer/internal/logging"
)

var log = logging.L("terminator")

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoSuchProcess    = errors.New("no such process")
	ErrInvalidPID       = errors.New("invalid pid")
)

const defaultPollInterval = 100 * time.Millisecond

// Mode selects the signal sent to the target.
type Mode int

const (
	// Graceful sends SIGTERM (or the platform equivalent) and returns
	// without waiting for the process to exit.
	Graceful Mode = iota
	// Forceful sends SIGKILL.
	Forceful
)

func (m Mode) String() string {
	if m == Forceful {
		return "forceful"
	}
	return "graceful"
}

// target is the subset of *process.Process the terminator drives.
type target interface {
	NameWithContext(ctx context.Context) (string, error)
	TerminateWithContext(ctx context.Context) error
	KillWithContext(ctx context.Context) error
	IsRunningWithContext(ctx context.Context) (bool, error)
}

// Terminator sends termination signals and records each request in the
// audit log.
type Terminator struct {
	audit        *audit.Logger
	lookup       func(ctx context.Context, pid int32) (target, error)
	pollInterval time.Duration
}

// New creates a Terminator. auditLog may be nil.
func New(auditLog *audit.Logger) *Terminator {
	return &Terminator{
		audit:        auditLog,
		lookup:       lookupProcess,
		pollInterval: defaultPollInterval,
	}
}

func lookupProcess(ctx context.Context, pid int32) (target, error) {
	return process.NewProcessWithContext(ctx, pid)
}

// Terminate signals pid according to mode. It fails with ErrInvalidPID,
// ErrNoSuchProcess or ErrPermissionDenied; other failures are wrapped as-is.
func (t *Terminator) Terminate(ctx context.Context, pid int32, mode Mode) error {
	start := time.Now()
	subject := "pid:" + strconv.FormatInt(int64(pid), 10)
	t.audit.Log(audit.EventKillRequested, subject, map[string]any{"mode": mode.String()})

	name, err := t.signal(ctx, pid, mode)

	details := map[string]any{
		"mode":       mode.String(),
		"ok":         err == nil,
		"durationMs": time.Since(start).Milliseconds(),
	}
	if name != "" {
		details["name"] = name
	}
	if err != nil {
		details["error"] = err.Error()
		log.Warn("terminate failed", logging.KeyPID, pid, "mode", mode.String(), logging.KeyError, err)
	} else {
		log.Info("signal sent", logging.KeyPID, pid, "name", name, "mode", mode.String())
	}
	t.audit.Log(audit.EventKillResult, subject, details)
	return err
}

func (t *Terminator) signal(ctx context.Context, pid int32, mode Mode) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	if pid == int32(os.Getpid()) {
		return "", fmt.Errorf("%w: %d is this process", ErrInvalidPID, pid)
	}

	p, err := t.lookup(ctx, pid)
	if err != nil {
		return "", mapError(pid, err)
	}
	name, _ := p.NameWithContext(ctx)

	if mode == Forceful {
		err = p.KillWithContext(ctx)
	} else {
		err = p.TerminateWithContext(ctx)
	}
	if err != nil {
		return name, mapError(pid, err)
	}
	return name, nil
}

// Escalate sends a graceful signal, waits up to grace for the process to
// exit, then sends a forceful one. A process that exits on its own during
// the wait counts as success.
func (t *Terminator) Escalate(ctx context.Context, pid int32, grace time.Duration) error {
	if err := t.Terminate(ctx, pid, Graceful); err != nil {
		return err
	}

	p, err := t.lookup(ctx, pid)
	if err != nil {
		if errors.Is(mapError(pid, err), ErrNoSuchProcess) {
			return nil
		}
		return mapError(pid, err)
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			running, err := p.IsRunningWithContext(ctx)
			if err == nil && !running {
				log.Debug("process exited after graceful signal", logging.KeyPID, pid)
				return nil
			}
		case <-deadline.C:
			log.Info("grace period elapsed, escalating", logging.KeyPID, pid, "grace", grace.String())
			err := t.Terminate(ctx, pid, Forceful)
			if errors.Is(err, ErrNoSuchProcess) {
				return nil
			}
			return err
		}
	}
}

func mapError(pid int32, err error) error {
	switch {
	case errors.Is(err, process.ErrorProcessNotRunning), errors.Is(err, os.ErrProcessDone):
		return fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
	}
	if mapped := classifyErrno(err); mapped != nil {
		return fmt.Errorf("pid %d: %w: %w", pid, mapped, err)
	}
	return fmt.Errorf("pid %d: %w", pid, err)
}
