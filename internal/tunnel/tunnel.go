// Package tunnel tracks port-forwarding sessions started elsewhere and
// guarantees they are torn down at shutdown.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hellotrik/port-killer/internal/audit"
	"github.com/hellotrik/port-killer/internal/logging"
)

var log = logging.L("tunnel")

var (
	ErrStopFailed = errors.New("tunnel stop failed")
	ErrNotFound   = errors.New("tunnel not found")
	ErrDuplicate  = errors.New("tunnel already registered")
)

// Tunnel is an opaque handle to a forwarding session.
type Tunnel interface {
	ID() string
	Port() int
	Stop(ctx context.Context) error
}

// StopError reports one tunnel that failed to stop.
type StopError struct {
	ID   string
	Port int
	Err  error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop tunnel %s (port %d): %v", e.ID, e.Port, e.Err)
}

// Unwrap exposes both ErrStopFailed and the underlying cause.
func (e *StopError) Unwrap() []error {
	return []error{ErrStopFailed, e.Err}
}

// Info describes a registered tunnel.
type Info struct {
	ID           string    `json:"id"`
	Port         int       `json:"port"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type entry struct {
	tunnel       Tunnel
	registeredAt time.Time
}

// Manager is the registry of live tunnels.
type Manager struct {
	mu      sync.Mutex
	tunnels map[string]entry
	audit   *audit.Logger
}

// NewManager creates an empty registry. auditLog may be nil.
func NewManager(auditLog *audit.Logger) *Manager {
	return &Manager{tunnels: make(map[string]entry), audit: auditLog}
}

// Register adds t. IDs must be unique.
func (m *Manager) Register(t Tunnel) error {
	if t == nil || t.ID() == "" {
		return errors.New("tunnel: handle must have an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tunnels[t.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.ID())
	}
	m.tunnels[t.ID()] = entry{tunnel: t, registeredAt: time.Now()}
	log.Info("tunnel registered", logging.KeyTunnelID, t.ID(), logging.KeyPort, t.Port())
	return nil
}

// Stop removes and stops the tunnel with the given id.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.tunnels[id]
	delete(m.tunnels, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.stopOne(ctx, e.tunnel)
}

// StopAll stops every registered tunnel concurrently. The registry is
// cleared first, so a second call is a no-op. Every failure is reported as
// a *StopError; the results are combined with errors.Join.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	if len(m.tunnels) == 0 {
		m.mu.Unlock()
		return nil
	}
	pending := make([]Tunnel, 0, len(m.tunnels))
	for _, e := range m.tunnels {
		pending = append(pending, e.tunnel)
	}
	m.tunnels = make(map[string]entry)
	m.mu.Unlock()

	start := time.Now()
	errs := make([]error, len(pending))

	// Goroutines return nil so one failure never cancels the others.
	var g errgroup.Group
	for i, t := range pending {
		g.Go(func() error {
			errs[i] = m.stopOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	log.Info("tunnels stopped",
		"count", len(pending), "failed", countNonNil(errs),
		logging.KeyDurationMs, time.Since(start).Milliseconds())
	return err
}

func (m *Manager) stopOne(ctx context.Context, t Tunnel) error {
	err := safeStop(ctx, t)
	details := map[string]any{"port": t.Port(), "ok": err == nil}
	if err != nil {
		details["error"] = err.Error()
		log.Warn("tunnel stop failed", logging.KeyTunnelID, t.ID(), logging.KeyError, err)
	}
	m.audit.Log(audit.EventTunnelStopped, "tunnel:"+t.ID(), details)
	if err != nil {
		return &StopError{ID: t.ID(), Port: t.Port(), Err: err}
	}
	return nil
}

func safeStop(ctx context.Context, t Tunnel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during stop: %v", r)
		}
	}()
	return t.Stop(ctx)
}

// Len returns the number of registered tunnels.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tunnels)
}

// List returns the registered tunnels ordered by port, then id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.tunnels))
	for id, e := range m.tunnels {
		out = append(out, Info{ID: id, Port: e.tunnel.Port(), RegisteredAt: e.registeredAt})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func countNonNil(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
