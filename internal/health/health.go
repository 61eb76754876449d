// Package health tracks the status of long-running components (scanner,
// feed, tunnels) for the /healthz endpoint and the CLI.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/hellotrik/port-killer/internal/logging"
)

var log = logging.L("health")

// Status is the health of one component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// Component names used by the engine.
const (
	ComponentScanner = "scanner"
	ComponentFeed    = "feed"
	ComponentTunnels = "tunnels"
	ComponentNotify  = "notify"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Check is the latest result for one component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	Since     time.Time `json:"since"` // when Status last changed
}

// Monitor holds the checks for all components.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check), now: time.Now}
}

// Register adds components in the Unknown state unless already present.
func (m *Monitor) Register(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, name := range names {
		if _, ok := m.checks[name]; !ok {
			m.checks[name] = Check{Name: name, Status: Unknown, UpdatedAt: now, Since: now}
		}
	}
}

// Update records status for name. Invalid statuses are stored as Unknown.
// Transitions are logged; repeated identical reports are not.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		status = Unknown
	}

	m.mu.Lock()
	now := m.now()
	prev, existed := m.checks[name]
	c := Check{Name: name, Status: status, Message: message, UpdatedAt: now, Since: now}
	if existed && prev.Status == status {
		c.Since = prev.Since
	}
	m.checks[name] = c
	m.mu.Unlock()

	if existed && prev.Status == status {
		return
	}
	if status == Healthy {
		if existed && prev.Status != Unknown {
			log.Info("component recovered", "check", name, "from", string(prev.Status))
		}
		return
	}
	log.Warn("component health changed", "check", name, "status", string(status), "message", message)
}

// Get returns the check for name.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all checks; an empty monitor is
// Unknown.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return overall(m.checks)
}

func overall(checks map[string]Check) Status {
	if len(checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range checks {
		if statusRank(c.Status) > statusRank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns the checks sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedChecks(m.checks)
}

func sortedChecks(checks map[string]Check) []Check {
	out := make([]Check, 0, len(checks))
	for _, c := range checks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Summary is the JSON body served on /healthz.
type Summary struct {
	Status     Status  `json:"status"`
	Components []Check `json:"components"`
}

// Summary returns the overall status and checks from one consistent read.
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Summary{Status: overall(m.checks), Components: sortedChecks(m.checks)}
}

// statusRank orders statuses from best to worst; Unknown ranks worst.
func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 3
	}
}
