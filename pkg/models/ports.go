package models

import (
	"fmt"
	"strings"
)

// ProcessType is a coarse classification of the process owning a port.
type ProcessType string

const (
	ProcessTypeWebServer   ProcessType = "webServer"
	ProcessTypeDatabase    ProcessType = "database"
	ProcessTypeDevelopment ProcessType = "development"
	ProcessTypeSystem      ProcessType = "system"
	ProcessTypeOther       ProcessType = "other"
)

// AllProcessTypes lists every classification in display order.
var AllProcessTypes = []ProcessType{
	ProcessTypeWebServer,
	ProcessTypeDatabase,
	ProcessTypeDevelopment,
	ProcessTypeSystem,
	ProcessTypeOther,
}

// DisplayName returns a human readable label for the type.
func (t ProcessType) DisplayName() string {
	switch t {
	case ProcessTypeWebServer:
		return "Web Server"
	case ProcessTypeDatabase:
		return "Database"
	case ProcessTypeDevelopment:
		return "Development"
	case ProcessTypeSystem:
		return "System"
	default:
		return "Other"
	}
}

// PortInfo is one listening socket bound to a process.
type PortInfo struct {
	ID          string      `json:"id"`
	Port        int         `json:"port"`
	PID         int32       `json:"pid"`
	ProcessName string      `json:"processName"`
	Command     string      `json:"command"`
	Address     string      `json:"address"`
	User        string      `json:"user"`
	FD          string      `json:"fd"`
	ProcessType ProcessType `json:"processType"`
}

// PortID builds the per-snapshot identity of a listener. It is not stable
// across restarts of the owning process.
func PortID(port int, address string, pid int32) string {
	return fmt.Sprintf("%d-%s-%d", port, address, pid)
}

// DisplayPort renders the port the way menus show it.
func (p PortInfo) DisplayPort() string {
	return fmt.Sprintf(":%d", p.Port)
}

// ProcessGroup aggregates every listener owned by one pid.
type ProcessGroup struct {
	ID          int32          `json:"id"`
	ProcessName string         `json:"processName"`
	Ports       []PortInfo     `json:"ports"`
	RelatedPIDs map[int32]bool `json:"relatedPids"`
}

// HasRelatedProcesses reports whether other pids share a (name, port) pair
// with this group, e.g. a pool of server workers.
func (g ProcessGroup) HasRelatedProcesses() bool {
	return len(g.RelatedPIDs) > 1
}

// WatchedPort is a port the user wants presence notifications for. Identity
// is the port number alone since the owning process may change.
type WatchedPort struct {
	Port int `json:"port" yaml:"port"`
}

// Filter restricts the visible ports to an optional range.
type Filter struct {
	MinPort *int `json:"minPort,omitempty"`
	MaxPort *int `json:"maxPort,omitempty"`
}

// IsActive is true when either bound is set.
func (f Filter) IsActive() bool {
	return f.MinPort != nil || f.MaxPort != nil
}

// Reset clears both bounds.
func (f *Filter) Reset() {
	f.MinPort = nil
	f.MaxPort = nil
}

// Matches reports whether port falls inside the configured bounds.
func (f Filter) Matches(port int) bool {
	if f.MinPort != nil && port < *f.MinPort {
		return false
	}
	if f.MaxPort != nil && port > *f.MaxPort {
		return false
	}
	return true
}

// SidebarItem identifies the list a presentation layer is showing.
type SidebarItem string

const (
	SidebarAll       SidebarItem = "all"
	SidebarFavorites SidebarItem = "favorites"
	SidebarWatched   SidebarItem = "watched"
)

const sidebarTypePrefix = "type:"

// SidebarForType returns the sidebar entry for one process category.
func SidebarForType(t ProcessType) SidebarItem {
	return SidebarItem(sidebarTypePrefix + string(t))
}

// ProcessType returns the category a type entry refers to.
func (s SidebarItem) ProcessType() (ProcessType, bool) {
	raw, ok := strings.CutPrefix(string(s), sidebarTypePrefix)
	if !ok {
		return "", false
	}
	return ProcessType(raw), true
}

// Valid reports whether s is a known sidebar entry.
func (s SidebarItem) Valid() bool {
	switch s {
	case SidebarAll, SidebarFavorites, SidebarWatched:
		return true
	}
	t, ok := s.ProcessType()
	if !ok {
		return false
	}
	for _, known := range AllProcessTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Preferences is the persisted user configuration the core is seeded with.
type Preferences struct {
	TreeView  bool  `json:"treeView" yaml:"tree_view"`
	Favorites []int `json:"favorites" yaml:"favorites"`
	Watched   []int `json:"watched" yaml:"watched"`
}
