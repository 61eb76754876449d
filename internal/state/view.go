package state

import (
	"sort"
	"sync"
	"time"

	"github.com/hellotrik/port-killer/internal/grouping"
	"github.com/hellotrik/port-killer/pkg/models"
)

// View is one immutable snapshot of the application state. Readers must
// not modify any slice or map reachable from it.
type View struct {
	Version uint64

	Ports         []models.PortInfo
	FilteredPorts []models.PortInfo
	Filter        models.Filter

	Favorites map[int]bool
	Watched   map[int]bool

	SelectedPortID      string
	SelectedSidebarItem models.SidebarItem
	TreeView            bool

	ScannedAt    time.Time
	ScanCount    uint64
	ScanFailures uint64
	LastScanErr  error

	groups *groupCache
}

// groupCache computes process groups on first use. Views whose filtered
// ports have the same fingerprint share one cache.
type groupCache struct {
	fingerprint string
	once        sync.Once
	groups      []models.ProcessGroup
	ports       []models.PortInfo
}

func newGroupCache(ports []models.PortInfo) *groupCache {
	return &groupCache{fingerprint: grouping.Fingerprint(ports), ports: ports}
}

func (c *groupCache) get() []models.ProcessGroup {
	c.once.Do(func() {
		c.groups = grouping.Build(c.ports)
		c.ports = nil
	})
	return c.groups
}

// Groups returns FilteredPorts grouped by owning process.
func (v *View) Groups() []models.ProcessGroup {
	if v.groups == nil {
		return []models.ProcessGroup{}
	}
	return v.groups.get()
}

// IsFavorite reports whether port is a favorite.
func (v *View) IsFavorite(port int) bool { return v.Favorites[port] }

// IsWatched reports whether port is on the watch list.
func (v *View) IsWatched(port int) bool { return v.Watched[port] }

// HasScanned reports whether at least one scan succeeded.
func (v *View) HasScanned() bool { return v.ScanCount > 0 }

// PortsFor returns the filtered ports shown for a sidebar entry.
func (v *View) PortsFor(item models.SidebarItem) []models.PortInfo {
	switch item {
	case models.SidebarAll, "":
		return v.FilteredPorts
	case models.SidebarFavorites:
		return v.selectPorts(func(p models.PortInfo) bool { return v.Favorites[p.Port] })
	case models.SidebarWatched:
		return v.selectPorts(func(p models.PortInfo) bool { return v.Watched[p.Port] })
	}
	if t, ok := item.ProcessType(); ok {
		return v.selectPorts(func(p models.PortInfo) bool { return p.ProcessType == t })
	}
	return []models.PortInfo{}
}

func (v *View) selectPorts(keep func(models.PortInfo) bool) []models.PortInfo {
	out := make([]models.PortInfo, 0)
	for _, p := range v.FilteredPorts {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// SelectedPort returns the selected listener, if it is still present.
func (v *View) SelectedPort() (models.PortInfo, bool) {
	if v.SelectedPortID == "" {
		return models.PortInfo{}, false
	}
	return findPort(v.Ports, v.SelectedPortID)
}

// PortByID looks up a listener in the latest snapshot.
func (v *View) PortByID(id string) (models.PortInfo, bool) {
	return findPort(v.Ports, id)
}

// PortsOn returns every listener on a port number.
func (v *View) PortsOn(port int) []models.PortInfo {
	out := make([]models.PortInfo, 0, 1)
	for _, p := range v.Ports {
		if p.Port == port {
			out = append(out, p)
		}
	}
	return out
}

// WatchedPorts returns the watch list sorted by port.
func (v *View) WatchedPorts() []models.WatchedPort {
	ports := sortedKeys(v.Watched)
	out := make([]models.WatchedPort, len(ports))
	for i, p := range ports {
		out[i] = models.WatchedPort{Port: p}
	}
	return out
}

// FavoritePorts returns the favorites sorted ascending.
func (v *View) FavoritePorts() []int { return sortedKeys(v.Favorites) }

// Preferences returns the persisted subset of the view.
func (v *View) Preferences() models.Preferences {
	return models.Preferences{
		TreeView:  v.TreeView,
		Favorites: sortedKeys(v.Favorites),
		Watched:   sortedKeys(v.Watched),
	}
}

// Counts returns the number of filtered ports per sidebar entry.
func (v *View) Counts() map[models.SidebarItem]int {
	counts := map[models.SidebarItem]int{
		models.SidebarAll:       len(v.FilteredPorts),
		models.SidebarFavorites: 0,
		models.SidebarWatched:   0,
	}
	for _, t := range models.AllProcessTypes {
		counts[models.SidebarForType(t)] = 0
	}
	for _, p := range v.FilteredPorts {
		if v.Favorites[p.Port] {
			counts[models.SidebarFavorites]++
		}
		if v.Watched[p.Port] {
			counts[models.SidebarWatched]++
		}
		counts[models.SidebarForType(p.ProcessType)]++
	}
	return counts
}

func findPort(ports []models.PortInfo, id string) (models.PortInfo, bool) {
	for _, p := range ports {
		if p.ID == id {
			return p, true
		}
	}
	return models.PortInfo{}, false
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k, ok := range set {
		if ok {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func applyFilter(ports []models.PortInfo, f models.Filter) []models.PortInfo {
	if !f.IsActive() {
		return ports
	}
	out := make([]models.PortInfo, 0, len(ports))
	for _, p := range ports {
		if f.Matches(p.Port) {
			out = append(out, p)
		}
	}
	return out
}
