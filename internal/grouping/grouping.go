// Package grouping aggregates listeners by owning process and links
// processes that serve the same (name, port) pair, such as worker pools.
package grouping

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/hellotrik/port-killer/pkg/models"
)

type endpointKey struct {
	port    int
	address string
}

type relationKey struct {
	name string
	port int
}

// Build partitions ports by pid and computes each group's related pids.
// The result does not depend on the order of the input.
func Build(ports []models.PortInfo) []models.ProcessGroup {
	if len(ports) == 0 {
		return []models.ProcessGroup{}
	}

	byPID := make(map[int32]*models.ProcessGroup)
	seen := make(map[int32]map[endpointKey]bool)

	for _, p := range ports {
		g, ok := byPID[p.PID]
		if !ok {
			g = &models.ProcessGroup{ID: p.PID, ProcessName: p.ProcessName}
			byPID[p.PID] = g
			seen[p.PID] = make(map[endpointKey]bool)
		}
		key := endpointKey{port: p.Port, address: p.Address}
		if seen[p.PID][key] {
			continue
		}
		seen[p.PID][key] = true
		g.Ports = append(g.Ports, p)
	}

	groups := make([]models.ProcessGroup, 0, len(byPID))
	for _, g := range byPID {
		sortPorts(g.Ports)
		// Name collisions within one pid are possible when the source
		// reports inconsistent names; pin the name of the lowest port.
		g.ProcessName = g.Ports[0].ProcessName
		groups = append(groups, *g)
	}

	index := make(map[relationKey]map[int32]bool)
	for _, g := range groups {
		for _, p := range g.Ports {
			key := relationKey{name: g.ProcessName, port: p.Port}
			if index[key] == nil {
				index[key] = make(map[int32]bool)
			}
			index[key][g.ID] = true
		}
	}

	for i := range groups {
		related := map[int32]bool{groups[i].ID: true}
		for _, p := range groups[i].Ports {
			for pid := range index[relationKey{name: groups[i].ProcessName, port: p.Port}] {
				related[pid] = true
			}
		}
		groups[i].RelatedPIDs = related
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := strings.ToLower(groups[i].ProcessName), strings.ToLower(groups[j].ProcessName)
		if a != b {
			return a < b
		}
		return groups[i].ID < groups[j].ID
	})
	return groups
}

func sortPorts(ports []models.PortInfo) {
	sort.Slice(ports, func(i, j int) bool {
		if ports[i].Port != ports[j].Port {
			return ports[i].Port < ports[j].Port
		}
		if ports[i].Address != ports[j].Address {
			return ports[i].Address < ports[j].Address
		}
		return ports[i].ProcessName < ports[j].ProcessName
	})
}

// Fingerprint identifies the listeners in ports by every field a group
// carries. Equal collections give equal fingerprints regardless of order.
func Fingerprint(ports []models.PortInfo) string {
	keys := make([]string, 0, len(ports))
	for _, p := range ports {
		keys = append(keys, strings.Join([]string{
			strconv.FormatInt(int64(p.PID), 10), strconv.Itoa(p.Port), p.Address, p.ProcessName,
			p.ID, p.Command, p.User, p.FD, string(p.ProcessType),
		}, "\x1f"))
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
