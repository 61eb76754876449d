package collectors

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hellotrik/port-killer/pkg/models"
)

// WildcardAddress is the normalized form of every "any interface" bind.
const WildcardAddress = "*"

// ParseResult is the outcome of normalizing one scan.
type ParseResult struct {
	Ports   []models.PortInfo
	Skipped int   // malformed records dropped
	Err     error // wraps ErrScanFailed when nothing usable came back
}

type dedupKey struct {
	port    int
	address string
	pid     int32
}

// ParseListeners turns raw records into deduplicated PortInfo values sorted
// by (port, address, pid). Malformed records are skipped; the first record
// for a given (port, address, pid) wins.
func ParseListeners(records []ListenerRecord) ParseResult {
	var res ParseResult
	seen := make(map[dedupKey]bool, len(records))
	ports := make([]models.PortInfo, 0, len(records))

	for _, rec := range records {
		info, ok := parseRecord(rec)
		if !ok {
			res.Skipped++
			continue
		}
		key := dedupKey{port: info.Port, address: info.Address, pid: info.PID}
		if seen[key] {
			continue
		}
		seen[key] = true
		ports = append(ports, info)
	}

	if len(records) > 0 && len(ports) == 0 {
		res.Err = fmt.Errorf("%w: none of %d records were usable", ErrScanFailed, len(records))
		res.Ports = []models.PortInfo{}
		return res
	}

	sort.Slice(ports, func(i, j int) bool {
		a, b := ports[i], ports[j]
		if a.Port != b.Port {
			return a.Port < b.Port
		}
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		return a.PID < b.PID
	})
	res.Ports = ports
	return res
}

func parseRecord(rec ListenerRecord) (models.PortInfo, bool) {
	pid, err := strconv.ParseInt(strings.TrimSpace(rec.PID), 10, 32)
	if err != nil || pid <= 0 {
		return models.PortInfo{}, false
	}

	address, port, ok := ParseEndpoint(rec.Endpoint)
	if !ok {
		return models.PortInfo{}, false
	}

	command := strings.TrimSpace(rec.Command)
	name := strings.TrimSpace(rec.ProcessName)
	if name == "" {
		name = nameFromCommand(command)
	}
	if name == "" {
		return models.PortInfo{}, false
	}
	if command == "" {
		command = name
	}

	return models.PortInfo{
		ID:          models.PortID(port, address, int32(pid)),
		Port:        port,
		PID:         int32(pid),
		ProcessName: name,
		Command:     command,
		Address:     address,
		User:        strings.TrimSpace(rec.User),
		FD:          strings.TrimSpace(rec.FD),
		ProcessType: Classify(name, command),
	}, true
}

// ParseEndpoint splits "host:port", "[v6]:port", "*:port" and the netstat
// style "host.port" into a normalized address and port.
func ParseEndpoint(endpoint string) (string, int, bool) {
	ep := strings.TrimSpace(endpoint)
	ep = strings.TrimSpace(strings.TrimSuffix(ep, "(LISTEN)"))
	if ep == "" {
		return "", 0, false
	}

	var host, portStr string
	switch {
	case strings.HasPrefix(ep, "["):
		end := strings.LastIndex(ep, "]")
		if end == -1 || end+2 > len(ep) || (ep[end+1] != ':' && ep[end+1] != '.') {
			return "", 0, false
		}
		host, portStr = ep[1:end], ep[end+2:]
	case strings.Contains(ep, ":"):
		// Also covers unbracketed IPv6 such as "::1:3000".
		idx := strings.LastIndex(ep, ":")
		host, portStr = ep[:idx], ep[idx+1:]
	default:
		idx := strings.LastIndex(ep, ".")
		if idx == -1 {
			return "", 0, false
		}
		host, portStr = ep[:idx], ep[idx+1:]
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, false
	}
	return normalizeAddress(host), port, true
}

func normalizeAddress(host string) string {
	switch host {
	case "", "*", "0.0.0.0", "::", "[::]":
		return WildcardAddress
	}
	return host
}

func nameFromCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}
