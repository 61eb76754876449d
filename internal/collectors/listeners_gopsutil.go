package collectors

import (
	"context"
	"net"
	"strconv"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

const statusListen = "LISTEN"

// GopsutilSource enumerates TCP listeners through gopsutil's connection table.
type GopsutilSource struct {
	timeout     time.Duration
	connections func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)
	meta        func(ctx context.Context, pid int32) processMeta
}

// NewGopsutilSource creates a gopsutil-backed source.
func NewGopsutilSource(timeout time.Duration) *GopsutilSource {
	return &GopsutilSource{
		timeout:     timeout,
		connections: psnet.ConnectionsWithContext,
		meta:        lookupProcessMeta,
	}
}

func (s *GopsutilSource) Name() string { return "gopsutil" }

// Listeners returns one record per LISTEN socket.
func (s *GopsutilSource) Listeners(ctx context.Context) ([]ListenerRecord, error) {
	return collectWithTimeout(ctx, s.timeout, s.collect)
}

func (s *GopsutilSource) collect(ctx context.Context) ([]ListenerRecord, error) {
	conns, err := s.connections(ctx, "tcp")
	if err != nil {
		return nil, err
	}

	cache := newMetaCache(s.meta)
	records := make([]ListenerRecord, 0, len(conns))

	for _, conn := range conns {
		if conn.Status != statusListen {
			continue
		}

		rec := ListenerRecord{
			Endpoint: net.JoinHostPort(conn.Laddr.IP, strconv.FormatUint(uint64(conn.Laddr.Port), 10)),
			FD:       strconv.FormatUint(uint64(conn.Fd), 10),
		}
		// Sockets owned by other users report pid 0 without privileges;
		// leave PID empty so the parser drops them.
		if conn.Pid > 0 {
			meta := cache.get(ctx, conn.Pid)
			rec.PID = strconv.FormatInt(int64(conn.Pid), 10)
			rec.ProcessName = meta.name
			rec.Command = meta.cmdline
			rec.User = meta.user
		}
		records = append(records, rec)
	}

	return records, nil
}

// processMeta is what we learn about a pid beyond the socket table.
type processMeta struct {
	name    string
	cmdline string
	user    string
}

// metaCache resolves each pid at most once per scan.
type metaCache struct {
	lookup  func(ctx context.Context, pid int32) processMeta
	entries map[int32]processMeta
}

func newMetaCache(lookup func(ctx context.Context, pid int32) processMeta) *metaCache {
	return &metaCache{lookup: lookup, entries: make(map[int32]processMeta)}
}

func (c *metaCache) get(ctx context.Context, pid int32) processMeta {
	if m, ok := c.entries[pid]; ok {
		return m
	}
	m := c.lookup(ctx, pid)
	c.entries[pid] = m
	return m
}

// lookupProcessMeta reads name, command line and owner. Individual failures
// (process exited, no permission) leave the field empty.
func lookupProcessMeta(ctx context.Context, pid int32) processMeta {
	var m processMeta
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return m
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		m.name = name
	}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		m.cmdline = cmdline
	}
	if user, err := p.UsernameWithContext(ctx); err == nil {
		m.user = user
	}
	return m
}
