package collectors

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// lsofArgs selects TCP sockets in LISTEN state, skips host and port name
// resolution, and emits machine-readable fields: p=pid c=command L=login
// f=fd n=name.
var lsofArgs = []string{"-nP", "-iTCP", "-sTCP:LISTEN", "-F", "pcLfn"}

// LsofSource enumerates listeners by running lsof in field output mode.
type LsofSource struct {
	path    string
	timeout time.Duration
	run     func(ctx context.Context, path string, args ...string) ([]byte, error)
	meta    func(ctx context.Context, pid int32) processMeta
}

// NewLsofSource creates an lsof-backed source. path defaults to "lsof".
func NewLsofSource(path string, timeout time.Duration) *LsofSource {
	if path == "" {
		path = "lsof"
	}
	return &LsofSource{
		path:    path,
		timeout: timeout,
		run:     runCommand,
		meta:    lookupProcessMeta,
	}
}

func (s *LsofSource) Name() string { return "lsof" }

// Listeners runs lsof and converts its field output into records.
func (s *LsofSource) Listeners(ctx context.Context) ([]ListenerRecord, error) {
	return collectWithTimeout(ctx, s.timeout, s.collect)
}

func (s *LsofSource) collect(ctx context.Context) ([]ListenerRecord, error) {
	out, err := s.run(ctx, s.path, lsofArgs...)
	if err != nil {
		// lsof exits 1 when nothing matched; that is an empty result.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
			return nil, fmt.Errorf("lsof: %w", err)
		}
		if len(bytes.TrimSpace(out)) == 0 {
			return []ListenerRecord{}, nil
		}
	}

	records := parseLsofFields(out)

	// lsof truncates command names; fill in full command lines.
	cache := newMetaCache(s.meta)
	for i := range records {
		pid, err := strconv.ParseInt(records[i].PID, 10, 32)
		if err != nil || pid <= 0 {
			continue
		}
		meta := cache.get(ctx, int32(pid))
		if meta.cmdline != "" {
			records[i].Command = meta.cmdline
		}
		if records[i].User == "" {
			records[i].User = meta.user
		}
	}
	return records, nil
}

// parseLsofFields converts "-F pcLfn" output into records. Each 'p' line
// starts a process set; each 'f' line starts a file within it and the
// following 'n' line names the endpoint.
func parseLsofFields(out []byte) []ListenerRecord {
	var (
		records []ListenerRecord
		current ListenerRecord
		fd      string
	)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		value := line[1:]
		switch line[0] {
		case 'p':
			current = ListenerRecord{PID: value}
			fd = ""
		case 'c':
			current.ProcessName = value
		case 'L':
			current.User = value
		case 'f':
			fd = value
		case 'n':
			rec := current
			rec.FD = fd
			rec.Endpoint = value
			records = append(records, rec)
		}
	}
	return records
}

func runCommand(ctx context.Context, path string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, path, args...).Output()
}
