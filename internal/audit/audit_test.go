package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "audit", "audit.jsonl"), 1, 3)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return l
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Log(EventKillRequested, "pid:1", nil)
	if err := l.Close(); err != nil {
		t.Fatalf("nil Close() returned error: %v", err)
	}
	if got := l.DroppedCount(); got != -1 {
		t.Fatalf("nil DroppedCount() = %d, want -1", got)
	}
}

func TestLogWritesJSONLEntry(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventKillRequested, "pid:412", map[string]any{"port": 3000, "mode": "graceful"})
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.EventType != EventKillRequested || e.Target != "pid:412" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.PrevHash != genesisHash || e.EntryHash == "" {
		t.Fatalf("bad chain fields: prev=%q hash=%q", e.PrevHash, e.EntryHash)
	}
	if l.DroppedCount() != 0 {
		t.Fatalf("DroppedCount() = %d, want 0", l.DroppedCount())
	}
}

func TestHashChainLinkingAndVerify(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventEngineStart, "", nil)
	l.Log(EventKillRequested, "pid:10", map[string]any{"port": 8080})
	l.Log(EventKillResult, "pid:10", map[string]any{"ok": true})
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].EntryHash {
			t.Fatalf("entry %d does not link to entry %d", i, i-1)
		}
	}

	n, err := Verify(l.filePath)
	if err != nil || n != 3 {
		t.Fatalf("Verify = %d, %v", n, err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventKillRequested, "pid:10", map[string]any{"port": 8080})
	l.Log(EventKillResult, "pid:10", map[string]any{"ok": true})
	l.Close()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), "pid:10", "pid:11", 1)
	if err := os.WriteFile(l.filePath, []byte(tampered), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Verify(l.filePath); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventEngineStart, "", nil)
	l.Close()

	l2, err := NewLogger(l.filePath, 1, 3)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l2.Log(EventEngineStop, "", nil)
	l2.Close()

	if n, err := Verify(l.filePath); err != nil || n != 2 {
		t.Fatalf("Verify after reopen = %d, %v", n, err)
	}
}

func TestRotationWritesLinkedSentinel(t *testing.T) {
	l := newTestLogger(t)
	l.maxSize = 200

	for i := 0; i < 5; i++ {
		l.Log(EventKillRequested, "pid:1", map[string]any{"i": i})
	}
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) != 2 {
		t.Fatalf("expected sentinel plus one entry, got %d", len(entries))
	}
	if entries[0].EventType != EventLogRotated {
		t.Fatalf("first entry after rotation = %q, want %q", entries[0].EventType, EventLogRotated)
	}
	if prev, _ := entries[0].Details["previousFile"].(string); prev != l.filePath+".1" {
		t.Fatalf("previousFile = %q", prev)
	}

	old := readEntries(t, l.filePath+".1")
	if entries[0].PrevHash != old[len(old)-1].EntryHash {
		t.Fatal("sentinel does not link to the last entry of the rotated file")
	}
	if _, err := os.Stat(l.filePath + ".4"); !os.IsNotExist(err) {
		t.Fatal("backups beyond maxBackups should be removed")
	}
	if n, err := Verify(l.filePath); err != nil || n != 2 {
		t.Fatalf("Verify current file = %d, %v", n, err)
	}
}

func TestWriteAfterCloseIsDropped(t *testing.T) {
	l := newTestLogger(t)
	l.Close()
	l.Log(EventKillResult, "pid:1", nil)
	if got := l.DroppedCount(); got != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", got)
	}
}

func TestSyncedEvents(t *testing.T) {
	for _, e := range []string{EventKillResult, EventEngineStart, EventEngineStop} {
		if !syncedEvents[e] {
			t.Errorf("%s should be fsynced", e)
		}
	}
	if syncedEvents[EventKillRequested] {
		t.Error("kill requests are not fsynced")
	}
}

func TestComputeHashIsLengthPrefixed(t *testing.T) {
	a := Entry{Timestamp: "t", EventType: "ab", Target: "c", PrevHash: "p"}
	b := Entry{Timestamp: "t", EventType: "a", Target: "bc", PrevHash: "p"}
	ha, _ := computeHash(a)
	hb, _ := computeHash(b)
	if ha == hb {
		t.Fatal("shifting bytes between fields must change the hash")
	}
	again, _ := computeHash(a)
	if ha != again {
		t.Fatal("hash is not deterministic")
	}
}
