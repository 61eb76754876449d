// Package audit records destructive operations (kills, tunnel teardown) in
// a tamper-evident JSONL file. Each entry carries the SHA-256 hash of its
// predecessor.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hellotrik/port-killer/internal/logging"
)

var log = logging.L("audit")

// Event types.
const (
	EventKillRequested = "kill_requested"
	EventKillResult    = "kill_result"
	EventTunnelStopped = "tunnel_stopped"
	EventPrefsChanged  = "prefs_changed"
	EventEngineStart   = "engine_start"
	EventEngineStop    = "engine_stop"
	EventLogRotated    = "log_rotated"
)

const genesisHash = "genesis"

// syncedEvents are fsynced after writing.
var syncedEvents = map[string]bool{
	EventKillResult:  true,
	EventEngineStart: true,
	EventEngineStop:  true,
}

// ErrChainBroken is returned by Verify when an entry does not link to its
// predecessor or its hash does not match its content.
var ErrChainBroken = errors.New("audit hash chain broken")

// Entry is a single audit record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	Target    string         `json:"target,omitempty"` // e.g. "pid:412" or "tunnel:abc"
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Logger appends hash-chained entries and rotates by size. After rotation
// the new file starts with an EventLogRotated entry linking to the last hash
// of the old file.
type Logger struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	dropped    atomic.Int64
}

// NewLogger opens (or creates) the audit file at path.
func NewLogger(path string, maxSizeMB, maxBackups int) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	l := &Logger{
		filePath:   path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		prevHash:   genesisHash,
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}
	if last, err := lastHash(path); err == nil && last != "" {
		l.prevHash = last
	}

	log.Info("audit logger started", "path", path)
	return l, nil
}

// Log writes one entry. Failures are counted and logged, never returned.
// The chain only advances after a successful write. Safe on a nil receiver.
func (l *Logger) Log(eventType, target string, details map[string]any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Target:    target,
		Details:   details,
	}
	data, err := l.seal(&entry)
	if err != nil {
		log.Error("failed to encode audit entry", logging.KeyError, err, "eventType", eventType)
		l.dropped.Add(1)
		return
	}

	if l.written > 0 && l.written+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			log.Error("audit log rotation failed", logging.KeyError, err)
			l.dropped.Add(1)
			return
		}
		// The sentinel moved the chain; re-seal against it.
		if data, err = l.seal(&entry); err != nil {
			l.dropped.Add(1)
			return
		}
	}

	if err := l.write(data, entry.EntryHash); err != nil {
		log.Error("failed to write audit entry", logging.KeyError, err, "eventType", eventType)
		l.dropped.Add(1)
		return
	}

	if syncedEvents[eventType] {
		if err := l.file.Sync(); err != nil {
			log.Error("failed to fsync audit entry", logging.KeyError, err, "eventType", eventType)
		}
	}
}

// Close closes the file. Safe on a nil receiver.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// DroppedCount returns how many entries failed to write, or -1 for a nil
// logger.
func (l *Logger) DroppedCount() int64 {
	if l == nil {
		return -1
	}
	return l.dropped.Load()
}

// seal links entry to the current chain head and returns its JSON line.
func (l *Logger) seal(entry *Entry) ([]byte, error) {
	entry.PrevHash = l.prevHash
	hash, err := computeHash(*entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}
	return append(data, '\n'), nil
}

func (l *Logger) write(data []byte, hash string) error {
	if l.file == nil {
		return os.ErrClosed
	}
	n, err := l.file.Write(data)
	l.written += int64(n)
	if err != nil {
		return err
	}
	l.prevHash = hash
	return nil
}

// computeHash hashes length-prefixed fields so no two field combinations
// serialize identically.
func computeHash(entry Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{entry.Timestamp, entry.EventType, entry.Target, entry.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if entry.Details != nil {
		detailBytes, err := json.Marshal(entry.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(detailBytes))
		h.Write(detailBytes)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (l *Logger) openFile() error {
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file = f
	l.written = info.Size()
	return nil
}

func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	for i := l.maxBackups; i >= 2; i-- {
		src, dst := l.backupName(i-1), l.backupName(i)
		if i == l.maxBackups {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				log.Warn("audit rotation: remove oldest backup", "path", dst, logging.KeyError, err)
			}
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			log.Warn("audit rotation: rename backup", "src", src, "dst", dst, logging.KeyError, err)
		}
	}
	if err := os.Rename(l.filePath, l.backupName(1)); err != nil && !os.IsNotExist(err) {
		log.Warn("audit rotation: rename current log", logging.KeyError, err)
	}

	if err := l.openFile(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: EventLogRotated,
		Details:   map[string]any{"previousFile": l.backupName(1)},
	}
	data, err := l.seal(&sentinel)
	if err == nil {
		err = l.write(data, sentinel.EntryHash)
	}
	if err != nil {
		log.Error("rotation sentinel failed, hash chain broken", logging.KeyError, err)
		l.dropped.Add(1)
		l.prevHash = "chain-broken"
	}
	return nil
}

func (l *Logger) backupName(index int) string {
	if index == 0 {
		return l.filePath
	}
	return fmt.Sprintf("%s.%d", l.filePath, index)
}

// Verify checks the hash chain of one audit file and returns the number of
// entries read. The first entry may link to anything (genesis or a
// previous file); every later entry must link to its predecessor.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	prev := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return count, fmt.Errorf("line %d: %w", count+1, err)
		}
		want, err := computeHash(e)
		if err != nil {
			return count, err
		}
		if want != e.EntryHash {
			return count, fmt.Errorf("%w: line %d hash mismatch", ErrChainBroken, count+1)
		}
		if count > 0 && e.PrevHash != prev {
			return count, fmt.Errorf("%w: line %d does not link to line %d", ErrChainBroken, count+1, count)
		}
		prev = e.EntryHash
		count++
	}
	return count, scanner.Err()
}

// lastHash returns the entry hash of the last line in path so a restarted
// logger keeps extending the same chain.
func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if json.Unmarshal(scanner.Bytes(), &e) == nil && e.EntryHash != "" {
			last = e.EntryHash
		}
	}
	return last, scanner.Err()
}
