// Package prefs persists the user's tree view setting, favorites and watch
// list as a YAML file.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hellotrik/port-killer/internal/logging"
	"github.com/hellotrik/port-killer/pkg/models"
)

var log = logging.L("prefs")

// File reads and writes preferences at a fixed path. It implements
// state.PrefsSink. Several processes may share one file: every change is
// a locked read-modify-write of what is on disk.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a File for path. Nothing is read until Load.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Load reads the preferences. A missing file yields zero preferences.
func (f *File) Load() (models.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

// UpdatePreferences applies change to the preferences currently on disk
// and writes the result. It returns what was written. Changes made by
// other processes since this one last read the file are kept.
func (f *File) UpdatePreferences(change func(*models.Preferences)) (models.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return models.Preferences{}, fmt.Errorf("create preferences dir: %w", err)
	}
	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return models.Preferences{}, fmt.Errorf("lock preferences: %w", err)
	}
	defer unlock()

	p, err := f.read()
	if err != nil {
		return models.Preferences{}, err
	}
	change(&p)
	p = Normalize(p)
	if err := f.write(p); err != nil {
		return models.Preferences{}, err
	}
	return p, nil
}

// Watch calls onChange each time the file is written or replaced, until
// ctx is done. The directory is watched so atomic renames are seen.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch preferences: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch preferences dir: %w", err)
	}

	target := filepath.Clean(f.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				log.Debug("preferences file changed", "path", f.path, "op", ev.Op.String())
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("preferences watcher error", logging.KeyError, err)
			}
		}
	}()
	return nil
}

func (f *File) read() (models.Preferences, error) {
	var p models.Preferences
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return models.Preferences{}, fmt.Errorf("parse preferences %s: %w", f.path, err)
	}
	return Normalize(p), nil
}

// write replaces the file atomically: a temp file in the same directory
// is renamed over the target.
func (f *File) write(p models.Preferences) error {
	data, err := yaml.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".preferences-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp preferences: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, syncErr, closeErr); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace preferences: %w", err)
	}
	log.Debug("preferences saved", "path", f.path, "favorites", len(p.Favorites), "watched", len(p.Watched))
	return nil
}

// Normalize drops out-of-range and duplicate ports and sorts the rest.
func Normalize(p models.Preferences) models.Preferences {
	p.Favorites = normalizePorts(p.Favorites)
	p.Watched = normalizePorts(p.Watched)
	return p
}

func normalizePorts(ports []int) []int {
	seen := make(map[int]bool, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p < 1 || p > 65535 || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
