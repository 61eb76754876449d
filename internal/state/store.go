// Package state holds the single source of truth for discovered ports and
// user preferences. Writers publish whole new Views; readers never observe
// a partially applied update.
package state

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hellotrik/port-killer/internal/logging"
	"github.com/hellotrik/port-killer/pkg/models"
)

var log = logging.L("state")

// ErrInvalidSidebarItem is returned by SelectSidebar for unknown entries.
var ErrInvalidSidebarItem = errors.New("invalid sidebar item")

// PrefsSink stores preferences. UpdatePreferences applies change to the
// stored copy and returns the result; Load rereads it.
type PrefsSink interface {
	Load() (models.Preferences, error)
	UpdatePreferences(change func(*models.Preferences)) (models.Preferences, error)
}

// Store owns the current View.
type Store struct {
	mu   sync.Mutex // serializes writers
	view atomic.Pointer[View]

	sink    PrefsSink
	prefMu  sync.Mutex // serializes preference changes and reloads
	onPrefs func(old, next models.Preferences)

	subMu   sync.RWMutex
	subs    map[int]*subscriber
	nextSub int

	now func() time.Time
}

// subscriber receives views in version order. A view older than the last
// one delivered is dropped.
type subscriber struct {
	mu   sync.Mutex
	last uint64
	fn   func(*View)
}

func (sub *subscriber) deliver(v *View) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if v.Version <= sub.last {
		return
	}
	sub.last = v.Version
	sub.fn(v)
}

// New creates a store seeded with prefs. sink may be nil.
func New(prefs models.Preferences, sink PrefsSink) *Store {
	s := &Store{sink: sink, subs: make(map[int]*subscriber), now: time.Now}

	v := &View{
		Ports:               []models.PortInfo{},
		Favorites:           toSet(prefs.Favorites),
		Watched:             toSet(prefs.Watched),
		SelectedSidebarItem: models.SidebarAll,
		TreeView:            prefs.TreeView,
	}
	v.FilteredPorts = v.Ports
	v.groups = newGroupCache(v.FilteredPorts)
	s.view.Store(v)
	return s
}

// Load returns the current view. It never blocks on writers.
func (s *Store) Load() *View {
	return s.view.Load()
}

// Subscribe registers fn to be called with published views, outside the
// writer lock. Views reach fn in version order and never older than the
// view current at subscription. fn must not write to the store. It returns
// a function that removes the subscription.
func (s *Store) Subscribe(fn func(*View)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscriber{last: s.Load().Version, fn: fn}
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// OnPrefsChange sets a hook called after each preference change that
// reaches the view, including reloads.
func (s *Store) OnPrefsChange(fn func(old, next models.Preferences)) {
	s.prefMu.Lock()
	s.onPrefs = fn
	s.prefMu.Unlock()
}

// ApplyScan publishes a successful scan and returns the views before and
// after it. A selection pointing at a vanished listener is cleared.
func (s *Store) ApplyScan(ports []models.PortInfo) (prev, next *View) {
	snapshot := append([]models.PortInfo(nil), ports...)
	if snapshot == nil {
		snapshot = []models.PortInfo{}
	}
	return s.update(func(v *View) {
		v.Ports = snapshot
		v.ScannedAt = s.now()
		v.ScanCount++
		v.LastScanErr = nil
		if v.SelectedPortID != "" {
			if _, ok := findPort(snapshot, v.SelectedPortID); !ok {
				v.SelectedPortID = ""
			}
		}
	})
}

// MarkScanFailed records a failed scan. The last good ports are kept.
func (s *Store) MarkScanFailed(err error) *View {
	_, next := s.update(func(v *View) {
		v.ScanFailures++
		v.LastScanErr = err
	})
	return next
}

// ToggleFavorite flips port's favorite status and returns the new state.
// The view is updated even when saving fails; the save error is returned.
func (s *Store) ToggleFavorite(port int) (bool, error) {
	p, err := s.changePrefs(func(p *models.Preferences) {
		p.Favorites = togglePort(p.Favorites, port)
	})
	return slices.Contains(p.Favorites, port), err
}

// ToggleWatch flips whether port is watched and returns the new state.
func (s *Store) ToggleWatch(port int) (bool, error) {
	p, err := s.changePrefs(func(p *models.Preferences) {
		p.Watched = togglePort(p.Watched, port)
	})
	return slices.Contains(p.Watched, port), err
}

// SetFilter sets the port range. Nil bounds are open. Inverted bounds are
// swapped.
func (s *Store) SetFilter(minPort, maxPort *int) {
	if minPort != nil && maxPort != nil && *minPort > *maxPort {
		minPort, maxPort = maxPort, minPort
	}
	s.update(func(v *View) {
		v.Filter = models.Filter{MinPort: copyInt(minPort), MaxPort: copyInt(maxPort)}
	})
}

// ResetFilter clears both bounds.
func (s *Store) ResetFilter() {
	s.update(func(v *View) {
		v.Filter.Reset()
	})
}

// SelectPort selects the listener with id, or clears the selection when id
// is empty. It reports false for an id not in the latest snapshot.
func (s *Store) SelectPort(id string) bool {
	ok := true
	s.update(func(v *View) {
		if id != "" {
			if _, found := findPort(v.Ports, id); !found {
				ok = false
				return
			}
		}
		v.SelectedPortID = id
	})
	return ok
}

// SelectSidebar changes the active sidebar entry.
func (s *Store) SelectSidebar(item models.SidebarItem) error {
	if !item.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSidebarItem, item)
	}
	s.update(func(v *View) {
		v.SelectedSidebarItem = item
	})
	return nil
}

// SetTreeView switches between the grouped and flat presentation.
func (s *Store) SetTreeView(enabled bool) error {
	_, err := s.changePrefs(func(p *models.Preferences) {
		p.TreeView = enabled
	})
	return err
}

// ReloadPreferences rereads the sink and publishes its preferences when
// they differ from the view's. It reports whether anything changed.
func (s *Store) ReloadPreferences() (bool, error) {
	if s.sink == nil {
		return false, nil
	}
	s.prefMu.Lock()
	defer s.prefMu.Unlock()

	p, err := s.sink.Load()
	if err != nil {
		return false, err
	}
	return s.applyPrefs(p), nil
}

// changePrefs runs change against the sink's preferences, or against the
// view's when there is no sink or the sink fails, and publishes the result.
func (s *Store) changePrefs(change func(*models.Preferences)) (models.Preferences, error) {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()

	var (
		p   models.Preferences
		err error
	)
	if s.sink != nil {
		p, err = s.sink.UpdatePreferences(change)
		if err != nil {
			log.Warn("failed to save preferences", logging.KeyError, err)
		}
	}
	if s.sink == nil || err != nil {
		p = s.Load().Preferences()
		change(&p)
	}
	p = normalizePrefs(p)
	s.applyPrefs(p)
	return p, err
}

// applyPrefs publishes p if it differs from the current preferences.
// Callers hold prefMu.
func (s *Store) applyPrefs(p models.Preferences) bool {
	p = normalizePrefs(p)
	old := s.Load().Preferences()
	if prefsEqual(old, p) {
		return false
	}
	s.update(func(v *View) {
		v.Favorites = toSet(p.Favorites)
		v.Watched = toSet(p.Watched)
		v.TreeView = p.TreeView
	})
	if s.onPrefs != nil {
		s.onPrefs(old, p)
	}
	return true
}

// update applies mutate to a copy of the current view and publishes it.
// Derived fields are recomputed before publication.
func (s *Store) update(mutate func(v *View)) (prev, next *View) {
	s.mu.Lock()
	prev = s.view.Load()
	cp := *prev
	next = &cp
	mutate(next)

	next.Version = prev.Version + 1
	next.FilteredPorts = applyFilter(next.Ports, next.Filter)
	cache := newGroupCache(next.FilteredPorts)
	if prev.groups != nil && prev.groups.fingerprint == cache.fingerprint {
		cache = prev.groups
	}
	next.groups = cache
	s.view.Store(next)
	s.mu.Unlock()

	s.notify(next)
	return prev, next
}

func (s *Store) notify(v *View) {
	s.subMu.RLock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.deliver(v)
	}
}

func toSet(ports []int) map[int]bool {
	set := make(map[int]bool, len(ports))
	for _, p := range ports {
		if p >= 1 && p <= 65535 {
			set[p] = true
		}
	}
	return set
}

func togglePort(ports []int, port int) []int {
	if i := slices.Index(ports, port); i >= 0 {
		return slices.Delete(slices.Clone(ports), i, i+1)
	}
	return append(slices.Clone(ports), port)
}

func normalizePrefs(p models.Preferences) models.Preferences {
	p.Favorites = sortedKeys(toSet(p.Favorites))
	p.Watched = sortedKeys(toSet(p.Watched))
	return p
}

func prefsEqual(a, b models.Preferences) bool {
	return a.TreeView == b.TreeView &&
		slices.Equal(a.Favorites, b.Favorites) &&
		slices.Equal(a.Watched, b.Watched)
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
