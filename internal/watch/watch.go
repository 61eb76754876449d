// Package watch detects presence changes on user-watched port numbers
// between successive snapshots.
package watch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hellotrik/port-killer/internal/logging"
	"github.com/hellotrik/port-killer/pkg/models"
)

var log = logging.L("watch")

// Kind is the direction of a presence change.
type Kind string

const (
	Appeared    Kind = "appeared"
	Disappeared Kind = "disappeared"
)

// Event reports that a watched port gained or lost its last listener.
type Event struct {
	Port int  `json:"port"`
	Kind Kind `json:"kind"`
}

func (e Event) String() string {
	return fmt.Sprintf("port %d %s", e.Port, e.Kind)
}

// Diff compares port-number presence in prev and next for the watched
// ports. Pid or address changes on a port that stays occupied produce no
// event. Events are ordered by port.
func Diff(prev, next []models.PortInfo, watched map[int]bool) []Event {
	if len(watched) == 0 {
		return nil
	}

	before := presence(prev, watched)
	after := presence(next, watched)

	var events []Event
	for port := range watched {
		switch {
		case !before[port] && after[port]:
			events = append(events, Event{Port: port, Kind: Appeared})
		case before[port] && !after[port]:
			events = append(events, Event{Port: port, Kind: Disappeared})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Port < events[j].Port })
	return events
}

func presence(ports []models.PortInfo, watched map[int]bool) map[int]bool {
	out := make(map[int]bool, len(watched))
	for _, p := range ports {
		if watched[p.Port] {
			out[p.Port] = true
		}
	}
	return out
}

// State is the tracker's mode.
type State int

const (
	Idle State = iota
	Watching
)

func (s State) String() string {
	if s == Watching {
		return "watching"
	}
	return "idle"
}

// Tracker gates Diff on whether anything is watched and logs transitions
// between Idle and Watching.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// NewTracker returns a tracker in the Idle state.
func NewTracker() *Tracker {
	return &Tracker{}
}

// State returns the current mode.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Sync moves the tracker to Watching when watchCount > 0 and back to Idle
// when it drops to zero.
func (t *Tracker) Sync(watchCount int) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := Idle
	if watchCount > 0 {
		next = Watching
	}
	if next != t.state {
		log.Info("watch state changed", "from", t.state.String(), "to", next.String(), "watched", watchCount)
		t.state = next
	}
	return t.state
}

// Observe syncs the state from watched and returns the events between prev
// and next. It emits nothing while Idle.
func (t *Tracker) Observe(prev, next []models.PortInfo, watched map[int]bool) []Event {
	if t.Sync(len(watched)) == Idle {
		return nil
	}
	events := Diff(prev, next, watched)
	for _, e := range events {
		log.Debug("watched port changed", logging.KeyPort, e.Port, "kind", string(e.Kind))
	}
	return events
}
