package websocket

import (
	"encoding/json"
	"time"

	"github.com/hellotrik/port-killer/internal/state"
	"github.com/hellotrik/port-killer/internal/watch"
	"github.com/hellotrik/port-killer/pkg/models"
)

// Outbound message types.
const (
	TypeSnapshot      = "snapshot"
	TypeWatchEvent    = "watch_event"
	TypeCommandResult = "command_result"
)

// Inbound command types.
const (
	CmdToggleFavorite = "toggle_favorite"
	CmdToggleWatch    = "toggle_watch"
	CmdKillPort       = "kill_port"
	CmdSetFilter      = "set_filter"
	CmdResetFilter    = "reset_filter"
	CmdSelectPort     = "select_port"
	CmdSelectSidebar  = "select_sidebar"
	CmdSetTreeView    = "set_tree_view"
	CmdRefresh        = "refresh"
)

// Command statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusPending = "pending"
)

// Command is a request from a feed client.
type Command struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandResult answers one Command.
type CommandResult struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
	Status    string `json:"status"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WatchEventMessage carries a watched port transition.
type WatchEventMessage struct {
	Type  string     `json:"type"`
	Port  int        `json:"port"`
	Kind  watch.Kind `json:"kind"`
	Title string     `json:"title"`
	Body  string     `json:"body"`
}

// Snapshot is the full state a presentation layer needs to render.
type Snapshot struct {
	Type                string                     `json:"type"`
	Version             uint64                     `json:"version"`
	Ports               []models.PortInfo          `json:"ports"`
	Groups              []models.ProcessGroup      `json:"groups,omitempty"`
	Favorites           []int                      `json:"favorites"`
	Watched             []models.WatchedPort       `json:"watched"`
	Filter              models.Filter              `json:"filter"`
	SelectedPortID      string                     `json:"selectedPortId,omitempty"`
	SelectedSidebarItem models.SidebarItem         `json:"selectedSidebarItem"`
	TreeView            bool                       `json:"treeView"`
	Counts              map[models.SidebarItem]int `json:"counts"`
	ScannedAt           time.Time                  `json:"scannedAt"`
	ScanFailures        uint64                     `json:"scanFailures"`
	LastScanError       string                     `json:"lastScanError,omitempty"`
}

// NewSnapshot renders v. Groups are only computed in tree view.
func NewSnapshot(v *state.View) Snapshot {
	s := Snapshot{
		Type:                TypeSnapshot,
		Version:             v.Version,
		Ports:               v.PortsFor(v.SelectedSidebarItem),
		Favorites:           v.FavoritePorts(),
		Watched:             v.WatchedPorts(),
		Filter:              v.Filter,
		SelectedPortID:      v.SelectedPortID,
		SelectedSidebarItem: v.SelectedSidebarItem,
		TreeView:            v.TreeView,
		Counts:              v.Counts(),
		ScannedAt:           v.ScannedAt,
		ScanFailures:        v.ScanFailures,
	}
	if v.TreeView {
		s.Groups = v.Groups()
	}
	if v.LastScanErr != nil {
		s.LastScanError = v.LastScanErr.Error()
	}
	return s
}

type portPayload struct {
	Port int `json:"port"`
}

type killPayload struct {
	ID    string `json:"id"`
	Port  int    `json:"port"`
	Force bool   `json:"force"`
}

type filterPayload struct {
	MinPort *int `json:"minPort"`
	MaxPort *int `json:"maxPort"`
}

type selectPortPayload struct {
	ID string `json:"id"`
}

type sidebarPayload struct {
	Item models.SidebarItem `json:"item"`
}

type treeViewPayload struct {
	Enabled bool `json:"enabled"`
}
