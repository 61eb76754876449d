package main

import (
	"strings"
	"testing"

	"github.com/hellotrik/port-killer/internal/state"
	"github.com/hellotrik/port-killer/pkg/models"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"3000", 3000, false},
		{"1", 1, false},
		{"65535", 65535, false},
		{"0", 0, true},
		{"65536", 0, true},
		{"80abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parsePort(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parsePort(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestToggleMessage(t *testing.T) {
	tests := []struct {
		which string
		on    bool
		want  string
	}{
		{"favorite", true, "Port 80 added to favorites"},
		{"favorite", false, "Port 80 removed from favorites"},
		{"watch", true, "Watching port 80"},
		{"watch", false, "No longer watching port 80"},
	}
	for _, tt := range tests {
		if got := toggleMessage(tt.which, 80, tt.on); got != tt.want {
			t.Errorf("toggleMessage(%q, %v) = %q", tt.which, tt.on, got)
		}
	}
}

func TestRelatedPIDs(t *testing.T) {
	g := models.ProcessGroup{ID: 10, RelatedPIDs: map[int32]bool{10: true}}
	if got := relatedPIDs(g); got != "-" {
		t.Fatalf("relatedPIDs = %q", got)
	}
	g.RelatedPIDs[12] = true
	g.RelatedPIDs[11] = true
	if got := relatedPIDs(g); got != "11,12" {
		t.Fatalf("relatedPIDs = %q", got)
	}
}

func TestRenderPorts(t *testing.T) {
	s := state.New(models.Preferences{Favorites: []int{3000}}, nil)
	s.ApplyScan([]models.PortInfo{{
		ID: models.PortID(3000, "*", 42), Port: 3000, PID: 42,
		ProcessName: "node", Address: "*", ProcessType: models.ProcessTypeDevelopment,
	}})
	v := s.Load()

	out := renderPorts(v, v.Ports)
	for _, want := range []string{"PORT", "3000", "node", "Development", "★"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if got := renderPorts(v, nil); got != "No listening ports." {
		t.Fatalf("empty render = %q", got)
	}

	groups := renderGroups(v, groupsFor(v, v.Ports))
	if !strings.Contains(groups, ":3000★") {
		t.Fatalf("group table missing port:\n%s", groups)
	}
}
