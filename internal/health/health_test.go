package health

import (
	"sync"
	"testing"
	"time"
)

func TestEmptyMonitorIsUnknown(t *testing.T) {
	m := NewMonitor()
	if got := m.Overall(); got != Unknown {
		t.Fatalf("Overall() on empty monitor = %q, want %q", got, Unknown)
	}
	s := m.Summary()
	if s.Status != Unknown || len(s.Components) != 0 {
		t.Fatalf("Summary = %+v", s)
	}
}

func TestRegisterStartsUnknown(t *testing.T) {
	m := NewMonitor()
	m.Register(ComponentScanner, ComponentFeed)
	m.Update(ComponentFeed, Healthy, "")
	m.Register(ComponentFeed)

	if c, _ := m.Get(ComponentScanner); c.Status != Unknown {
		t.Fatalf("scanner = %q, want unknown", c.Status)
	}
	if c, _ := m.Get(ComponentFeed); c.Status != Healthy {
		t.Fatal("Register must not reset an existing check")
	}
	if m.Overall() != Unknown {
		t.Fatal("an unreported component keeps the overall status unknown")
	}
}

func TestOverallReturnsWorstStatus(t *testing.T) {
	tests := []struct {
		statuses []Status
		want     Status
	}{
		{[]Status{Healthy, Healthy}, Healthy},
		{[]Status{Healthy, Degraded, Healthy}, Degraded},
		{[]Status{Degraded, Unhealthy}, Unhealthy},
		{[]Status{Unhealthy, Unknown}, Unknown},
	}
	for _, tt := range tests {
		m := NewMonitor()
		for i, s := range tt.statuses {
			m.Update(string(rune('a'+i)), s, "")
		}
		if got := m.Overall(); got != tt.want {
			t.Errorf("Overall(%v) = %q, want %q", tt.statuses, got, tt.want)
		}
	}
}

func TestUpdateCoercesInvalidStatus(t *testing.T) {
	m := NewMonitor()
	m.Update(ComponentScanner, Status("great"), "")
	if c, _ := m.Get(ComponentScanner); c.Status != Unknown {
		t.Fatalf("invalid status stored as %q, want unknown", c.Status)
	}
}

func TestSinceTracksTransitions(t *testing.T) {
	m := NewMonitor()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	m.Update(ComponentScanner, Degraded, "timeout")
	first, _ := m.Get(ComponentScanner)

	clock = clock.Add(time.Minute)
	m.Update(ComponentScanner, Degraded, "timeout again")
	same, _ := m.Get(ComponentScanner)
	if !same.Since.Equal(first.Since) || !same.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("repeated status should keep Since: %+v", same)
	}
	if same.Message != "timeout again" {
		t.Fatalf("message not updated: %q", same.Message)
	}

	clock = clock.Add(time.Minute)
	m.Update(ComponentScanner, Healthy, "")
	recovered, _ := m.Get(ComponentScanner)
	if !recovered.Since.Equal(clock) {
		t.Fatal("a status change should reset Since")
	}
}

func TestSummaryIsSortedAndConsistent(t *testing.T) {
	m := NewMonitor()
	m.Update(ComponentTunnels, Healthy, "")
	m.Update(ComponentFeed, Degraded, "client limit reached")
	m.Update(ComponentScanner, Healthy, "")

	s := m.Summary()
	if s.Status != Degraded {
		t.Fatalf("status = %q", s.Status)
	}
	names := []string{s.Components[0].Name, s.Components[1].Name, s.Components[2].Name}
	if names[0] != ComponentFeed || names[1] != ComponentScanner || names[2] != ComponentTunnels {
		t.Fatalf("components not sorted: %v", names)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Update(ComponentScanner, Healthy, "")
			} else {
				m.Update(ComponentScanner, Degraded, "slow")
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = m.Summary()
		}()
	}
	wg.Wait()
	if _, ok := m.Get(ComponentScanner); !ok {
		t.Fatal("scanner check missing")
	}
}
