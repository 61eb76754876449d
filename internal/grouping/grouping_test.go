package grouping

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/hellotrik/port-killer/pkg/models"
)

func port(p int, pid int32, name, addr string) models.PortInfo {
	return models.PortInfo{
		ID:          models.PortID(p, addr, pid),
		Port:        p,
		PID:         pid,
		ProcessName: name,
		Address:     addr,
	}
}

func TestBuildWorkerPool(t *testing.T) {
	groups := Build([]models.PortInfo{
		port(8080, 11, "nginx", "*"),
		port(8080, 10, "nginx", "*"),
	})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].ID != 10 || groups[1].ID != 11 {
		t.Fatalf("groups not sorted by pid: %d, %d", groups[0].ID, groups[1].ID)
	}
	want := map[int32]bool{10: true, 11: true}
	for _, g := range groups {
		if !reflect.DeepEqual(g.RelatedPIDs, want) {
			t.Errorf("group %d related = %v, want %v", g.ID, g.RelatedPIDs, want)
		}
		if !g.HasRelatedProcesses() {
			t.Errorf("group %d should report related processes", g.ID)
		}
	}
}

func TestBuildSingleProcessIsOnlyRelatedToItself(t *testing.T) {
	groups := Build([]models.PortInfo{
		port(5432, 7, "postgres", "127.0.0.1"),
		port(5432, 7, "postgres", "::1"),
	})
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if len(g.Ports) != 2 {
		t.Fatalf("expected both addresses kept, got %d", len(g.Ports))
	}
	if !g.RelatedPIDs[7] || g.HasRelatedProcesses() {
		t.Fatalf("unexpected related set: %v", g.RelatedPIDs)
	}
}

func TestBuildDeduplicatesWithinGroup(t *testing.T) {
	groups := Build([]models.PortInfo{
		port(3000, 100, "node", "*"),
		port(3000, 100, "node", "*"),
		port(3001, 100, "node", "*"),
	})
	if len(groups[0].Ports) != 2 {
		t.Fatalf("expected duplicate (port, address) collapsed, got %d ports", len(groups[0].Ports))
	}
	if groups[0].Ports[0].Port != 3000 || groups[0].Ports[1].Port != 3001 {
		t.Fatalf("ports not sorted ascending: %+v", groups[0].Ports)
	}
}

func TestBuildSameNameDifferentPortsAreUnrelated(t *testing.T) {
	groups := Build([]models.PortInfo{
		port(3000, 1, "node", "*"),
		port(4000, 2, "node", "*"),
	})
	for _, g := range groups {
		if g.HasRelatedProcesses() {
			t.Errorf("group %d should not be related: %v", g.ID, g.RelatedPIDs)
		}
	}
}

func TestBuildSamePortDifferentNamesAreUnrelated(t *testing.T) {
	groups := Build([]models.PortInfo{
		port(8080, 1, "node", "127.0.0.1"),
		port(8080, 2, "python3", "::1"),
	})
	for _, g := range groups {
		if g.HasRelatedProcesses() {
			t.Errorf("group %d should not be related: %v", g.ID, g.RelatedPIDs)
		}
	}
}

func TestBuildRelationIsReflexiveAndSymmetric(t *testing.T) {
	ports := []models.PortInfo{
		port(8080, 10, "nginx", "*"),
		port(8080, 11, "nginx", "*"),
		port(8443, 11, "nginx", "*"),
		port(8443, 12, "nginx", "*"),
		port(5432, 20, "postgres", "*"),
		port(3000, 30, "node", "*"),
		port(3000, 31, "node", "::1"),
	}
	groups := Build(ports)

	related := make(map[int32]map[int32]bool)
	for _, g := range groups {
		related[g.ID] = g.RelatedPIDs
		if !g.RelatedPIDs[g.ID] {
			t.Errorf("group %d missing itself", g.ID)
		}
	}
	for a, set := range related {
		for b := range set {
			if !related[b][a] {
				t.Errorf("%d relates to %d but not the reverse", a, b)
			}
		}
	}
	// Not transitive: 10 and 12 only meet through 11 on different ports.
	if related[10][12] {
		t.Error("10 and 12 share no port and must not be related")
	}
	if !related[11][10] || !related[11][12] {
		t.Errorf("11 should relate to both 10 and 12: %v", related[11])
	}
}

func TestBuildSortOrder(t *testing.T) {
	groups := Build([]models.PortInfo{
		port(80, 5, "nginx", "*"),
		port(3000, 9, "Node", "*"),
		port(3001, 2, "node", "*"),
		port(22, 1, "launchd", "*"),
	})
	var got []int32
	for _, g := range groups {
		got = append(got, g.ID)
	}
	want := []int32{1, 5, 2, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestBuildDeterministicUnderShuffle(t *testing.T) {
	ports := []models.PortInfo{
		port(8080, 10, "nginx", "*"),
		port(8080, 11, "nginx", "*"),
		port(8080, 12, "nginx", "*"),
		port(5432, 20, "postgres", "127.0.0.1"),
		port(6379, 21, "redis-server", "*"),
		port(3000, 30, "node", "*"),
		port(3001, 30, "node", "*"),
	}
	want := Build(ports)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 25; i++ {
		shuffled := append([]models.PortInfo(nil), ports...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := Build(shuffled); !reflect.DeepEqual(got, want) {
			t.Fatalf("shuffle %d produced a different result", i)
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	if groups := Build(nil); groups == nil || len(groups) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", groups)
	}
}

func TestFingerprint(t *testing.T) {
	a := []models.PortInfo{port(3000, 1, "node", "*"), port(8080, 2, "nginx", "*")}
	b := []models.PortInfo{a[1], a[0]}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("fingerprint depends on order")
	}

	c := []models.PortInfo{port(3000, 3, "node", "*"), port(8080, 2, "nginx", "*")}
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatal("pid change on the same port must change the fingerprint")
	}

	d := []models.PortInfo{port(3000, 1, "node", "*")}
	if Fingerprint(a) == Fingerprint(d) {
		t.Fatal("removing a listener must change the fingerprint")
	}

	e := []models.PortInfo{a[0], a[1]}
	e[0].User, e[0].FD = "root", "12u"
	if Fingerprint(a) == Fingerprint(e) {
		t.Fatal("a user or fd change must change the fingerprint")
	}
	if Fingerprint(nil) != Fingerprint([]models.PortInfo{}) {
		t.Fatal("nil and empty should match")
	}
}
