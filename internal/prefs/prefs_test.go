package prefs

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hellotrik/port-killer/internal/state"
	"github.com/hellotrik/port-killer/pkg/models"
)

func TestLoadMissingFile(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "nope", "preferences.yaml"))
	p, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.TreeView || len(p.Favorites) != 0 || len(p.Watched) != 0 {
		t.Fatalf("expected zero preferences, got %+v", p)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "preferences.yaml")
	f := NewFile(path)

	in := models.Preferences{TreeView: true, Favorites: []int{8080, 3000, 3000, 0}, Watched: []int{5432}}
	saved, err := f.UpdatePreferences(func(p *models.Preferences) { *p = in })
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if !reflect.DeepEqual(saved.Favorites, []int{3000, 8080}) {
		t.Fatalf("saved favorites = %v", saved.Favorites)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "tree_view: true") {
		t.Fatalf("unexpected yaml:\n%s", data)
	}

	out, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := models.Preferences{TreeView: true, Favorites: []int{3000, 8080}, Watched: []int{5432}}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("Load = %+v, want %+v", out, want)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".preferences-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadHandWrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	body := "tree_view: false\nfavorites: [22, 70000, 443]\nwatched:\n  - 3000\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewFile(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(p.Favorites, []int{22, 443}) || !reflect.DeepEqual(p.Watched, []int{3000}) {
		t.Fatalf("unexpected preferences: %+v", p)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	if err := os.WriteFile(path, []byte("favorites: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStoresSharingAFileKeepEachOthersChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	daemonFile, cliFile := NewFile(path), NewFile(path)
	daemon := state.New(models.Preferences{}, daemonFile)
	cli := state.New(models.Preferences{}, cliFile)

	if on, err := cli.ToggleWatch(3000); !on || err != nil {
		t.Fatalf("cli ToggleWatch: %v, %v", on, err)
	}
	if on, err := daemon.ToggleFavorite(80); !on || err != nil {
		t.Fatalf("daemon ToggleFavorite: %v, %v", on, err)
	}

	got, err := NewFile(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := models.Preferences{Favorites: []int{80}, Watched: []int{3000}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("file = %+v, want %+v", got, want)
	}
	if !daemon.Load().IsWatched(3000) {
		t.Fatal("daemon should see the watch written by the other store")
	}

	if _, err := cli.ToggleFavorite(443); err != nil {
		t.Fatalf("cli ToggleFavorite: %v", err)
	}
	if changed, err := daemon.ReloadPreferences(); err != nil || !changed {
		t.Fatalf("ReloadPreferences: changed=%v err=%v", changed, err)
	}
	if !daemon.Load().IsFavorite(443) || !daemon.Load().IsFavorite(80) {
		t.Fatalf("daemon favorites = %v", daemon.Load().FavoritePorts())
	}
}

func TestConcurrentUpdatesFromSeparateFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			if _, err := NewFile(path).UpdatePreferences(func(p *models.Preferences) {
				p.Watched = append(p.Watched, port)
			}); err != nil {
				t.Errorf("UpdatePreferences: %v", err)
			}
		}(i)
	}
	wg.Wait()

	p, err := NewFile(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(p.Watched) != 20 {
		t.Fatalf("watched = %v, want 20 ports", p.Watched)
	}
}

func TestWatchReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	f := NewFile(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 16)
	if err := f.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if _, err := NewFile(path).UpdatePreferences(func(p *models.Preferences) { p.TreeView = true }); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported after the file was replaced")
	}
}
