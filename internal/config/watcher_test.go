package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/config"
)

func writeSeedFile(t *testing.T, path, clientID string) {
	t.Helper()
	content := "genesys:\n  client_id: " + clientID + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	writeSeedFile(t, path, "client-a")

	changed := make(chan *config.Seed, 1)
	w, err := config.NewWatcher(path, func(old, new *config.Seed) {
		changed <- new
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	if w.Current().Genesys.ClientID != "client-a" {
		t.Fatalf("initial seed: got %q", w.Current().Genesys.ClientID)
	}

	time.Sleep(15 * time.Millisecond) // ensure a distinct mtime
	writeSeedFile(t, path, "client-b")

	select {
	case s := <-changed:
		if s.Genesys.ClientID != "client-b" {
			t.Fatalf("expected reloaded client-b, got %q", s.Genesys.ClientID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for seed reload")
	}
	if w.Current().Genesys.ClientID != "client-b" {
		t.Fatalf("current seed: got %q", w.Current().Genesys.ClientID)
	}
}

func TestWatcherIgnoresTouchWithoutContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	writeSeedFile(t, path, "client-a")

	changed := make(chan *config.Seed, 1)
	w, err := config.NewWatcher(path, func(old, new *config.Seed) {
		changed <- new
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(15 * time.Millisecond)
	now := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case s := <-changed:
		t.Fatalf("expected no reload callback, got %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
}
