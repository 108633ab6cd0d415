package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.StorePath == "" {
		t.Error("expected a default store path")
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("sync interval = %v, want 5m", cfg.SyncInterval)
	}
	if cfg.RemoteURL != "" {
		t.Errorf("remote URL should default empty, got %q", cfg.RemoteURL)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kayedejour.yaml")

	content := `store_path: /tmp/kj-test.db
remote_url: https://example.test/rest/v1
api_key: anon
sync_interval: 90s
import_dir: /tmp/kj-drop
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.StorePath != "/tmp/kj-test.db" {
		t.Errorf("store path = %q", cfg.StorePath)
	}
	if cfg.RemoteURL != "https://example.test/rest/v1" {
		t.Errorf("remote URL = %q", cfg.RemoteURL)
	}
	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("sync interval = %v, want 90s", cfg.SyncInterval)
	}
	if cfg.ImportDir != "/tmp/kj-drop" {
		t.Errorf("import dir = %q", cfg.ImportDir)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KJ_REMOTE_URL", "https://env.test/rest/v1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RemoteURL != "https://env.test/rest/v1" {
		t.Errorf("remote URL = %q, want env value", cfg.RemoteURL)
	}
}

func TestLoadNonPositiveIntervalFixed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kayedejour.yaml")
	if err := os.WriteFile(path, []byte("sync_interval: 0s\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("sync interval = %v, want the 5m fallback", cfg.SyncInterval)
	}
}
