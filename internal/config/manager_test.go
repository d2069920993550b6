package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const managerConfig = `
server:
  port: 8080
providers:
  - id: local
    type: mock
`

func TestManagerStatus(t *testing.T) {
	path := writeConfigFile(t, managerConfig)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	status := mgr.Status()
	if status.Path != path {
		t.Fatalf("Status().Path = %q, want %q", status.Path, path)
	}
	if status.Checksum == "" {
		t.Fatal("Status().Checksum is empty")
	}
	if status.LoadedAt.IsZero() {
		t.Fatal("Status().LoadedAt is zero")
	}
	if status.ReloadCount == 0 {
		t.Fatal("Status().ReloadCount should be > 0")
	}
}

func TestManagerReloadNotifiesListeners(t *testing.T) {
	path := writeConfigFile(t, managerConfig)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var notified *Config
	mgr.OnChange(func(c *Config) { notified = c })
	before := mgr.Status()

	if err := os.WriteFile(path, []byte(`
server:
  port: 8080
providers:
  - id: local
    type: mock
    status: maintenance
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	after := mgr.Status()
	if after.Checksum == before.Checksum {
		t.Fatal("expected checksum to change after reload")
	}
	if after.ReloadCount != before.ReloadCount+1 {
		t.Fatalf("expected reload count %d, got %d", before.ReloadCount+1, after.ReloadCount)
	}
	if notified == nil || notified.Providers[0].Status != "maintenance" {
		t.Fatalf("listener not notified with new config: %+v", notified)
	}
}

func TestManagerReloadKeepsConfigOnError(t *testing.T) {
	path := writeConfigFile(t, managerConfig)
	mgr, err := NewManager(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("server: [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if mgr.Get().Providers[0].ID != "local" {
		t.Fatal("current config should be kept")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
