package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	root := t.TempDir()

	cfg, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.WorkspaceRoot != root {
		t.Errorf("WorkspaceRoot = %s, want %s", cfg.WorkspaceRoot, root)
	}
	if cfg.API.Addr != "127.0.0.1:8050" {
		t.Errorf("unexpected default addr: %s", cfg.API.Addr)
	}
	if cfg.Watcher.DebounceMs != 2000 {
		t.Errorf("unexpected default debounce: %d", cfg.Watcher.DebounceMs)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".sdx")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	content := `{
		"version": 1,
		"dataRoot": "raw",
		"optimizationRoot": "raw/optimization",
		"api": {"addr": "0.0.0.0:9000"},
		"watcher": {"enabled": false, "debounceMs": 500}
	}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.DataRoot != "raw" {
		t.Errorf("DataRoot = %s, want raw", cfg.DataRoot)
	}
	if cfg.API.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %s, want 0.0.0.0:9000", cfg.API.Addr)
	}
	if cfg.Watcher.Enabled {
		t.Error("watcher should be disabled")
	}
	if cfg.Watcher.DebounceMs != 500 {
		t.Errorf("DebounceMs = %d, want 500", cfg.Watcher.DebounceMs)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.WorkspaceRoot = root
	cfg.DataRoot = "experiments"
	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.DataRoot != "experiments" {
		t.Errorf("DataRoot = %s, want experiments", loaded.DataRoot)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	bad := DefaultConfig()
	bad.DataRoot = ""
	if err := bad.Validate(); err == nil {
		t.Error("empty data root should fail validation")
	}

	bad = DefaultConfig()
	bad.Watcher.DebounceMs = -1
	if err := bad.Validate(); err == nil {
		t.Error("negative debounce should fail validation")
	}
}

func TestAbsRoots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkspaceRoot = "/srv/sdx"
	cfg.DataRoot = "data"

	if got := cfg.AbsDataRoot(); got != filepath.Join("/srv/sdx", "data") {
		t.Errorf("AbsDataRoot = %s", got)
	}

	cfg.DataRoot = "/mnt/nas/data"
	if got := cfg.AbsDataRoot(); got != "/mnt/nas/data" {
		t.Errorf("absolute DataRoot must pass through, got %s", got)
	}
}
