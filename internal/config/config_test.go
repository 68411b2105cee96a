package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8765" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data, _ := json.Marshal(map[string]any{"server": map[string]any{"addr": ":9999"}})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("expected file override, got %q", cfg.Server.Addr)
	}
	if cfg.Search.LexicalWeight != 0.45 {
		t.Fatalf("expected unset fields to keep their defaults, got %v", cfg.Search.LexicalWeight)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("OPENCODEMEM_ADDR", ":7777")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Fatalf("expected env override, got %q", cfg.Server.Addr)
	}
}

func TestExpandHome_ExpandsTilde(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := expandHome("~/opencodemem")
	want := filepath.Join(home, "opencodemem")
	if got != want {
		t.Fatalf("expandHome: got %q want %q", got, want)
	}
}
