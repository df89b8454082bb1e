package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5457 {
		t.Fatalf("Port = %d", cfg.Port)
	}
	if cfg.RTSPPort == cfg.Port {
		t.Fatalf("expected Port and RTSPPort to be distinct fields, both = %d", cfg.Port)
	}
}

func TestLoadFromFileResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "aurena.yaml")
	content := "port: 9000\nrtsp-port: 9001\ndatabase: data/aurena.db\nplaylist: data/playlist.txt\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("Port = %d", cfg.Port)
	}
	if cfg.RTSPPort != 9001 {
		t.Fatalf("RTSPPort = %d, want 9001 (not clobbered into Port)", cfg.RTSPPort)
	}
	want := filepath.Join(dir, "data/aurena.db")
	if cfg.Database != want {
		t.Fatalf("Database = %q, want %q", cfg.Database, want)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AURENA_PORT", "7000")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7000 {
		t.Fatalf("Port = %d, want 7000 from env override", cfg.Port)
	}
}
