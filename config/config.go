// Package config loads Aurena's server configuration: struct defaults
// layered under an optional YAML file, with environment-variable overrides
// on top. Paths for database and playlist are resolved relative to the
// config file's own directory, the same resolution aur-config.c performs
// with make_abs_path.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds the server's tunables. Field names mirror the config file's
// [server]-equivalent keys.
type Config struct {
	Port        int    `koanf:"port"`
	RTSPPort    int    `koanf:"rtsp-port"`
	Database    string `koanf:"database"`
	Playlist    string `koanf:"playlist"`
	ClockPort   int    `koanf:"clock-port"`
	ServiceName string `koanf:"service-name"`
	UIDir       string `koanf:"ui-dir"`
}

// Defaults mirrors aur_config_init's factory values.
func Defaults() Config {
	return Config{
		Port:        5457,
		RTSPPort:    5458,
		Database:    "aurena.db",
		Playlist:    "playlist.txt",
		ClockPort:   5459,
		ServiceName: "Aurena media server",
		UIDir:       "ui",
	}
}

// Load builds a Config from defaults, an optional YAML file at path, and
// AURENA_-prefixed environment overrides (AURENA_PORT, AURENA_RTSP_PORT,
// ...). path may be empty, in which case only defaults and env apply.
//
// Database and Playlist are resolved to absolute paths relative to the
// config file's directory when they aren't already absolute, matching
// make_abs_path in the original config loader. Note this deliberately keeps
// Port and RTSPPort as two distinct fields — the original C loader has a
// copy-paste bug where the rtsp-port key is read into the same field as
// port; that bug is not reproduced here.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("AURENA_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "AURENA_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", "-")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if path != "" {
		base := filepath.Dir(path)
		cfg.Database = resolveRelative(base, cfg.Database)
		cfg.Playlist = resolveRelative(base, cfg.Playlist)
	}

	return cfg, nil
}

func resolveRelative(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
