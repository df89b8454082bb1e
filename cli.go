package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/knadh/koanf/parsers/yaml"

	"aurena/catalogue"
	"aurena/config"
)

// settingsFile is the cwd-relative settings override file cliSettings'
// "set" subcommand writes to, the same cwd-relative convention cliBackup
// uses for its default output path.
const settingsFile = "aurena.yaml"

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("aurenad %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "catalogue":
		return cliCatalogue(args[1:], dbPath)
	case "settings":
		return cliSettings(args[1:], dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	case "testclient":
		return cliTestClient(args[1:])
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	cat, err := catalogue.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening catalogue: %v\n", err)
		os.Exit(1)
	}
	defer cat.Close()

	n, err := cat.Count()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Catalogue entries: %d\n", n)
	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("Database size: %s\n", humanize.Bytes(uint64(info.Size())))
	}
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliCatalogue(args []string, dbPath string) bool {
	cat, err := catalogue.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening catalogue: %v\n", err)
		os.Exit(1)
	}
	defer cat.Close()

	if len(args) == 0 || args[0] == "list" {
		n, err := cat.Count()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		for i := uint32(1); i <= uint32(n); i++ {
			loc, isURI, err := cat.Get(i)
			if err != nil {
				continue
			}
			kind := "file"
			if isURI {
				kind = "uri"
			}
			fmt.Printf("  [%d] (%s) %s\n", i, kind, loc)
		}
		return true
	}

	if args[0] == "add" && len(args) > 1 {
		id, err := cat.Add(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error adding entry: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added %q (id=%d)\n", args[1], id)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: aurenad catalogue [list|add <path-or-uri>]\n")
	os.Exit(1)
	return true
}

func cliSettings(args []string, dbPath string) bool {
	_ = dbPath
	if len(args) == 0 || args[0] == "list" {
		cfg, err := config.Load(settingsPathIfPresent())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("port: %d\n", cfg.Port)
		fmt.Printf("rtsp-port: %d\n", cfg.RTSPPort)
		fmt.Printf("database: %s\n", cfg.Database)
		fmt.Printf("playlist: %s\n", cfg.Playlist)
		fmt.Printf("clock-port: %d\n", cfg.ClockPort)
		fmt.Printf("service-name: %s\n", cfg.ServiceName)
		fmt.Printf("ui-dir: %s\n", cfg.UIDir)
		return true
	}

	if args[0] == "get" && len(args) > 1 {
		cfg, err := config.Load(settingsPathIfPresent())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		val, ok := settingValue(cfg, args[1])
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown setting %q\n", args[1])
			os.Exit(1)
		}
		fmt.Println(val)
		return true
	}

	if args[0] == "set" && len(args) > 2 {
		if err := setConfigValue(args[1], args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s = %s (written to %s)\n", args[1], args[2], settingsFile)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: aurenad settings [list|get <key>|set <key> <value>]\n")
	os.Exit(1)
	return true
}

// settingsPathIfPresent returns settingsFile if it exists in the working
// directory, or "" so config.Load falls back to defaults plus environment.
func settingsPathIfPresent() string {
	if _, err := os.Stat(settingsFile); err == nil {
		return settingsFile
	}
	return ""
}

// settingValue reads a single named field off the already-resolved Config,
// mirroring the field list cliSettings' "list" branch prints.
func settingValue(cfg config.Config, key string) (string, bool) {
	switch key {
	case "port":
		return strconv.Itoa(cfg.Port), true
	case "rtsp-port":
		return strconv.Itoa(cfg.RTSPPort), true
	case "database":
		return cfg.Database, true
	case "playlist":
		return cfg.Playlist, true
	case "clock-port":
		return strconv.Itoa(cfg.ClockPort), true
	case "service-name":
		return cfg.ServiceName, true
	case "ui-dir":
		return cfg.UIDir, true
	default:
		return "", false
	}
}

// setConfigValue persists a single key=value override into settingsFile,
// round-tripping the existing file (if any) through koanf's YAML parser
// rather than the full koanf.Koanf object, since a bare map[string]interface{}
// merge is all a single-key update needs.
func setConfigValue(key, value string) error {
	parser := yaml.Parser()

	doc := map[string]interface{}{}
	if buf, err := os.ReadFile(settingsFile); err == nil {
		parsed, err := parser.Unmarshal(buf)
		if err != nil {
			return fmt.Errorf("parse %s: %w", settingsFile, err)
		}
		doc = parsed
	}

	doc[key] = value

	out, err := parser.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", settingsFile, err)
	}
	if err := os.WriteFile(settingsFile, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", settingsFile, err)
	}
	return nil
}

func cliTestClient(args []string) bool {
	addr := "127.0.0.1:5457"
	if len(args) > 0 {
		addr = args[0]
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	runTestClient(ctx, addr)
	return true
}

func cliBackup(args []string, dbPath string) bool {
	cat, err := catalogue.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening catalogue: %v\n", err)
		os.Exit(1)
	}
	defer cat.Close()

	outPath := "aurena-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := cat.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}
