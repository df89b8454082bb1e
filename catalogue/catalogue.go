// Package catalogue provides the resource catalogue: a SQLite-backed index
// of playable media, keyed by integer IDs the control surface and resource
// data plane exchange instead of raw paths or URIs.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package catalogue

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrUnavailable is returned when the database cannot be opened or queried.
var ErrUnavailable = errors.New("catalogue: unavailable")

// ErrCorrupt is returned when the schema cannot be migrated to the expected
// shape.
var ErrCorrupt = errors.New("catalogue: corrupt")

// ErrNotFound is returned by Get for an unknown ID.
var ErrNotFound = errors.New("catalogue: not found")

var migrations = []string{
	// v1 — distinct directories entries are served relative to
	`CREATE TABLE IF NOT EXISTS paths (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		base_path TEXT NOT NULL UNIQUE
	)`,
	// v2 — catalogue entries; base_path_id=0 marks a verbatim URI stored in
	// filename rather than a path relative to a paths row
	`CREATE TABLE IF NOT EXISTS files (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		base_path_id INTEGER NOT NULL DEFAULT 0,
		filename     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_base_path ON files(base_path_id)`,
	`PRAGMA journal_mode=WAL`,
}

// Catalogue wraps a SQLite database and exposes resource-catalogue
// operations.
type Catalogue struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral storage (tests).
func Open(path string) (*Catalogue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[catalogue] WAL mode: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[catalogue] busy_timeout: %v (non-fatal)", err)
	}

	c := &Catalogue{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return c, nil
}

func (c *Catalogue) Close() error {
	return c.db.Close()
}

func (c *Catalogue) migrate() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := c.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := c.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
	}
	return nil
}

// isURI reports whether location should be stored verbatim rather than
// split into a base path and filename.
func isURI(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Add inserts location (an absolute local path or an http(s) URI) into the
// catalogue, upserting the owning paths row for local files, and returns its
// new catalogue ID.
func (c *Catalogue) Add(location string) (uint32, error) {
	if isURI(location) {
		res, err := c.db.Exec(
			`INSERT INTO files(base_path_id, filename) VALUES (0, ?)`, location,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: insert uri: %v", ErrUnavailable, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return uint32(id), nil
	}

	dir, base := filepath.Split(location)
	dir = filepath.Clean(dir)

	tx, err := c.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var pathID int64
	err = tx.QueryRow(`SELECT id FROM paths WHERE base_path = ?`, dir).Scan(&pathID)
	if errors.Is(err, sql.ErrNoRows) {
		res, insErr := tx.Exec(`INSERT INTO paths(base_path) VALUES (?)`, dir)
		if insErr != nil {
			return 0, fmt.Errorf("%w: insert path: %v", ErrUnavailable, insErr)
		}
		pathID, _ = res.LastInsertId()
	} else if err != nil {
		return 0, fmt.Errorf("%w: lookup path: %v", ErrUnavailable, err)
	}

	res, err := tx.Exec(
		`INSERT INTO files(base_path_id, filename) VALUES (?, ?)`, pathID, base,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert file: %v", ErrUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return uint32(id), nil
}

// Get resolves id to its absolute local path, or its verbatim URI and true
// in the second return value when it's a URI rather than a local path.
func (c *Catalogue) Get(id uint32) (location string, isURI bool, err error) {
	var basePathID int64
	var filename string
	err = c.db.QueryRow(
		`SELECT base_path_id, filename FROM files WHERE id = ?`, id,
	).Scan(&basePathID, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if basePathID == 0 {
		return filename, true, nil
	}

	var base string
	err = c.db.QueryRow(`SELECT base_path FROM paths WHERE id = ?`, basePathID).Scan(&base)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return filepath.Join(base, filename), false, nil
}

// Backup writes a consistent snapshot of the catalogue to path using
// SQLite's VACUUM INTO, the same mechanism the teacher's store.Backup uses.
func (c *Catalogue) Backup(path string) error {
	_, err := c.db.Exec(`VACUUM INTO ?`, path)
	if err != nil {
		return fmt.Errorf("%w: backup: %v", ErrUnavailable, err)
	}
	return nil
}

// Count reports how many entries the catalogue holds.
func (c *Catalogue) Count() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// ScanPlaylist imports a newline-delimited playlist file, skipping blank
// lines and '#'-prefixed comments. Each entry goes through Add and is
// committed on its own; the import as a whole is not one transaction, so an
// error part-way leaves the entries before it in the catalogue.
func (c *Catalogue) ScanPlaylist(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open playlist: %v", ErrUnavailable, err)
	}
	defer f.Close()

	var n int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !isURI(line) && !filepath.IsAbs(line) {
			line = filepath.Join(filepath.Dir(path), line)
		}
		if _, err := c.Add(line); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("%w: scan playlist: %v", ErrUnavailable, err)
	}
	return n, nil
}
