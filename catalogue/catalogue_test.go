package catalogue

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddAndGetLocalFile(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	id, err := c.Add("/media/music/song.flac")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	loc, isURI, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if isURI {
		t.Fatal("expected a local path, got a URI")
	}
	if loc != "/media/music/song.flac" {
		t.Fatalf("loc = %q", loc)
	}
}

func TestAddURI(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	id, err := c.Add("http://example.lan/stream.mp3")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	loc, isURI, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !isURI {
		t.Fatal("expected a URI")
	}
	if loc != "http://example.lan/stream.mp3" {
		t.Fatalf("loc = %q", loc)
	}
}

func TestGetUnknownID(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, _, err := c.Get(999); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSharedBasePath(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	id1, _ := c.Add("/media/music/a.flac")
	id2, _ := c.Add("/media/music/b.flac")
	if id1 == id2 {
		t.Fatal("expected distinct file IDs")
	}

	var pathCount int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM paths`).Scan(&pathCount); err != nil {
		t.Fatalf("query paths: %v", err)
	}
	if pathCount != 1 {
		t.Fatalf("expected one shared paths row, got %d", pathCount)
	}
}

func TestBackup(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	c.Add("/media/a.flac")

	dst := filepath.Join(t.TempDir(), "backup.db")
	if err := c.Backup(dst); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
}

func TestScanPlaylist(t *testing.T) {
	dir := t.TempDir()
	playlist := filepath.Join(dir, "playlist.txt")
	content := "a.flac\n# a comment\n\nhttp://example.lan/b.mp3\n"
	if err := os.WriteFile(playlist, []byte(content), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	n, err := c.ScanPlaylist(playlist)
	if err != nil {
		t.Fatalf("ScanPlaylist: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported %d entries, want 2", n)
	}
	count, err := c.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("Count = %d", count)
	}
}
