package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetRecordDestAllocatesMount(t *testing.T) {
	dir := t.TempDir()
	c := NewCoordinator(dir)

	dest, err := c.GetRecordDest(7)
	if err != nil {
		t.Fatalf("GetRecordDest: %v", err)
	}
	if dest != "/record/7" {
		t.Fatalf("dest = %q", dest)
	}

	if _, ok := c.Mount(7); !ok {
		t.Fatal("expected a mount to be registered for proxy 7")
	}
}

func TestGetRecordDestIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	c := NewCoordinator(dir)

	c.GetRecordDest(3)
	m1, _ := c.Mount(3)
	c.GetRecordDest(3)
	m2, _ := c.Mount(3)

	if m1 != m2 {
		t.Fatal("expected the same mount to be reused on repeat calls")
	}
}

func TestFeedFrameClampsChannel(t *testing.T) {
	dir := t.TempDir()
	c := NewCoordinator(dir)
	c.GetRecordDest(1)
	m, _ := c.Mount(1)

	m.FeedFrame(200, []byte{1, 2, 3})
	if m.pending[MaxChannels-1] == nil {
		t.Fatal("expected out-of-range channel to clamp to the last channel")
	}
	m.Stop()
}

func TestTickWritesArtefactAndStopClosesFile(t *testing.T) {
	dir := t.TempDir()
	c := NewCoordinator(dir)
	c.GetRecordDest(2)
	m, _ := c.Mount(2)

	m.FeedFrame(0, []byte{1, 2, 3})
	m.Tick()
	m.Stop()

	path := filepath.Join(dir, mountDir)
	entries, err := os.ReadDir(path)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one recording file, got %d", len(entries))
	}
	info, err := os.Stat(filepath.Join(path, entries[0].Name()))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected a non-empty OGG artefact")
	}
}

func TestReleaseStopsMount(t *testing.T) {
	dir := t.TempDir()
	c := NewCoordinator(dir)
	c.GetRecordDest(4)
	c.Release(4)

	if _, ok := c.Mount(4); ok {
		t.Fatal("expected mount to be removed after Release")
	}
}
