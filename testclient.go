package main

import (
	"context"
	"log"
	"time"

	"aurena/event"
	"aurena/mirror"
)

// runTestClient connects to addr as a synthetic player, logging every
// projected state change it observes — a manual smoke-test tool for a
// running server, with no real playback pipeline behind it.
func runTestClient(ctx context.Context, addr string) {
	m := mirror.New(addr, event.RolePlayer)
	go m.Run(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last mirror.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.Snapshot()
			if snap.Cursor != last.Cursor || snap.CursorURI != last.CursorURI || snap.Paused != last.Paused || snap.Volume != last.Volume {
				log.Printf("[testclient] cursor=%d uri=%q paused=%v volume=%.2f", snap.Cursor, snap.CursorURI, snap.Paused, snap.Volume)
				last = snap
			}
		}
	}
}
