package transport

import (
	"testing"
	"time"

	"aurena/event"
)

func TestBroadcastRespectsRoleTargeting(t *testing.T) {
	h := NewHub()
	player := newConn(KindChunked, event.RolePlayer, "h1")
	controller := newConn(KindChunked, event.RoleController, "h2")
	h.add(player)
	h.add(controller)

	h.Broadcast(event.New(event.NameVolume, event.RoleController, event.Payload{Volume: 0.5}))

	select {
	case <-controller.send:
	default:
		t.Fatal("expected controller to receive the event")
	}
	select {
	case <-player.send:
		t.Fatal("did not expect player to receive a controller-only event")
	default:
	}
}

func TestSendTargetsOneConnection(t *testing.T) {
	h := NewHub()
	a := newConn(KindSingle, event.RolePlayer, "h1")
	b := newConn(KindSingle, event.RolePlayer, "h2")
	h.add(a)
	h.add(b)

	h.Send(a.ID, event.New(event.NamePing, event.RoleAll, event.Payload{}))

	select {
	case <-a.send:
	default:
		t.Fatal("expected a to receive the event")
	}
	select {
	case <-b.send:
		t.Fatal("did not expect b to receive it")
	default:
	}
}

func TestRemoveFiresOnDisconnect(t *testing.T) {
	h := NewHub()
	var gotID string
	h.OnDisconnect = func(id string) { gotID = id }

	c := newConn(KindChunked, event.RolePlayer, "h1")
	h.add(c)
	h.remove(c)

	if gotID != c.ID {
		t.Fatalf("OnDisconnect id = %q, want %q", gotID, c.ID)
	}
	if h.Count() != 0 {
		t.Fatalf("Count = %d, want 0", h.Count())
	}
}

func TestConnAllowRateLimits(t *testing.T) {
	c := newConn(KindWebSocket, event.RoleController, "h1")
	allowed := 0
	for i := 0; i < controlRateLimit*2; i++ {
		if c.Allow() {
			allowed++
		}
	}
	if allowed > controlRateLimit {
		t.Fatalf("allowed %d requests through a burst of %d, want <= %d", allowed, controlRateLimit, controlRateLimit)
	}
}

func TestConnIdleTracksTouch(t *testing.T) {
	c := newConn(KindChunked, event.RolePlayer, "h1")
	if c.idle() > time.Second {
		t.Fatal("freshly created conn should not be idle yet")
	}
	c.touch()
	if c.idle() > time.Second {
		t.Fatal("touch should reset idle duration")
	}
}
