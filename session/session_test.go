package session

import (
	"testing"

	"aurena/event"
)

func newTestCoordinator() *Coordinator {
	return New(5459, func() int64 { return 42 }, nil)
}

func TestEnrolMintsNewProxy(t *testing.T) {
	c := newTestCoordinator()
	p, events := c.Enrol("10.0.0.5", event.RolePlayer)
	if p.ID != 1 {
		t.Fatalf("ID = %d, want 1", p.ID)
	}
	if len(events) == 0 || events[0].Name() != event.NameEnrol {
		t.Fatalf("expected an enrol event first, got %+v", events)
	}
}

func TestEnrolReattachesDormantProxyOnExactRoleMatch(t *testing.T) {
	c := newTestCoordinator()
	p1, _ := c.Enrol("10.0.0.5", event.RolePlayer)
	c.Disconnect(p1.ID)

	p2, _ := c.Enrol("10.0.0.5", event.RolePlayer)
	if p2.ID != p1.ID {
		t.Fatalf("expected reattachment to proxy %d, got %d", p1.ID, p2.ID)
	}
}

func TestEnrolDoesNotReattachOnRoleMismatch(t *testing.T) {
	c := newTestCoordinator()
	p1, _ := c.Enrol("10.0.0.5", event.RolePlayer)
	c.Disconnect(p1.ID)

	p2, _ := c.Enrol("10.0.0.5", event.RolePlayer|event.RoleCapture)
	if p2.ID == p1.ID {
		t.Fatal("did not expect reattachment across a role-set mismatch")
	}
}

func TestPauseIsIdempotent(t *testing.T) {
	c := newTestCoordinator()
	first := c.Pause()
	if len(first) != 1 {
		t.Fatalf("expected one event from first pause, got %d", len(first))
	}
	second := c.Pause()
	if len(second) != 0 {
		t.Fatalf("expected no event from redundant pause, got %d", len(second))
	}
}

func TestPlayIsIdempotent(t *testing.T) {
	c := newTestCoordinator()
	c.Pause()
	if len(c.Play()) != 1 {
		t.Fatal("expected one event from play")
	}
	if len(c.Play()) != 0 {
		t.Fatal("expected no event from redundant play")
	}
}

func TestSetMediaNoOpWhenUnchanged(t *testing.T) {
	c := newTestCoordinator()
	first := c.SetMedia(3, "")
	if len(first) != 1 {
		t.Fatalf("expected one event, got %d", len(first))
	}
	second := c.SetMedia(3, "")
	if len(second) != 0 {
		t.Fatalf("expected no-op on unchanged cursor, got %d events", len(second))
	}
}

func TestVolumeClampsToTenRange(t *testing.T) {
	c := newTestCoordinator()
	c.Volume(0, 15)
	if c.Snapshot().MasterVolume != 10 {
		t.Fatalf("MasterVolume = %v, want clamped to 10", c.Snapshot().MasterVolume)
	}
	c.Volume(0, -1)
	if c.Snapshot().MasterVolume != 0 {
		t.Fatalf("MasterVolume = %v, want clamped to 0", c.Snapshot().MasterVolume)
	}
}

func TestEnrolVolumeScalesForPlayersNotControllers(t *testing.T) {
	c := newTestCoordinator()
	c.Volume(0, 0.5)

	_, playerEvents := c.Enrol("10.0.0.1", event.RolePlayer)
	if playerEvents[0].Payload().Volume != 0.5 {
		t.Fatalf("player enrol volume = %v, want 0.5", playerEvents[0].Payload().Volume)
	}

	_, controllerEvents := c.Enrol("10.0.0.2", event.RoleController)
	if controllerEvents[0].Payload().Volume != 0.5 {
		t.Fatalf("controller enrol volume = %v, want 0.5 (unscaled master)", controllerEvents[0].Payload().Volume)
	}
}

func TestNextRandomFallback(t *testing.T) {
	c := newTestCoordinator()
	events := c.Next(0, "", 5)
	if len(events) != 1 {
		t.Fatalf("expected one set-media event, got %d", len(events))
	}
	id := events[0].Payload().ResourceID
	if id < 1 || id > 5 {
		t.Fatalf("random id = %d, want in [1,5]", id)
	}
}

func TestNextCustomURI(t *testing.T) {
	c := newTestCoordinator()
	events := c.Next(0, "http://example.lan/custom.mp3", 5)
	if len(events) != 1 {
		t.Fatal("expected one event")
	}
	if events[0].Payload().ResourceURI != "http://example.lan/custom.mp3" {
		t.Fatalf("ResourceURI = %q", events[0].Payload().ResourceURI)
	}
}

func TestDisconnectUnknownProxyIsNoOp(t *testing.T) {
	c := newTestCoordinator()
	if events := c.Disconnect(999); events != nil {
		t.Fatalf("expected nil for unknown proxy, got %+v", events)
	}
}
