package discovery

import "testing"

func TestPublishUsesAurenaServiceType(t *testing.T) {
	if serviceType != "_aurena._tcp" {
		t.Fatalf("serviceType = %q, want _aurena._tcp", serviceType)
	}
}

func TestPublishAndShutdown(t *testing.T) {
	r, err := Publish("aurena-test", 15457)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	defer r.Shutdown()

	if r.Name() != "aurena-test" {
		t.Fatalf("Name() = %q", r.Name())
	}
}
