// Package discovery implements Aurena's discovery responder: it advertises
// the coordinator over mDNS as a "_aurena._tcp" service so players and
// controllers on the same LAN can find it without a configured address.
//
// Grounded on aur-avahi.c: the service type string is kept verbatim, and a
// name collision is handled the same way — append a numeric suffix and
// retry — rather than failing outright.
package discovery

import (
	"fmt"
	"log"

	"github.com/hashicorp/mdns"
)

const serviceType = "_aurena._tcp"

// Responder advertises one Aurena service instance.
type Responder struct {
	server *mdns.Server
	name   string
	port   int
}

// Publish advertises name on port, retrying with an incrementing numeric
// suffix whenever creating the service record or the mDNS server fails —
// modelled on entry_group_callback's AVAHI_ENTRY_GROUP_COLLISION handling.
func Publish(name string, port int) (*Responder, error) {
	r := &Responder{name: name, port: port}
	if err := r.publish(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Responder) publish() error {
	const maxAttempts = 16
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		name := r.name
		if attempt > 0 {
			name = fmt.Sprintf("%s (%d)", r.name, attempt+1)
		}

		svc, err := mdns.NewMDNSService(name, serviceType, "", "", r.port, nil, nil)
		if err != nil {
			lastErr = err
			continue
		}
		server, err := mdns.NewServer(&mdns.Config{Zone: svc})
		if err != nil {
			lastErr = err
			log.Printf("[discovery] name %q unavailable, retrying: %v", name, err)
			continue
		}
		r.server = server
		r.name = name
		log.Printf("[discovery] advertising %q (%s) on port %d", name, serviceType, r.port)
		return nil
	}
	return fmt.Errorf("discovery: publish %q after %d attempts: %w", r.name, maxAttempts, lastErr)
}

// Name reports the service instance name actually in effect, which may
// carry a numeric suffix if the original name collided.
func (r *Responder) Name() string { return r.name }

// Shutdown withdraws the advertisement.
func (r *Responder) Shutdown() error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown()
}
