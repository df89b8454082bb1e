// Package session implements the singleton session coordinator: the single
// authoritative state machine for playback cursor, transport clock, and the
// roster of player/controller proxies.
//
// The coordinator never dispatches events itself. Every mutating method
// returns the events the caller should fan out (the control surface hands
// them to transport.Hub.Broadcast), the same
// separation the teacher keeps between Room's mutation methods and its
// BroadcastControl helper — this keeps the state machine testable without a
// live transport.
package session

import (
	"math/rand"
	"sync"
	"time"

	"aurena/event"
)

// CustomURISentinel marks a "next" request whose target is a custom URI
// rather than a catalogue ID, mirroring the original control_callback's use
// of G_MAXUINT as an out-of-band marker.
const CustomURISentinel = ^uint32(0)

// enrolSlack and frameSlack are the fixed fan-out-latency compensation
// constants from the state machine's transition table (§4.5): they are
// server-wide constants, never per-client.
const (
	enrolSlack = 250 * time.Millisecond
	// frameSlack is "one frame" of slack folded into a pause's reported
	// position; matches the ingest package's own audio frame tick (20ms).
	frameSlack = 20 * time.Millisecond
)

// Proxy is a subscriber's durable identity: it survives disconnects and is
// reattached by an exact (host, roles) match on reconnect.
type Proxy struct {
	ID            uint32
	Host          string
	Roles         event.Roles
	Volume        float64 // per-proxy multiplier, applied for players only
	Enabled       bool
	RecordEnabled bool
	RecordPath    string // assigned lazily, once capture upload begins
	Dormant       bool
}

// State is the coordinator's playback state.
type State struct {
	Cursor       uint32 // catalogue ID, or CustomURISentinel
	CursorURI    string // set when Cursor == CustomURISentinel
	HaveCursor   bool
	BaseTime     int64
	Position     int64
	Paused       bool
	MasterVolume float64
	Language     string
}

// Coordinator owns the singleton State and the proxy roster.
type Coordinator struct {
	mu    sync.RWMutex
	state State
	next  uint32
	byID  map[uint32]*Proxy

	// clockPort and nowFn let Enrol build clock-port/current-time fields and
	// are supplied by the caller instead of importing the clock package
	// directly, keeping this package transport- and clock-source-agnostic.
	clockPort int
	nowFn     func() int64

	// recordDest resolves a capture-role proxy's assigned upload destination,
	// satisfied by ingest.Coordinator.GetRecordDest. Injected rather than
	// imported directly, the same decoupling clockPort/nowFn already use.
	recordDest func(proxyID uint32) (string, error)
}

// New builds a Coordinator. clockPort is advertised in enrol events; now
// returns the server's current wall-clock time in nanoseconds (see
// clock.Provider.Now); recordDest resolves a capture proxy's upload slot and
// may be nil if recording is not wired up.
func New(clockPort int, now func() int64, recordDest func(uint32) (string, error)) *Coordinator {
	return &Coordinator{
		state:      State{MasterVolume: 0.1},
		next:       1,
		byID:       make(map[uint32]*Proxy),
		clockPort:  clockPort,
		nowFn:      now,
		recordDest: recordDest,
	}
}

// Enrol resolves a subscriber's durable identity for (host, roles), minting
// a new Proxy unless a dormant one already matches exactly, and returns the
// enrol (plus set-media, if a cursor is set) events to send to it.
func (c *Coordinator) Enrol(host string, roles event.Roles) (*Proxy, []event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.findDormant(host, roles)
	changed := false
	if p == nil {
		p = &Proxy{
			ID:      c.next,
			Host:    host,
			Roles:   roles,
			Volume:  1.0,
			Enabled: !c.state.Paused,
		}
		c.next++
		c.byID[p.ID] = p
		changed = true
	}
	p.Dormant = false

	volume := c.state.MasterVolume
	if roles.Has(event.RolePlayer) {
		volume *= p.Volume
	}

	enrolPayload := event.Payload{
		ClockPort:   c.clockPort,
		CurrentTime: c.nowFn(),
		Volume:      volume,
		Paused:      c.state.Paused,
		Enabled:     p.Enabled,
		ClientID:    p.ID,
	}
	if c.state.HaveCursor {
		if c.state.Cursor == CustomURISentinel {
			enrolPayload.ResourceURI = c.state.CursorURI
		} else {
			enrolPayload.ResourceID = c.state.Cursor
		}
	}
	events := []event.Event{event.New(event.NameEnrol, roles, enrolPayload)}
	if c.state.HaveCursor {
		events = append(events, c.setMediaEventLocked())
	}
	if changed {
		events = append(events, c.playerClientsEventLocked())
	}
	return p, events
}

// findDormant returns a dormant proxy whose host and roles match exactly,
// or nil. Exact-role matching (not a superset/subset check) is deliberate:
// the original aur-manager.c's get_client_proxy_for_client only reattaches
// a client to a proxy enrolled with the identical role set.
func (c *Coordinator) findDormant(host string, roles event.Roles) *Proxy {
	for _, p := range c.byID {
		if p.Dormant && p.Host == host && p.Roles == roles {
			return p
		}
	}
	return nil
}

// Disconnect marks a proxy dormant without removing it, so it can be
// reattached later by Enrol.
func (c *Coordinator) Disconnect(proxyID uint32) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byID[proxyID]
	if !ok || p.Dormant {
		return nil
	}
	p.Dormant = true
	return []event.Event{c.playerClientsEventLocked()}
}

func (c *Coordinator) playerClientsEventLocked() event.Event {
	var ids []uint32
	for _, p := range c.byID {
		if !p.Dormant && p.Roles.Has(event.RolePlayer) {
			ids = append(ids, p.ID)
		}
	}
	return event.New(event.NamePlayerClientsChange, event.RoleManager|event.RoleController, event.Payload{Players: ids})
}

// SetMedia points the cursor at a catalogue ID (or CustomURISentinel with a
// URI) and resets position to zero. A no-op SetMedia (same cursor) returns
// no events, satisfying the idempotence requirement.
func (c *Coordinator) SetMedia(id uint32, uri string) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.HaveCursor && c.state.Cursor == id && c.state.CursorURI == uri {
		return nil
	}
	c.state.Cursor = id
	c.state.CursorURI = uri
	c.state.HaveCursor = true
	c.state.Position = 0
	c.state.Paused = true
	c.state.BaseTime = c.nowFn() + enrolSlack.Nanoseconds()
	return []event.Event{c.setMediaEventLocked()}
}

func (c *Coordinator) setMediaEventLocked() event.Event {
	p := event.Payload{
		BaseTime: c.state.BaseTime,
		Position: c.state.Position,
		Paused:   c.state.Paused,
		Language: c.state.Language,
	}
	if c.state.Cursor == CustomURISentinel {
		p.ResourceURI = c.state.CursorURI
	} else {
		p.ResourceID = c.state.Cursor
	}
	return event.New(event.NameSetMedia, event.RolePlayer|event.RoleController, p)
}

// Next advances the cursor: to a specific catalogue ID, to a custom URI, or
// (id == 0 and uri == "") to a random entry chosen from count candidate IDs
// numbered 1..count, mirroring control_callback's RANDOM_SHUFFLE fallback.
func (c *Coordinator) Next(id uint32, uri string, count int) []event.Event {
	if uri != "" {
		return c.SetMedia(CustomURISentinel, uri)
	}
	if id == 0 {
		if count <= 0 {
			return nil
		}
		id = uint32(rand.Intn(count)) + 1
	}
	return c.SetMedia(id, "")
}

// Play resumes playback. Idempotent: a second Play while already playing is
// a no-op. base_time is recomputed so now-base_time reproduces the position
// the transport was paused (or seeked) at.
func (c *Coordinator) Play() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Paused {
		return nil
	}
	c.state.BaseTime = c.nowFn() - c.state.Position
	c.state.Position = 0
	c.state.Paused = false
	return []event.Event{event.New(event.NamePlay, event.RolePlayer|event.RoleController, event.Payload{Paused: false, BaseTime: c.state.BaseTime})}
}

// Pause halts playback. Idempotent: a second Pause while already paused is a
// no-op. position is computed from elapsed wall-clock time plus one frame of
// slack, so players that process the event a moment late still land on
// (about) the same frame the server paused at.
func (c *Coordinator) Pause() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Paused {
		return nil
	}
	c.state.Position = c.nowFn() - c.state.BaseTime + frameSlack.Nanoseconds()
	c.state.Paused = true
	return []event.Event{event.New(event.NamePause, event.RolePlayer|event.RoleController, event.Payload{Paused: true, Position: c.state.Position})}
}

// Seek repositions the cursor within the current resource. While playing,
// base_time is shifted so the transport continues to advance from the new
// position; while paused, only the stored position changes.
func (c *Coordinator) Seek(position int64) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Paused {
		c.state.Position = position
	} else {
		c.state.BaseTime = c.nowFn() - position + enrolSlack.Nanoseconds()
		c.state.Position = 0
	}
	return []event.Event{event.New(event.NameSeek, event.RolePlayer, event.Payload{Position: position, BaseTime: c.state.BaseTime})}
}

// Volume clamps and sets the master volume (clientID == 0) or a single
// proxy's individual volume, mirroring control_callback's CLAMP(0, 10).
func (c *Coordinator) Volume(clientID uint32, level float64) []event.Event {
	if level < 0 {
		level = 0
	}
	if level > 10 {
		level = 10
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if clientID == 0 {
		c.state.MasterVolume = level
		events := []event.Event{event.New(event.NameVolume, event.RoleController, event.Payload{Volume: level})}
		for _, p := range c.byID {
			if p.Dormant || !p.Roles.Has(event.RolePlayer) {
				continue
			}
			events = append(events, event.New(event.NameVolume, event.RolePlayer, event.Payload{
				ClientID: p.ID,
				Volume:   level * p.Volume,
			}))
		}
		return events
	}
	p, ok := c.byID[clientID]
	if !ok {
		return nil
	}
	p.Volume = level
	return []event.Event{
		event.New(event.NameClientVolume, event.RoleController, event.Payload{ClientID: clientID, Volume: level}),
		event.New(event.NameVolume, event.RolePlayer, event.Payload{ClientID: clientID, Volume: level * c.state.MasterVolume}),
	}
}

// SetClient toggles a proxy's playback-enabled and record-enabled flags, and
// assigns a capture-capable proxy its upload destination when recording is
// turned on.
func (c *Coordinator) SetClient(clientID uint32, enable, recordEnable bool) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byID[clientID]
	if !ok {
		return nil
	}
	p.Enabled = enable
	p.RecordEnabled = recordEnable

	setting := event.Payload{
		ClientID:      clientID,
		Enabled:       enable,
		RecordEnabled: recordEnable,
	}
	events := []event.Event{
		event.New(event.NameClientSetting, event.RoleController, setting),
		event.New(event.NameClientSetting, event.RolePlayer, setting),
	}

	if recordEnable && p.Roles.Has(event.RoleCapture) && c.recordDest != nil {
		dest, err := c.recordDest(clientID)
		if err == nil {
			p.RecordPath = dest
			events = append(events, event.New(event.NameRecord, event.RoleCapture, event.Payload{
				ClientID:   clientID,
				RecordPath: dest,
			}))
		}
	}
	return events
}

// Language sets the subtitle/audio language tag.
func (c *Coordinator) Language(tag string) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Language == tag {
		return nil
	}
	c.state.Language = tag
	return []event.Event{event.New(event.NameLanguage, event.RolePlayer, event.Payload{Language: tag})}
}

// Proxy returns a copy of the proxy registered under id, if any.
func (c *Coordinator) Proxy(id uint32) (Proxy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	if !ok {
		return Proxy{}, false
	}
	return *p, true
}

// Players returns a snapshot of every non-dormant player-role proxy, for the
// player_info endpoint's roster reply.
func (c *Coordinator) Players() []Proxy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Proxy
	for _, p := range c.byID {
		if !p.Dormant && p.Roles.Has(event.RolePlayer) {
			out = append(out, *p)
		}
	}
	return out
}

// Snapshot returns a copy of the current playback state.
func (c *Coordinator) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
