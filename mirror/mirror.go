// Package mirror implements Aurena's client-side mirror library: a
// reusable subscriber that connects to a coordinator, slaves a clock,
// projects decoded events onto local state, and maps that state onto the
// transport position a media pipeline should be driving toward.
//
// Embedding code (a real player) only needs to read TransportPosition;
// decode/render itself stays an external collaborator.
package mirror

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aurena/clock"
	"aurena/event"
)

// reconnectBackoff is the fixed delay between reconnect attempts.
const reconnectBackoff = 1 * time.Second

// prerollMargin is the lead the coordinator normally gives between a
// set-media or seek and its base_time. TransportPosition reports preroll for
// any time before base_time and logs when base_time lies further ahead than
// this margin.
const prerollMargin = 250 * time.Millisecond

// Mirror is a live projection of coordinator state plus the clock offset
// needed to translate BaseTime into local wall-clock terms.
type Mirror struct {
	addr  string
	roles event.Roles

	mu          sync.RWMutex
	cursor      uint32
	cursorURI   string
	haveCursor  bool
	baseTime    int64
	position    int64
	paused      bool
	volume      float64
	language    string
	players     []uint32
	clockOffset int64

	clockClient *clock.Client
}

// New builds a Mirror that will connect to addr (host:port) declaring
// roles.
func New(addr string, roles event.Roles) *Mirror {
	return &Mirror{addr: addr, roles: roles}
}

// Run connects and reconnects to the coordinator until ctx is canceled,
// backing off reconnectBackoff between attempts.
func (m *Mirror) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.runOnce(ctx); err != nil {
			log.Printf("[mirror] connection to %s: %v", m.addr, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (m *Mirror) runOnce(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: m.addr, Path: "/client/events", RawQuery: "roles=" + rolesQuery(m.roles)}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		e, err := event.Decode(data)
		if err != nil {
			continue
		}
		m.apply(e)
	}
}

func rolesQuery(r event.Roles) string {
	var parts []string
	if r.Has(event.RolePlayer) {
		parts = append(parts, "player")
	}
	if r.Has(event.RoleController) {
		parts = append(parts, "controller")
	}
	if r.Has(event.RoleCapture) {
		parts = append(parts, "capture")
	}
	if r.Has(event.RoleManager) {
		parts = append(parts, "manager")
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "-"
		}
		out += p
	}
	return out
}

func (m *Mirror) apply(e event.Event) {
	p := e.Payload()
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.Name() {
	case event.NameEnrol:
		m.baseTime = p.BaseTime
		m.paused = p.Paused
		m.volume = p.Volume
		if p.ClockPort != 0 && m.clockClient == nil {
			if c, err := clock.Dial(hostOf(m.addr) + ":" + strconv.Itoa(p.ClockPort)); err == nil {
				m.clockClient = c
				if offset, _, err := c.Query(); err == nil {
					m.clockOffset = offset
				}
			}
		}
	case event.NameSetMedia:
		if p.ResourceID != 0 {
			m.cursor, m.haveCursor = p.ResourceID, true
		}
		if p.ResourceURI != "" {
			m.cursorURI, m.haveCursor = p.ResourceURI, true
		}
		m.baseTime = p.BaseTime
		m.position = p.Position
	case event.NamePlay:
		m.paused = false
		m.baseTime = p.BaseTime
	case event.NamePause:
		m.paused = true
		m.position = p.Position
	case event.NameSeek:
		m.baseTime = p.BaseTime
		m.position = p.Position
	case event.NameVolume:
		m.volume = p.Volume
	case event.NameLanguage:
		m.language = p.Language
	case event.NamePlayerClientsChange:
		m.players = p.Players
	}
}

// Snapshot is the locally projected state, read without blocking on the
// network.
type Snapshot struct {
	Cursor     uint32
	CursorURI  string
	HaveCursor bool
	BaseTime   int64
	Position   int64
	Paused     bool
	Volume     float64
	Language   string
	Players    []uint32
}

func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Cursor: m.cursor, CursorURI: m.cursorURI, HaveCursor: m.haveCursor,
		BaseTime: m.baseTime, Position: m.position, Paused: m.paused,
		Volume: m.volume, Language: m.language, Players: m.players,
	}
}

// TransportPosition returns the position a media pipeline should be
// presenting right now and whether base_time still lies in the future
// (preroll, in which case the pipeline should hold at position zero rather
// than seek). localNow is the local wall-clock time; it is translated into
// the coordinator's timebase via the clock offset learned at enrolment.
func (m *Mirror) TransportPosition(localNow int64) (pos time.Duration, preroll bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	serverNow := localNow + m.clockOffset
	if m.paused {
		return time.Duration(m.position), false
	}
	elapsed := serverNow - m.baseTime
	if elapsed < 0 {
		if -elapsed > int64(prerollMargin) {
			log.Printf("[mirror] base_time is %s in the future, beyond the preroll window", time.Duration(-elapsed))
		}
		return 0, true
	}
	return time.Duration(elapsed), false
}

func hostOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

