// Package event defines Aurena's typed, role-scoped message model and its
// line-delimited JSON wire encoding.
package event

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
)

// Roles is a bitmask over the connection roles a subscriber may declare.
type Roles uint8

const (
	RoleManager Roles = 1 << iota
	RoleController
	RolePlayer
	RoleCapture

	RoleAll = RoleManager | RoleController | RolePlayer | RoleCapture
)

// ParseRoles decodes a comma-separated role string. It matches by substring,
// not exact token, mirroring the original implementation's role_str_to_roles
// (a "player-capture" string is both RolePlayer and RoleCapture).
func ParseRoles(s string) Roles {
	var r Roles
	if strings.Contains(s, "manager") {
		r |= RoleManager
	}
	if strings.Contains(s, "controller") {
		r |= RoleController
	}
	if strings.Contains(s, "player") {
		r |= RolePlayer
	}
	if strings.Contains(s, "capture") {
		r |= RoleCapture
	}
	return r
}

// Has reports whether r includes every role in want.
func (r Roles) Has(want Roles) bool {
	return r&want == want
}

// Intersects reports whether r shares any role with other.
func (r Roles) Intersects(other Roles) bool {
	return r&other != 0
}

// Name strings for every event the coordinator may emit, closed per the
// protocol's event set.
const (
	NameEnrol               = "enrol"
	NameSetMedia            = "set-media"
	NamePlay                = "play"
	NamePause               = "pause"
	NameSeek                = "seek"
	NameVolume              = "volume"
	NameClientVolume        = "client-volume"
	NameLanguage            = "language"
	NameClientSetting       = "client-setting"
	NameRecord              = "record"
	NamePlayerClientsChange = "player-clients-changed"
	NamePlayerClients       = "player-clients"
	NamePing                = "ping"
	// NameClientStats is the one client→server payload type, POSTed to
	// /client/events and forwarded verbatim to controllers.
	NameClientStats = "client-stats"
)

// Payload is the union of fields any event may carry. Unused fields are
// omitted from the wire encoding via their JSON tags, the same flat-struct
// style the teacher's ControlMsg used for every chat message type.
type Payload struct {
	ClockPort     int      `json:"clock-port,omitempty"`
	CurrentTime   int64    `json:"current-time,omitempty"`
	BaseTime      int64    `json:"base-time,omitempty"`
	Position      int64    `json:"position,omitempty"`
	ResourceID    uint32   `json:"resource-id,omitempty"`
	ResourceURI   string   `json:"resource-uri,omitempty"`
	Paused        bool     `json:"paused,omitempty"`
	Volume        float64  `json:"volume,omitempty"`
	Language      string   `json:"language,omitempty"`
	ClientID      uint32   `json:"client-id,omitempty"`
	Enabled       bool     `json:"enabled,omitempty"`
	RecordEnabled bool     `json:"record-enabled,omitempty"`
	RecordPath    string   `json:"record-path,omitempty"`
	Players       []uint32 `json:"players,omitempty"`
}

// Event is an immutable, targeted message. Construct with New; fields are
// read-only thereafter (the struct itself carries no exported setters).
type Event struct {
	name    string
	targets Roles
	payload Payload
}

// New builds an Event. targets selects which subscriber roles receive it
// during fan-out.
func New(name string, targets Roles, payload Payload) Event {
	return Event{name: name, targets: targets, payload: payload}
}

func (e Event) Name() string     { return e.name }
func (e Event) Targets() Roles   { return e.targets }
func (e Event) Payload() Payload { return e.payload }

func (e Event) TargetedAt(r Roles) bool {
	return e.targets.Intersects(r)
}

type wireEvent struct {
	Type    string `json:"msg-type"`
	Targets Roles  `json:"msg-targets"`
	Payload
}

// Encode renders e as one line of JSON terminated by '\n', the textual wire
// format subscriber connections read and write.
func (e Event) Encode() []byte {
	w := wireEvent{Type: e.name, Targets: e.targets, Payload: e.payload}
	buf, err := json.Marshal(w)
	if err != nil {
		// Payload is a plain value struct; Marshal only fails on cyclic or
		// unsupported types, neither of which Payload can produce.
		panic(fmt.Sprintf("event: marshal %q: %v", e.name, err))
	}
	return append(buf, '\n')
}

// Decode parses one line previously produced by Encode.
func Decode(line []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, fmt.Errorf("event: decode: %w", err)
	}
	return Event{name: w.Type, targets: w.Targets, payload: w.Payload}, nil
}

// Reader decodes a stream of line-delimited events, as a subscriber's mirror
// reads them off a chunked or websocket connection's text frames.
type Reader struct {
	s *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), 1<<20)
	return &Reader{s: s}
}

// Next reads and decodes the next event, or returns io.EOF at stream end.
func (r *Reader) Next() (Event, error) {
	if !r.s.Scan() {
		if err := r.s.Err(); err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	}
	return Decode(r.s.Bytes())
}
