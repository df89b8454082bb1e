// Package transport implements Aurena's subscriber transport: the three
// connection kinds (chunked HTTP, single-reply HTTP, and WebSocket) that
// carry line-delimited events out to controllers and players, plus the
// liveness/ping discipline and per-connection backpressure handling.
package transport

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"aurena/event"
)

const (
	// livenessTimeout is how long a connection may go silent before the hub
	// tears it down.
	livenessTimeout = 20 * time.Second
	// pingInterval is how often the hub broadcasts a ping to every
	// connection, keeping idle connections (and any intermediate proxies)
	// from timing out the liveness window.
	pingInterval = 2 * time.Second
	// sendQueueDepth bounds each connection's outbound buffer; a connection
	// that can't keep up trips its circuit breaker rather than blocking the
	// fan-out loop.
	sendQueueDepth = 64
	// controlRateLimit caps inbound control frames per connection per
	// second, replacing a hand-rolled counter with golang.org/x/time/rate.
	controlRateLimit = 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Kind identifies how a Conn carries events to its subscriber.
type Kind int

const (
	KindChunked Kind = iota
	KindSingle
	KindWebSocket
)

// Conn is one subscriber connection.
type Conn struct {
	ID    string
	Kind  Kind
	Roles event.Roles
	Host  string

	send    chan []byte
	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter

	lastSeen   time.Time
	lastSeenMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(kind Kind, roles event.Roles, host string) *Conn {
	settings := gobreaker.Settings{
		Name:        "subscriber-send",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &Conn{
		ID:       uuid.NewString(),
		Kind:     kind,
		Roles:    roles,
		Host:     host,
		send:     make(chan []byte, sendQueueDepth),
		breaker:  gobreaker.NewCircuitBreaker[any](settings),
		limiter:  rate.NewLimiter(controlRateLimit, controlRateLimit),
		lastSeen: time.Now(),
		closed:   make(chan struct{}),
	}
}

func (c *Conn) touch() {
	c.lastSeenMu.Lock()
	c.lastSeen = time.Now()
	c.lastSeenMu.Unlock()
}

func (c *Conn) idle() time.Duration {
	c.lastSeenMu.Lock()
	defer c.lastSeenMu.Unlock()
	return time.Since(c.lastSeen)
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Allow reports whether an inbound control frame from this connection is
// within its rate limit.
func (c *Conn) Allow() bool {
	return c.limiter.Allow()
}

// Hub owns every live subscriber connection and fans events out to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	// OnDisconnect, if set, is called (outside the hub's lock) when a
	// connection is torn down, so the session coordinator can mark the
	// owning proxy dormant.
	OnDisconnect func(connID string)
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.ID]
	delete(h.conns, c.ID)
	h.mu.Unlock()
	if ok {
		c.close()
		if h.OnDisconnect != nil {
			h.OnDisconnect(c.ID)
		}
	}
}

// snapshot returns the currently connected conns, for callers that need a
// consistent roster without holding the hub's lock during I/O — the same
// copy-then-iterate pattern the teacher's Room.Broadcast uses to avoid
// holding an RLock across network writes.
func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast fans e out, non-blockingly, to every connection whose declared
// roles intersect e's targets.
func (h *Hub) Broadcast(e event.Event) {
	wire := e.Encode()
	for _, c := range h.snapshot() {
		if !e.TargetedAt(c.Roles) {
			continue
		}
		select {
		case c.send <- wire:
		default:
			// Queue full: record a breaker failure rather than blocking the
			// fan-out loop for every other subscriber.
			_, _ = c.breaker.Execute(func() (any, error) { return nil, errQueueFull })
		}
	}
}

var errQueueFull = &queueFullError{}

type queueFullError struct{}

func (*queueFullError) Error() string { return "transport: send queue full" }

// Send delivers e to one specific connection by ID, for single-reply kinds
// and targeted replies.
func (h *Hub) Send(connID string, e event.Event) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case c.send <- e.Encode():
	default:
	}
}

// Count reports the number of live connections, for metrics.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RunLiveness ticks the ping loop and liveness sweep until ctx is canceled.
func (h *Hub) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(event.New(event.NamePing, event.RoleAll, event.Payload{}))
			for _, c := range h.snapshot() {
				if c.idle() > livenessTimeout {
					h.remove(c)
				}
			}
		}
	}
}

// AcceptChunked upgrades an HTTP GET into a chunked streaming connection:
// each event is written and flushed as its own chunk.
func (h *Hub) AcceptChunked(c echo.Context, roles event.Roles) error {
	conn := newConn(KindChunked, roles, c.Request().RemoteAddr)
	h.add(conn)
	defer h.remove(conn)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/json")
	resp.WriteHeader(http.StatusOK)

	notify := c.Request().Context().Done()
	for {
		select {
		case <-notify:
			return nil
		case <-conn.closed:
			return nil
		case msg := <-conn.send:
			conn.touch()
			if _, err := resp.Write(msg); err != nil {
				return err
			}
			resp.Flush()
		}
	}
}

// AcceptSingle upgrades an HTTP GET into a single-reply connection: the
// handler blocks for exactly one queued event, writes it, and returns.
func (h *Hub) AcceptSingle(c echo.Context, roles event.Roles) error {
	conn := newConn(KindSingle, roles, c.Request().RemoteAddr)
	h.add(conn)
	defer h.remove(conn)

	select {
	case <-c.Request().Context().Done():
		return nil
	case msg := <-conn.send:
		return c.Blob(http.StatusOK, "application/json", msg)
	}
}

// AcceptWebSocket upgrades an HTTP GET into a bidirectional websocket
// connection. onControl is invoked for each inbound frame that passes the
// connection's rate limiter; frames beyond the limit are dropped silently.
func (h *Hub) AcceptWebSocket(c echo.Context, roles event.Roles, onControl func(connID string, frame []byte)) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conn := newConn(KindWebSocket, roles, c.Request().RemoteAddr)
	h.add(conn)
	defer h.remove(conn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			conn.touch()
			if conn.Allow() && onControl != nil {
				onControl(conn.ID, data)
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case <-conn.closed:
			return nil
		case msg := <-conn.send:
			conn.touch()
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[transport] write %s: %v", conn.ID, err)
				return nil
			}
		}
	}
}
