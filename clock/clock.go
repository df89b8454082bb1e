// Package clock implements Aurena's UDP wall-clock distribution protocol.
//
// A Provider listens on a UDP port and echoes back the sender's timestamp
// plus its own receive and send times. It is stateless per packet: any datagram that
// arrives is answered on its own, with no per-client bookkeeping, matching
// the request/response shape GStreamer's net-clock protocol uses.
package clock

import (
	"encoding/binary"
	"errors"
	"log"
	"net"
	"time"
)

// errShortReply is returned when a Query reply arrives truncated.
var errShortReply = errors.New("clock: short reply")

const (
	// requestSize is the fixed wire size of a client request: one int64,
	// the client's local send time in nanoseconds.
	requestSize = 8
	// replySize is the fixed wire size of a reply: the echoed client send
	// time, the server's receive time, and the server's send time, each
	// an int64 nanosecond count.
	replySize = 24
)

// Provider answers wall-clock requests over UDP.
type Provider struct {
	conn  net.PacketConn
	epoch time.Time
}

// NewProvider binds addr (e.g. ":5458") and captures the epoch against which
// Now is measured.
func NewProvider(addr string) (*Provider, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Provider{conn: conn, epoch: time.Now()}, nil
}

// Port reports the UDP port actually bound, for inclusion in enrol events.
func (p *Provider) Port() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

// Now returns nanoseconds elapsed since the provider's epoch, the timebase
// shared with the session coordinator's base_time/position arithmetic.
func (p *Provider) Now() int64 {
	return int64(time.Since(p.epoch))
}

// Close releases the underlying socket.
func (p *Provider) Close() error {
	return p.conn.Close()
}

// Serve answers packets until the connection is closed. Intended to run on
// its own goroutine (or under a supervisor); it returns when the listener
// is closed.
func (p *Provider) Serve() error {
	buf := make([]byte, requestSize)
	for {
		n, addr, err := p.conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		if n != requestSize {
			continue
		}
		recvTime := p.Now()
		clientSend := int64(binary.BigEndian.Uint64(buf))

		reply := make([]byte, replySize)
		binary.BigEndian.PutUint64(reply[0:8], uint64(clientSend))
		binary.BigEndian.PutUint64(reply[8:16], uint64(recvTime))
		binary.BigEndian.PutUint64(reply[16:24], uint64(p.Now()))

		if _, err := p.conn.WriteTo(reply, addr); err != nil {
			log.Printf("[clock] write to %s: %v", addr, err)
		}
	}
}

// Client queries a Provider for the current offset between the local clock
// and the server's, used by the session mirror to slave its own timebase.
type Client struct {
	conn net.Conn
}

// Dial connects to a Provider at addr ("host:port").
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Query performs one round trip and returns the offset of the server's clock
// from the local one, taken at the midpoint of the exchange to correct for
// network delay the way a GStreamer net-clock client does
// (offset = server_time - (send+recv)/2), together with the round-trip time.
func (c *Client) Query() (offset int64, roundTrip time.Duration, err error) {
	req := make([]byte, requestSize)
	sendTime := time.Now()
	binary.BigEndian.PutUint64(req, uint64(sendTime.UnixNano()))

	if _, err := c.conn.Write(req); err != nil {
		return 0, 0, err
	}

	reply := make([]byte, replySize)
	if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return 0, 0, err
	}
	n, err := c.conn.Read(reply)
	if err != nil {
		return 0, 0, err
	}
	recvTime := time.Now()
	if n != replySize {
		return 0, 0, errShortReply
	}

	serverRecv := int64(binary.BigEndian.Uint64(reply[8:16]))
	serverSend := int64(binary.BigEndian.Uint64(reply[16:24]))

	roundTrip = recvTime.Sub(sendTime)
	localMid := sendTime.UnixNano() + int64(roundTrip)/2
	serverMid := (serverRecv + serverSend) / 2
	offset = serverMid - localMid
	return offset, roundTrip, nil
}
