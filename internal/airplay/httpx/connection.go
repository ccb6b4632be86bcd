// Package httpx implements the per-socket HTTP/1.1 codec and the
// connection table that tracks whether each TCP connection is acting as a
// control channel, a reverse-HTTP (PTTH) uplink, or an HLS loopback GET
// source.
package httpx

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashwilson/go-airplay/internal/errors"
	"github.com/ashwilson/go-airplay/internal/logger"
)

// Type classifies what a connection is being used for.
type Type int

const (
	Control Type = iota
	PTTHReverse
	HLSLoopback
)

func (t Type) String() string {
	switch t {
	case Control:
		return "control"
	case PTTHReverse:
		return "ptth_reverse"
	case HLSLoopback:
		return "hls_loopback"
	default:
		return "unknown"
	}
}

// IdleTimeout bounds how long a control connection may sit without a
// request before being closed; the protocol specifies no explicit value.
const IdleTimeout = 30 * time.Second

// Connection wraps one accepted TCP socket with the buffered
// reader/writer pair request parsing needs, plus the reverse-HTTP state
// the PTTH upgrade requires.
type Connection struct {
	id   string
	raw  net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	log  *logger.Logger

	mu          sync.Mutex
	connType    Type
	reverseOpen bool
}

// nextID mints a globally-unique connection handle. A real AirPlay
// receiver runs for weeks at a time and outlives many thousands of
// accepted sockets, so a random UUID is preferable to a process-lifetime
// counter that resets on restart and could collide with a stale table
// entry during a crash-restart window.
func nextID() string {
	return uuid.NewString()
}

// NewConnection wraps an accepted socket as a fresh Control connection.
func NewConnection(raw net.Conn) *Connection {
	id := nextID()
	return &Connection{
		id:       id,
		raw:      raw,
		br:       bufio.NewReader(raw),
		bw:       bufio.NewWriter(raw),
		log:      logger.WithConn(logger.Logger(), id, raw.RemoteAddr().String()),
		connType: Control,
	}
}

// ID returns the stable opaque handle used as the connection table key.
func (c *Connection) ID() string { return c.id }

// Type reports the connection's current role.
func (c *Connection) Type() Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connType
}

// Log returns the connection-scoped logger.
func (c *Connection) Log() *logger.Logger { return c.log }

// Close closes the underlying socket.
func (c *Connection) Close() error { return c.raw.Close() }

// ReadRequest parses the next HTTP/1.1 request off the socket, applying
// the idle read timeout.
func (c *Connection) ReadRequest() (*http.Request, error) {
	_ = c.raw.SetReadDeadline(time.Now().Add(IdleTimeout))
	req, err := http.ReadRequest(c.br)
	if err != nil {
		return nil, errors.NewTransportError("httpx.readRequest", err)
	}
	return req, nil
}

// WriteResponse serializes and flushes resp onto the socket.
func (c *Connection) WriteResponse(resp *http.Response) error {
	if err := resp.Write(c.bw); err != nil {
		return errors.NewTransportError("httpx.writeResponse", err)
	}
	if err := c.bw.Flush(); err != nil {
		return errors.NewTransportError("httpx.writeResponse", err)
	}
	return nil
}

// OpenReverse marks the connection as the logical session's single PTTH
// uplink, enabling SendReverse. It only changes the connection's state and
// writes nothing; sending the 101 Switching Protocols response is left to
// the caller.
func (c *Connection) OpenReverse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connType = PTTHReverse
	c.reverseOpen = true
}

// MarkHLSLoopback marks the connection as an HLS loopback GET source.
func (c *Connection) MarkHLSLoopback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connType = HLSLoopback
}

// SendReverse writes a fully-formed HTTP request onto a PTTH connection.
// The paired response does not come back on this socket — it arrives as a
// new inbound POST /action on the control connection.
func (c *Connection) SendReverse(req *http.Request) error {
	c.mu.Lock()
	open := c.reverseOpen
	c.mu.Unlock()
	if !open {
		return errors.NewProtocolError("httpx.sendReverse", fmt.Errorf("connection %s is not in reverse mode", c.id))
	}
	if err := req.Write(c.bw); err != nil {
		return errors.NewTransportError("httpx.sendReverse", err)
	}
	if err := c.bw.Flush(); err != nil {
		return errors.NewTransportError("httpx.sendReverse", err)
	}
	return nil
}
