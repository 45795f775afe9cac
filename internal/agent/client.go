package agent

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/fixtool/fixtool/internal/fix"
	"github.com/fixtool/fixtool/internal/reactor"
)

var errNotConnected = errors.New("not connected")

// Client is one simulated protocol-initiating endpoint. It owns its socket
// while connected, feeds inbound bytes to its message parser, and queues
// every fully decoded message for retrieval by control requests.
//
// All methods must be called from the reactor loop; the asynchronous dial
// reports back into the loop via Submit.
type Client struct {
	name    string
	reactor reactor.Reactor

	conn       net.Conn
	connected  bool
	connecting bool
	destroyed  bool

	parser *fix.Parser
	queue  []*fix.Message

	autoHeartbeat bool
	autoSequence  bool
	raw           bool
	nextSendSeq   int
	lastSeenSeq   int
}

func newClient(name string, r reactor.Reactor) *Client {
	return &Client{
		name:          name,
		reactor:       r,
		parser:        &fix.Parser{},
		autoHeartbeat: true,
		autoSequence:  true,
	}
}

// Connect dials host:port without blocking the reactor. done runs on the
// loop once the dial completes, after the client has transitioned to
// connected on success.
func (c *Client) Connect(host string, port int, done func(err error)) {
	if c.connected || c.connecting {
		done(fmt.Errorf("client %q is already connected", c.name))
		return
	}
	c.connecting = true

	addr := fmt.Sprintf("%s:%d", host, port)
	go func() {
		conn, err := net.Dial("tcp", addr)
		c.reactor.Submit(func() {
			c.connecting = false
			if c.destroyed {
				if conn != nil {
					conn.Close()
				}
				done(fmt.Errorf("client %q was destroyed during connect", c.name))
				return
			}
			if err == nil {
				c.conn = conn
				c.connected = true
				c.reactor.RegisterReadable(conn, c.readable)
			}
			done(err)
		})
	}()
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	return c.connected
}

// Disconnect drops the connection if one exists. Safe to call repeatedly.
func (c *Client) Disconnect() {
	if !c.connected {
		return
	}
	c.reactor.Deregister(c.conn)
	c.conn.Close()
	c.conn = nil
	c.connected = false
}

// Destroy disconnects if needed and marks the client dead so that an
// in-flight dial completing later is discarded.
func (c *Client) Destroy() {
	c.Disconnect()
	c.destroyed = true
	c.queue = nil
}

// Send writes a pre-encoded message to the peer synchronously. There is no
// outbound queueing; a partial write is surfaced as an error.
func (c *Client) Send(data []byte) error {
	if !c.connected {
		return errNotConnected
	}

	sent := 0
	for sent < len(data) {
		n, err := c.conn.Write(data[sent:])
		if err != nil {
			return fmt.Errorf("failed to send to peer: %w", err)
		}
		sent += n
	}
	c.nextSendSeq++
	return nil
}

// PendingReceive returns the number of decoded messages awaiting retrieval.
func (c *Client) PendingReceive() int {
	return len(c.queue)
}

// Receive pops the oldest decoded message, or nil if none are queued.
func (c *Client) Receive() *fix.Message {
	if len(c.queue) == 0 {
		return nil
	}
	msg := c.queue[0]
	c.queue = c.queue[1:]
	return msg
}

// readable handles inbound bytes from the reactor. A zero-length read means
// the peer closed, which transitions the client back to disconnected.
func (c *Client) readable(data []byte) {
	if len(data) == 0 {
		c.Disconnect()
		return
	}

	c.parser.Append(data)
	for {
		msg := c.parser.Message()
		if msg == nil {
			break
		}
		if seq, ok := msg.Get(34); ok {
			if n, err := strconv.Atoi(seq); err == nil {
				c.lastSeenSeq = n
			}
		}
		c.queue = append(c.queue, msg)
	}
}
