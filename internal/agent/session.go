package agent

import (
	"fmt"
	"net"

	"github.com/fixtool/fixtool/internal/fix"
)

// ServerSession is one accepted connection belonging to a Server. It is
// created connected (the socket already exists when the session does) and
// anonymous; the owning server assigns its name at promotion time. The back
// reference to the server exists only for cascade destroy.
type ServerSession struct {
	server *Server
	name   string

	conn      net.Conn
	connected bool

	parser *fix.Parser
	queue  []*fix.Message
}

func newServerSession(server *Server, conn net.Conn) *ServerSession {
	session := &ServerSession{
		server:    server,
		conn:      conn,
		connected: true,
		parser:    &fix.Parser{},
	}
	server.reactor.RegisterReadable(conn, session.readable)
	return session
}

// IsConnected reports whether the peer is still connected.
func (s *ServerSession) IsConnected() bool {
	return s.connected
}

// Disconnect closes the session's socket. Safe to call repeatedly.
func (s *ServerSession) Disconnect() {
	if !s.connected {
		return
	}
	s.server.reactor.Deregister(s.conn)
	s.conn.Close()
	s.conn = nil
	s.connected = false
}

// Destroy disconnects and drops any queued messages.
func (s *ServerSession) Destroy() {
	s.Disconnect()
	s.queue = nil
}

// Send writes a pre-encoded message to the connected peer synchronously.
func (s *ServerSession) Send(data []byte) error {
	if !s.connected {
		return errNotConnected
	}

	sent := 0
	for sent < len(data) {
		n, err := s.conn.Write(data[sent:])
		if err != nil {
			return fmt.Errorf("failed to send to peer: %w", err)
		}
		sent += n
	}
	return nil
}

// PendingReceive returns the number of decoded messages awaiting retrieval.
func (s *ServerSession) PendingReceive() int {
	return len(s.queue)
}

// Receive pops the oldest decoded message, or nil if none are queued.
func (s *ServerSession) Receive() *fix.Message {
	if len(s.queue) == 0 {
		return nil
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg
}

func (s *ServerSession) readable(data []byte) {
	if len(data) == 0 {
		s.Disconnect()
		return
	}

	s.parser.Append(data)
	for {
		msg := s.parser.Message()
		if msg == nil {
			break
		}
		s.queue = append(s.queue, msg)
	}
}
