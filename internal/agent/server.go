package agent

import (
	"fmt"
	"net"

	"github.com/fixtool/fixtool/internal/reactor"
)

// Server is one simulated protocol-accepting endpoint. While listening, each
// raw connection accepted off its socket becomes an anonymous ServerSession
// on the pending FIFO; a later accept request promotes the oldest pending
// session into the accepted table under a caller-chosen name. A connection
// is always in exactly one of the two places once accepted off the wire.
type Server struct {
	name    string
	reactor reactor.Reactor

	listener  net.Listener
	listening bool

	pending  []*ServerSession
	accepted map[string]*ServerSession
}

func newServer(name string, r reactor.Reactor) *Server {
	return &Server{
		name:     name,
		reactor:  r,
		accepted: make(map[string]*ServerSession),
	}
}

// Listen binds the given port and starts queueing inbound connections.
func (s *Server) Listen(host string, port int) error {
	if s.listening {
		return fmt.Errorf("server %q is already listening", s.name)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	s.listener = ln
	s.listening = true
	s.reactor.RegisterAcceptable(ln, s.acceptable)
	return nil
}

// Unlisten closes the listening socket. Pending and accepted sessions are
// unaffected.
func (s *Server) Unlisten() {
	if !s.listening {
		return
	}
	s.reactor.DeregisterAcceptable(s.listener)
	s.listener.Close()
	s.listener = nil
	s.listening = false
}

// IsListening reports whether the server currently owns a listening socket.
func (s *Server) IsListening() bool {
	return s.listening
}

// Port returns the port the listener is bound to, or 0 when idle. Useful
// when the server was asked to listen on port 0.
func (s *Server) Port() int {
	if !s.listening {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// acceptable runs on the reactor loop for each connection accepted off the
// listening socket. The new session is anonymous until promoted.
func (s *Server) acceptable(conn net.Conn) {
	s.pending = append(s.pending, newServerSession(s, conn))
}

// PendingCount returns the number of connections awaiting promotion.
func (s *Server) PendingCount() int {
	return len(s.pending)
}

// Accept promotes the oldest pending session, assigning it name and moving
// it to the accepted table. Returns nil when nothing is pending; that is the
// defined empty result, not an error.
func (s *Server) Accept(name string) *ServerSession {
	if len(s.pending) == 0 {
		return nil
	}

	session := s.pending[0]
	s.pending = s.pending[1:]
	session.name = name
	s.accepted[name] = session
	return session
}

// Destroy tears down the listening socket and every pending and accepted
// session owned by this server.
func (s *Server) Destroy() {
	s.Unlisten()

	for _, session := range s.pending {
		session.Destroy()
	}
	s.pending = nil

	for _, session := range s.accepted {
		session.Destroy()
	}
	s.accepted = make(map[string]*ServerSession)
}
