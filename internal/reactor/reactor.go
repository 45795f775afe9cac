// Package reactor provides the readiness-driven event loop that multiplexes
// every socket owned by the agent. All registered callbacks are executed
// serially on the loop goroutine, so entities registered with one reactor
// never need locks around their own state.
package reactor

import (
	"net"

	"github.com/sirupsen/logrus"
)

// ReadFunc is invoked on the loop goroutine with bytes read from a
// registered connection. A zero-length slice means the peer closed the
// connection; no further callbacks will be delivered for it.
type ReadFunc func(data []byte)

// AcceptFunc is invoked on the loop goroutine with a connection accepted
// from a registered listener.
type AcceptFunc func(conn net.Conn)

// Reactor is the minimal multiplexer contract the agent's entities depend
// on. The TCP implementation below is used in production; tests substitute
// a deterministic fake.
type Reactor interface {
	// RegisterReadable arranges for fn to receive everything read from conn.
	RegisterReadable(conn net.Conn, fn ReadFunc)
	// RegisterAcceptable arranges for fn to receive connections accepted from ln.
	RegisterAcceptable(ln net.Listener, fn AcceptFunc)
	// Deregister stops delivery for conn. Events already read but not yet
	// delivered are dropped.
	Deregister(conn net.Conn)
	// DeregisterAcceptable stops delivery of accepted connections for ln.
	DeregisterAcceptable(ln net.Listener)
	// Submit schedules fn to run on the loop goroutine. Safe to call from
	// any goroutine.
	Submit(fn func())
	// Run enters the event loop and blocks until Stop is called.
	Run() error
	// Stop makes Run return after the callback in progress completes.
	Stop()
}

// NewTCP returns a Reactor backed by one goroutine per registered socket
// feeding a single dispatch loop. bufSize is the size of each read buffer.
func NewTCP(logger *logrus.Logger, bufSize int) *TCP {
	if bufSize <= 0 {
		bufSize = 65536
	}
	return &TCP{
		logger:    logger,
		bufSize:   bufSize,
		events:    make(chan func(), 256),
		done:      make(chan struct{}),
		readers:   make(map[net.Conn]ReadFunc),
		acceptors: make(map[net.Listener]AcceptFunc),
	}
}
