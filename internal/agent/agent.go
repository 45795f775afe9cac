// Package agent implements the fixtool agent core: the dispatcher that owns
// the control listener and entity tables, the control session framing, and
// the simulated Client / Server / ServerSession endpoints.
//
// Everything in this package runs on a single reactor loop. Handlers and
// readiness callbacks execute to completion one at a time, so the entity
// tables and endpoint state are never touched from two code paths at once.
package agent

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/fixtool/fixtool/internal/core"
	"github.com/fixtool/fixtool/internal/reactor"
)

// Registry kinds used for entity metadata.
const (
	kindClient        = "client"
	kindServer        = "server"
	kindServerSession = "server_session"
)

// Agent is the process-wide dispatcher. It owns the control listening
// socket, the reactor registrations for every live socket, and the four
// entity tables; every control request mutates state through one of its
// handlers.
type Agent struct {
	config  *core.Config
	logger  *logrus.Logger
	reactor reactor.Reactor

	listener net.Listener

	controlSessions map[net.Conn]*ControlSession
	clients         map[string]*Client
	servers         map[string]*Server
	serverSessions  map[string]*ServerSession

	registry  *registry
	startedAt time.Time
}

// New returns an Agent wired to the given reactor. Nothing is bound until
// Start.
func New(cfg *core.Config, logger *logrus.Logger, r reactor.Reactor) *Agent {
	return &Agent{
		config:          cfg,
		logger:          logger,
		reactor:         r,
		controlSessions: make(map[net.Conn]*ControlSession),
		clients:         make(map[string]*Client),
		servers:         make(map[string]*Server),
		serverSessions:  make(map[string]*ServerSession),
		registry:        newRegistry(),
		startedAt:       time.Now(),
	}
}

// Start binds the control listener and registers it with the reactor. The
// reactor itself is run by the caller.
func (a *Agent) Start() error {
	ln, err := net.Listen("tcp", a.config.ControlAddress())
	if err != nil {
		return fmt.Errorf("error listening on control socket: %w", err)
	}

	a.listener = ln
	a.reactor.RegisterAcceptable(ln, a.acceptControl)

	a.logger.Infof("waiting for control connections on %s", ln.Addr())
	return nil
}

// Addr returns the bound control listener address, for callers that
// configured port 0.
func (a *Agent) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Run starts the agent and blocks in the reactor loop until Stop.
func (a *Agent) Run() error {
	if err := a.Start(); err != nil {
		return err
	}
	return a.reactor.Run()
}

// Stop tears down every entity and control session, closes the control
// listener, and stops the reactor. Must run on the loop (or before/after
// it); external callers use Shutdown.
func (a *Agent) Stop() {
	if a.listener != nil {
		a.reactor.DeregisterAcceptable(a.listener)
		a.listener.Close()
		a.listener = nil
	}

	for name, client := range a.clients {
		client.Destroy()
		delete(a.clients, name)
	}
	for name, server := range a.servers {
		server.Destroy()
		delete(a.servers, name)
	}
	for name := range a.serverSessions {
		delete(a.serverSessions, name)
	}
	for conn, session := range a.controlSessions {
		a.reactor.Deregister(conn)
		session.Close()
		delete(a.controlSessions, conn)
	}

	a.reactor.Stop()
}

// Shutdown schedules Stop on the reactor loop; safe from any goroutine.
func (a *Agent) Shutdown() {
	a.reactor.Submit(a.Stop)
}

// acceptControl runs for each connection accepted off the control listener.
func (a *Agent) acceptControl(conn net.Conn) {
	session := newControlSession(conn, a.config.MaxFrameSize)
	a.controlSessions[conn] = session
	a.reactor.RegisterReadable(conn, func(data []byte) {
		a.controlReadable(session, data)
	})

	a.logger.Infof("accepted control session from %s", session.RemoteAddr())
}

// controlReadable drains every complete frame buffered for the control
// session and dispatches each decoded request. Framing or JSON violations
// drop this control session and leave all others untouched.
func (a *Agent) controlReadable(session *ControlSession, data []byte) {
	if len(data) == 0 {
		a.dropControlSession(session, "peer closed")
		return
	}

	payloads, err := session.Drain(data)
	for _, payload := range payloads {
		var req Request
		if jsonErr := json.Unmarshal(payload, &req); jsonErr != nil {
			a.logger.Warnf("malformed control payload from %s: %v", session.RemoteAddr(), jsonErr)
			a.dropControlSession(session, "protocol violation")
			return
		}
		a.handleRequest(session, &req)
	}

	if err != nil {
		a.logger.Warnf("framing violation from %s: %v", session.RemoteAddr(), err)
		a.dropControlSession(session, "protocol violation")
	}
}

func (a *Agent) dropControlSession(session *ControlSession, why string) {
	if _, ok := a.controlSessions[session.conn]; !ok {
		return
	}
	a.reactor.Deregister(session.conn)
	delete(a.controlSessions, session.conn)
	session.Close()
	a.logger.Infof("dropped control session %s: %s", session.RemoteAddr(), why)
}

// handleRequest routes one decoded control request to its handler. An
// unrecognized type is dropped without a response.
func (a *Agent) handleRequest(session *ControlSession, req *Request) {
	a.logger.Debugf("dispatching [%s]", req.Type)
	if a.config.Debugging.RequestLoggingEnabled {
		a.logger.Debug(spew.Sdump(req))
	}

	switch req.Type {
	case TypeClientCreate:
		a.handleClientCreate(session, req)
	case TypeClientDestroy:
		a.handleClientDestroy(session, req)
	case TypeClientConnect:
		a.handleClientConnect(session, req)
	case TypeClientDisconnect:
		a.handleClientDisconnect(session, req)
	case TypeClientIsConnected:
		a.handleClientIsConnected(session, req)
	case TypeClientSend:
		a.handleClientSend(session, req)
	case TypeClientGetPendingReceive:
		a.handleClientGetPendingReceive(session, req)
	case TypeClientReceive:
		a.handleClientReceive(session, req)
	case TypeServerCreate:
		a.handleServerCreate(session, req)
	case TypeServerDestroy:
		a.handleServerDestroy(session, req)
	case TypeServerListen:
		a.handleServerListen(session, req)
	case TypeServerUnlisten:
		a.handleServerUnlisten(session, req)
	case TypeServerPendingAccept:
		a.handleServerPendingAccept(session, req)
	case TypeServerAccept:
		a.handleServerAccept(session, req)
	case TypeServerIsConnected:
		a.handleServerIsConnected(session, req)
	case TypeServerDisconnect:
		a.handleServerDisconnect(session, req)
	case TypeServerSend:
		a.handleServerSend(session, req)
	case TypeServerGetPendingReceive:
		a.handleServerGetPendingReceive(session, req)
	case TypeServerReceive:
		a.handleServerReceive(session, req)
	case TypePing:
		a.handlePing(session, req)
	case TypeStatus:
		a.handleStatus(session, req)
	default:
		a.logger.Debugf("ignoring unrecognized request type %q", req.Type)
	}
}

// send marshals and frames a response to the control session. Responses to a
// session that disappeared mid-request (async connect) are dropped silently
// by the callers checking hasControlSession first.
func (a *Agent) send(session *ControlSession, response interface{}) {
	payload, err := json.Marshal(response)
	if err != nil {
		a.logger.Errorf("failed to marshal response: %v", err)
		return
	}
	if err := session.Send(payload); err != nil {
		a.logger.Warnf("failed to send response to %s: %v", session.RemoteAddr(), err)
	}
}

func (a *Agent) hasControlSession(session *ControlSession) bool {
	_, ok := a.controlSessions[session.conn]
	return ok
}
