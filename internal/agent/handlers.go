package agent

import (
	"fmt"
	"sort"
	"time"
)

// Handler conventions: validate before mutating, emit exactly one response
// per request, and convert every failure into a success=false response with
// a human-readable reason. Nothing here is fatal to the agent.

func validPort(port *int) bool {
	return port != nil && *port >= 0 && *port <= 65535
}

func (a *Agent) handleClientCreate(session *ControlSession, req *Request) {
	a.logger.Infof("client_create(%s)", req.Name)

	if req.Name == "" {
		a.send(session, newResponseHeader(TypeClientCreated, req.Name, false, "missing client name"))
		return
	}
	if _, exists := a.clients[req.Name]; exists {
		a.send(session, newResponseHeader(TypeClientCreated, req.Name, false,
			fmt.Sprintf("client %q already exists", req.Name)))
		return
	}

	client := newClient(req.Name, a.reactor)
	if req.AutoHeartbeat != nil {
		client.autoHeartbeat = *req.AutoHeartbeat
	}
	if req.AutoSequence != nil {
		client.autoSequence = *req.AutoSequence
	}
	if req.Raw != nil {
		client.raw = *req.Raw
	}

	a.clients[req.Name] = client
	seq := a.registry.record(kindClient, req.Name)
	a.logger.Debugf("client %q registered with creation seq %d", req.Name, seq)

	a.send(session, newResponseHeader(TypeClientCreated, req.Name, true, ""))
}

func (a *Agent) handleClientDestroy(session *ControlSession, req *Request) {
	client, ok := a.clients[req.Name]
	if !ok {
		a.send(session, newResponseHeader(TypeClientDestroyed, req.Name, false,
			fmt.Sprintf("no such client %q", req.Name)))
		return
	}

	client.Destroy()
	delete(a.clients, req.Name)
	a.registry.forget(kindClient, req.Name)

	a.send(session, newResponseHeader(TypeClientDestroyed, req.Name, true, ""))
}

func (a *Agent) handleClientConnect(session *ControlSession, req *Request) {
	client, ok := a.clients[req.Name]
	if !ok {
		a.send(session, newResponseHeader(TypeClientConnected, req.Name, false,
			fmt.Sprintf("no such client %q", req.Name)))
		return
	}
	if req.Host == "" || req.Port == nil {
		a.send(session, newResponseHeader(TypeClientConnected, req.Name, false, "missing host or port"))
		return
	}
	if !validPort(req.Port) {
		a.send(session, newResponseHeader(TypeClientConnected, req.Name, false, "port out of range"))
		return
	}

	// The response is deferred until the dial completes so the reactor is
	// never stalled waiting on the OS.
	name := req.Name
	client.Connect(req.Host, *req.Port, func(err error) {
		if !a.hasControlSession(session) {
			return
		}
		if err != nil {
			a.send(session, newResponseHeader(TypeClientConnected, name, false, err.Error()))
			return
		}
		a.send(session, newResponseHeader(TypeClientConnected, name, true, ""))
	})
}

func (a *Agent) handleClientDisconnect(session *ControlSession, req *Request) {
	client, ok := a.clients[req.Name]
	if !ok {
		a.send(session, newResponseHeader(TypeClientDisconnected, req.Name, false,
			fmt.Sprintf("no such client %q", req.Name)))
		return
	}

	client.Disconnect()
	a.send(session, newResponseHeader(TypeClientDisconnected, req.Name, true, ""))
}

func (a *Agent) handleClientIsConnected(session *ControlSession, req *Request) {
	client, ok := a.clients[req.Name]
	if !ok {
		a.send(session, ConnectedResponse{
			ResponseHeader: newResponseHeader(TypeClientIsConnectedRes, req.Name, false,
				fmt.Sprintf("no such client %q", req.Name)),
		})
		return
	}

	a.send(session, ConnectedResponse{
		ResponseHeader: newResponseHeader(TypeClientIsConnectedRes, req.Name, true, ""),
		Connected:      client.IsConnected(),
	})
}

func (a *Agent) handleClientSend(session *ControlSession, req *Request) {
	client, ok := a.clients[req.Name]
	if !ok {
		a.send(session, newResponseHeader(TypeClientSent, req.Name, false,
			fmt.Sprintf("no such client %q", req.Name)))
		return
	}

	if err := client.Send([]byte(req.Message)); err != nil {
		a.send(session, newResponseHeader(TypeClientSent, req.Name, false, err.Error()))
		return
	}
	a.send(session, newResponseHeader(TypeClientSent, req.Name, true, ""))
}

func (a *Agent) handleClientGetPendingReceive(session *ControlSession, req *Request) {
	client, ok := a.clients[req.Name]
	if !ok {
		a.send(session, CountResponse{
			ResponseHeader: newResponseHeader(TypeClientPendingReceive, req.Name, false,
				fmt.Sprintf("no such client %q", req.Name)),
		})
		return
	}

	a.send(session, CountResponse{
		ResponseHeader: newResponseHeader(TypeClientPendingReceive, req.Name, true, ""),
		Count:          client.PendingReceive(),
	})
}

func (a *Agent) handleClientReceive(session *ControlSession, req *Request) {
	client, ok := a.clients[req.Name]
	if !ok {
		a.send(session, MessageResponse{
			ResponseHeader: newResponseHeader(TypeClientReceived, req.Name, false,
				fmt.Sprintf("no such client %q", req.Name)),
		})
		return
	}

	var text string
	if msg := client.Receive(); msg != nil {
		text = string(msg.Bytes())
	}
	a.send(session, MessageResponse{
		ResponseHeader: newResponseHeader(TypeClientReceived, req.Name, true, ""),
		Message:        text,
	})
}

func (a *Agent) handleServerCreate(session *ControlSession, req *Request) {
	a.logger.Infof("server_create(%s)", req.Name)

	if req.Name == "" {
		a.send(session, newResponseHeader(TypeServerCreated, req.Name, false, "missing server name"))
		return
	}
	if _, exists := a.servers[req.Name]; exists {
		a.send(session, newResponseHeader(TypeServerCreated, req.Name, false,
			fmt.Sprintf("server %q already exists", req.Name)))
		return
	}

	a.servers[req.Name] = newServer(req.Name, a.reactor)
	seq := a.registry.record(kindServer, req.Name)
	a.logger.Debugf("server %q registered with creation seq %d", req.Name, seq)

	a.send(session, newResponseHeader(TypeServerCreated, req.Name, true, ""))
}

func (a *Agent) handleServerDestroy(session *ControlSession, req *Request) {
	server, ok := a.servers[req.Name]
	if !ok {
		a.send(session, newResponseHeader(TypeServerDestroyed, req.Name, false,
			fmt.Sprintf("no such server %q", req.Name)))
		return
	}

	// Accepted sessions are addressable through the dispatcher's session
	// table; remove them there before cascading the destroy.
	for name := range server.accepted {
		delete(a.serverSessions, name)
		a.registry.forget(kindServerSession, name)
	}
	server.Destroy()
	delete(a.servers, req.Name)
	a.registry.forget(kindServer, req.Name)

	a.send(session, newResponseHeader(TypeServerDestroyed, req.Name, true, ""))
}

func (a *Agent) handleServerListen(session *ControlSession, req *Request) {
	server, ok := a.servers[req.Name]
	if !ok {
		a.send(session, newResponseHeader(TypeServerListened, req.Name, false,
			fmt.Sprintf("no such server %q", req.Name)))
		return
	}
	if !validPort(req.Port) {
		a.send(session, newResponseHeader(TypeServerListened, req.Name, false, "bad or missing port"))
		return
	}

	if err := server.Listen(a.config.Hostname, *req.Port); err != nil {
		a.send(session, newResponseHeader(TypeServerListened, req.Name, false, err.Error()))
		return
	}
	a.logger.Infof("server %q listening on port %d", req.Name, server.Port())

	a.send(session, newResponseHeader(TypeServerListened, req.Name, true, ""))
}

func (a *Agent) handleServerUnlisten(session *ControlSession, req *Request) {
	server, ok := a.servers[req.Name]
	if !ok {
		a.send(session, newResponseHeader(TypeServerUnlistened, req.Name, false,
			fmt.Sprintf("no such server %q", req.Name)))
		return
	}
	if !validPort(req.Port) {
		a.send(session, newResponseHeader(TypeServerUnlistened, req.Name, false, "bad or missing port"))
		return
	}

	server.Unlisten()
	a.send(session, newResponseHeader(TypeServerUnlistened, req.Name, true, ""))
}

func (a *Agent) handleServerPendingAccept(session *ControlSession, req *Request) {
	server, ok := a.servers[req.Name]
	if !ok {
		a.send(session, CountResponse{
			ResponseHeader: newResponseHeader(TypeServerPendingAcceptR, req.Name, false,
				fmt.Sprintf("no such server %q", req.Name)),
		})
		return
	}

	a.send(session, CountResponse{
		ResponseHeader: newResponseHeader(TypeServerPendingAcceptR, req.Name, true, ""),
		Count:          server.PendingCount(),
	})
}

func (a *Agent) handleServerAccept(session *ControlSession, req *Request) {
	server, ok := a.servers[req.Name]
	if !ok {
		a.send(session, AcceptedResponse{
			ResponseHeader: newResponseHeader(TypeServerAccepted, req.Name, false,
				fmt.Sprintf("no such server %q", req.Name)),
		})
		return
	}
	if req.SessionName == "" {
		a.send(session, AcceptedResponse{
			ResponseHeader: newResponseHeader(TypeServerAccepted, req.Name, false, "missing session_name"),
		})
		return
	}
	if _, exists := a.serverSessions[req.SessionName]; exists {
		a.send(session, AcceptedResponse{
			ResponseHeader: newResponseHeader(TypeServerAccepted, req.Name, false,
				fmt.Sprintf("session %q already exists", req.SessionName)),
		})
		return
	}

	accepted := server.Accept(req.SessionName)
	if accepted == nil {
		// Nothing pending is the defined empty result; callers poll the
		// pending count before accepting.
		a.send(session, AcceptedResponse{
			ResponseHeader: newResponseHeader(TypeServerAccepted, req.Name, true, ""),
		})
		return
	}

	a.serverSessions[req.SessionName] = accepted
	seq := a.registry.record(kindServerSession, req.SessionName)
	a.logger.Debugf("session %q registered with creation seq %d", req.SessionName, seq)

	a.send(session, AcceptedResponse{
		ResponseHeader: newResponseHeader(TypeServerAccepted, req.Name, true, ""),
		SessionName:    req.SessionName,
	})
}

func (a *Agent) handleServerIsConnected(session *ControlSession, req *Request) {
	serverSession, ok := a.serverSessions[req.Name]
	if !ok {
		a.send(session, ConnectedResponse{
			ResponseHeader: newResponseHeader(TypeServerIsConnectedRes, req.Name, false,
				fmt.Sprintf("no such session %q", req.Name)),
		})
		return
	}

	a.send(session, ConnectedResponse{
		ResponseHeader: newResponseHeader(TypeServerIsConnectedRes, req.Name, true, ""),
		Connected:      serverSession.IsConnected(),
	})
}

func (a *Agent) handleServerDisconnect(session *ControlSession, req *Request) {
	serverSession, ok := a.serverSessions[req.Name]
	if !ok {
		a.send(session, newResponseHeader(TypeServerDisconnected, req.Name, false,
			fmt.Sprintf("no such session %q", req.Name)))
		return
	}

	serverSession.Disconnect()
	a.send(session, newResponseHeader(TypeServerDisconnected, req.Name, true, ""))
}

func (a *Agent) handleServerSend(session *ControlSession, req *Request) {
	serverSession, ok := a.serverSessions[req.Name]
	if !ok {
		a.send(session, newResponseHeader(TypeServerSent, req.Name, false,
			fmt.Sprintf("no such session %q", req.Name)))
		return
	}

	if err := serverSession.Send([]byte(req.Message)); err != nil {
		a.send(session, newResponseHeader(TypeServerSent, req.Name, false, err.Error()))
		return
	}
	a.send(session, newResponseHeader(TypeServerSent, req.Name, true, ""))
}

func (a *Agent) handleServerGetPendingReceive(session *ControlSession, req *Request) {
	serverSession, ok := a.serverSessions[req.Name]
	if !ok {
		a.send(session, CountResponse{
			ResponseHeader: newResponseHeader(TypeServerPendingReceive, req.Name, false,
				fmt.Sprintf("no such session %q", req.Name)),
		})
		return
	}

	a.send(session, CountResponse{
		ResponseHeader: newResponseHeader(TypeServerPendingReceive, req.Name, true, ""),
		Count:          serverSession.PendingReceive(),
	})
}

func (a *Agent) handleServerReceive(session *ControlSession, req *Request) {
	serverSession, ok := a.serverSessions[req.Name]
	if !ok {
		a.send(session, MessageResponse{
			ResponseHeader: newResponseHeader(TypeServerReceived, req.Name, false,
				fmt.Sprintf("no such session %q", req.Name)),
		})
		return
	}

	var text string
	if msg := serverSession.Receive(); msg != nil {
		text = string(msg.Bytes())
	}
	a.send(session, MessageResponse{
		ResponseHeader: newResponseHeader(TypeServerReceived, req.Name, true, ""),
		Message:        text,
	})
}

func (a *Agent) handlePing(session *ControlSession, req *Request) {
	a.send(session, newResponseHeader(TypePong, req.Name, true, ""))
}

func (a *Agent) handleStatus(session *ControlSession, req *Request) {
	a.send(session, StatusResponse{
		ResponseHeader:  newResponseHeader(TypeStatusResponse, req.Name, true, ""),
		Clients:         len(a.clients),
		Servers:         len(a.servers),
		ServerSessions:  len(a.serverSessions),
		ControlSessions: len(a.controlSessions),
		Entities:        a.entityStatuses(),
		UptimeSeconds:   time.Since(a.startedAt).Seconds(),
	})
}

// entityStatuses lists every live entity with its registry metadata, grouped
// by kind and sorted by name within each kind.
func (a *Agent) entityStatuses() []EntityStatus {
	var entities []EntityStatus

	collect := func(kind string, names []string) {
		sort.Strings(names)
		for _, name := range names {
			entry, ok := a.registry.lookup(kind, name)
			if !ok {
				continue
			}
			entities = append(entities, EntityStatus{
				Kind:       kind,
				Name:       name,
				CreatedSeq: entry.Seq,
				CreatedAt:  entry.Created,
			})
		}
	}

	clients := make([]string, 0, len(a.clients))
	for name := range a.clients {
		clients = append(clients, name)
	}
	collect(kindClient, clients)

	servers := make([]string, 0, len(a.servers))
	for name := range a.servers {
		servers = append(servers, name)
	}
	collect(kindServer, servers)

	sessions := make([]string, 0, len(a.serverSessions))
	for name := range a.serverSessions {
		sessions = append(sessions, name)
	}
	collect(kindServerSession, sessions)

	return entities
}
