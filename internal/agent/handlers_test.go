package agent

import (
	"net"
	"strings"
	"testing"

	"github.com/go-test/deep"

	"github.com/fixtool/fixtool/internal/fix"
)

func intPtr(v int) *int { return &v }

func TestClientNameUniqueness(t *testing.T) {
	a, _, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeClientCreate, Name: "A"})
	resp := popResponse(t, conn)
	if !resp.Success || resp.Type != TypeClientCreated {
		t.Fatalf("first create failed: %+v", resp)
	}
	firstSeq, ok := a.registry.lookup(kindClient, "A")
	if !ok {
		t.Fatal("registry has no entry for client A")
	}

	a.handleRequest(session, &Request{Type: TypeClientCreate, Name: "A"})
	resp = popResponse(t, conn)
	if resp.Success {
		t.Fatal("duplicate create unexpectedly succeeded")
	}
	if !strings.Contains(resp.Reason, "already exists") {
		t.Fatalf("reason %q does not mention the duplicate", resp.Reason)
	}

	a.handleRequest(session, &Request{Type: TypeClientDestroy, Name: "A"})
	if resp := popResponse(t, conn); !resp.Success {
		t.Fatalf("destroy failed: %+v", resp)
	}

	a.handleRequest(session, &Request{Type: TypeClientCreate, Name: "A"})
	if resp := popResponse(t, conn); !resp.Success {
		t.Fatalf("create after destroy failed: %+v", resp)
	}

	// The reused name gets a fresh creation sequence.
	secondSeq, ok := a.registry.lookup(kindClient, "A")
	if !ok {
		t.Fatal("registry lost the recreated client")
	}
	if secondSeq.Seq <= firstSeq.Seq {
		t.Fatalf("creation seq did not advance: %d -> %d", firstSeq.Seq, secondSeq.Seq)
	}
}

func TestClientDestroyNoSuchClient(t *testing.T) {
	a, _, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeClientDestroy, Name: "missing"})
	resp := popResponse(t, conn)
	if resp.Success {
		t.Fatal("destroy of unknown client unexpectedly succeeded")
	}
	if !strings.Contains(resp.Reason, "no such client") {
		t.Fatalf("unexpected reason %q", resp.Reason)
	}
}

func TestClientCreateBehaviorFlags(t *testing.T) {
	a, _, session, conn := newTestAgent(t)

	off := false
	on := true
	a.handleRequest(session, &Request{
		Type: TypeClientCreate, Name: "raw",
		AutoHeartbeat: &off, AutoSequence: &off, Raw: &on,
	})
	if resp := popResponse(t, conn); !resp.Success {
		t.Fatalf("create failed: %+v", resp)
	}

	client := a.clients["raw"]
	got := []bool{client.autoHeartbeat, client.autoSequence, client.raw}
	if diff := deep.Equal(got, []bool{false, false, true}); diff != nil {
		t.Fatal(diff)
	}
}

func TestClientConnectLifecycle(t *testing.T) {
	a, fake, session, conn := newTestAgent(t)

	// Stand up a real listener for the simulated client to dial.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("listen failed:", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			// Hold the conn open until the listener is torn down.
			buf := make([]byte, 1)
			c.Read(buf)
		}
	}()

	a.handleRequest(session, &Request{Type: TypeClientCreate, Name: "C"})
	popResponse(t, conn)

	port := ln.Addr().(*net.TCPAddr).Port
	a.handleRequest(session, &Request{Type: TypeClientConnect, Name: "C", Host: "127.0.0.1", Port: intPtr(port)})

	// The connected response is deferred until the dial completes on the loop.
	if len(popResponses(t, conn)) != 0 {
		t.Fatal("client_connected arrived before the dial completed")
	}
	waitForSubmit(t, fake)

	resp := popResponse(t, conn)
	if !resp.Success || resp.Type != TypeClientConnected {
		t.Fatalf("connect failed: %+v", resp)
	}

	a.handleRequest(session, &Request{Type: TypeClientIsConnected, Name: "C"})
	if resp := popResponse(t, conn); !resp.Connected {
		t.Fatalf("expected connected=true, got %+v", resp)
	}

	// Disconnect twice (once explicit, once via destroy); both are clean.
	a.handleRequest(session, &Request{Type: TypeClientDisconnect, Name: "C"})
	if resp := popResponse(t, conn); !resp.Success {
		t.Fatalf("disconnect failed: %+v", resp)
	}

	a.handleRequest(session, &Request{Type: TypeClientIsConnected, Name: "C"})
	if resp := popResponse(t, conn); resp.Connected {
		t.Fatal("client still connected after disconnect")
	}

	a.handleRequest(session, &Request{Type: TypeClientDestroy, Name: "C"})
	if resp := popResponse(t, conn); !resp.Success {
		t.Fatalf("destroy after disconnect failed: %+v", resp)
	}
}

func TestClientConnectValidation(t *testing.T) {
	a, _, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeClientConnect, Name: "nope", Host: "127.0.0.1", Port: intPtr(1234)})
	resp := popResponse(t, conn)
	if resp.Success || !strings.Contains(resp.Reason, "no such client") {
		t.Fatalf("unexpected response %+v", resp)
	}

	a.handleRequest(session, &Request{Type: TypeClientCreate, Name: "C"})
	popResponse(t, conn)

	a.handleRequest(session, &Request{Type: TypeClientConnect, Name: "C"})
	resp = popResponse(t, conn)
	if resp.Success || !strings.Contains(resp.Reason, "missing host or port") {
		t.Fatalf("unexpected response %+v", resp)
	}

	a.handleRequest(session, &Request{Type: TypeClientConnect, Name: "C", Host: "127.0.0.1", Port: intPtr(70000)})
	resp = popResponse(t, conn)
	if resp.Success || !strings.Contains(resp.Reason, "port out of range") {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestServerPendingFIFO(t *testing.T) {
	a, fake, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeServerCreate, Name: "S"})
	popResponse(t, conn)
	a.handleRequest(session, &Request{Type: TypeServerListen, Name: "S", Port: intPtr(0)})
	if resp := popResponse(t, conn); !resp.Success {
		t.Fatalf("listen failed: %+v", resp)
	}

	server := a.servers["S"]
	defer server.Destroy()

	// Three raw connections arrive in order 1, 2, 3.
	conns := []*fakeConn{{}, {}, {}}
	for _, c := range conns {
		if !fake.Accept(server.listener, c) {
			t.Fatal("listener was not registered with the reactor")
		}
	}

	a.handleRequest(session, &Request{Type: TypeServerPendingAccept, Name: "S"})
	if resp := popResponse(t, conn); resp.Count != 3 {
		t.Fatalf("expected 3 pending, got %d", resp.Count)
	}

	// Promotion consumes them oldest first regardless of naming.
	for i, name := range []string{"third", "first", "second"} {
		a.handleRequest(session, &Request{Type: TypeServerAccept, Name: "S", SessionName: name})
		resp := popResponse(t, conn)
		if !resp.Success || resp.SessionName != name {
			t.Fatalf("accept %d failed: %+v", i, resp)
		}
		if a.serverSessions[name].conn != conns[i] {
			t.Fatalf("accept %d did not promote the oldest pending connection", i)
		}
	}
}

func TestServerAcceptEmpty(t *testing.T) {
	a, _, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeServerCreate, Name: "S"})
	popResponse(t, conn)

	a.handleRequest(session, &Request{Type: TypeServerAccept, Name: "S", SessionName: "sess"})
	resp := popResponse(t, conn)
	if !resp.Success {
		t.Fatalf("accept with nothing pending should succeed: %+v", resp)
	}
	if resp.SessionName != "" {
		t.Fatalf("expected empty session_name, got %q", resp.SessionName)
	}
}

func TestServerListenValidation(t *testing.T) {
	a, _, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeServerListen, Name: "S", Port: intPtr(1234)})
	resp := popResponse(t, conn)
	if resp.Success || !strings.Contains(resp.Reason, "no such server") {
		t.Fatalf("unexpected response %+v", resp)
	}

	a.handleRequest(session, &Request{Type: TypeServerCreate, Name: "S"})
	popResponse(t, conn)

	for _, port := range []*int{nil, intPtr(-1), intPtr(65536)} {
		a.handleRequest(session, &Request{Type: TypeServerListen, Name: "S", Port: port})
		resp := popResponse(t, conn)
		if resp.Success || !strings.Contains(resp.Reason, "bad or missing port") {
			t.Fatalf("unexpected response %+v", resp)
		}
	}
	if a.servers["S"].IsListening() {
		t.Fatal("server should not be listening after rejected listen requests")
	}
}

func TestServerSessionSendReceive(t *testing.T) {
	a, fake, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeServerCreate, Name: "S"})
	popResponse(t, conn)
	a.handleRequest(session, &Request{Type: TypeServerListen, Name: "S", Port: intPtr(0)})
	popResponse(t, conn)

	server := a.servers["S"]
	defer server.Destroy()

	peer := &fakeConn{}
	fake.Accept(server.listener, peer)
	a.handleRequest(session, &Request{Type: TypeServerAccept, Name: "S", SessionName: "sess"})
	popResponse(t, conn)

	first := fix.Encode("FIX.4.2", []fix.Field{{Tag: fix.TagMsgType, Value: "0"}, {Tag: 34, Value: "1"}})
	second := fix.Encode("FIX.4.2", []fix.Field{{Tag: fix.TagMsgType, Value: "0"}, {Tag: 34, Value: "2"}})
	fake.Deliver(peer, append(append([]byte{}, first...), second...))

	a.handleRequest(session, &Request{Type: TypeServerGetPendingReceive, Name: "sess"})
	if resp := popResponse(t, conn); resp.Count != 2 {
		t.Fatalf("expected 2 pending messages, got %d", resp.Count)
	}

	// FIFO retrieval.
	for _, want := range [][]byte{first, second} {
		a.handleRequest(session, &Request{Type: TypeServerReceive, Name: "sess"})
		resp := popResponse(t, conn)
		if !resp.Success || resp.Message != string(want) {
			t.Fatalf("receive returned %q, want %q", resp.Message, want)
		}
	}

	// Empty queue is a success with an empty message.
	a.handleRequest(session, &Request{Type: TypeServerReceive, Name: "sess"})
	if resp := popResponse(t, conn); !resp.Success || resp.Message != "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	// Sending writes the caller's bytes verbatim to the peer.
	a.handleRequest(session, &Request{Type: TypeServerSend, Name: "sess", Message: string(first)})
	if resp := popResponse(t, conn); !resp.Success {
		t.Fatalf("send failed: %+v", resp)
	}
	if diff := deep.Equal(peer.Written(), first); diff != nil {
		t.Fatal(diff)
	}
}

func TestServerSessionPeerClose(t *testing.T) {
	a, fake, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeServerCreate, Name: "S"})
	popResponse(t, conn)
	a.handleRequest(session, &Request{Type: TypeServerListen, Name: "S", Port: intPtr(0)})
	popResponse(t, conn)

	server := a.servers["S"]
	defer server.Destroy()

	peer := &fakeConn{}
	fake.Accept(server.listener, peer)
	a.handleRequest(session, &Request{Type: TypeServerAccept, Name: "S", SessionName: "sess"})
	popResponse(t, conn)

	// Zero-length read: normal transition to disconnected, not a failure.
	fake.Deliver(peer, nil)

	a.handleRequest(session, &Request{Type: TypeServerIsConnected, Name: "sess"})
	resp := popResponse(t, conn)
	if !resp.Success || resp.Connected {
		t.Fatalf("expected a successful connected=false response, got %+v", resp)
	}

	// Disconnecting an already-disconnected session stays clean.
	a.handleRequest(session, &Request{Type: TypeServerDisconnect, Name: "sess"})
	if resp := popResponse(t, conn); !resp.Success {
		t.Fatalf("disconnect failed: %+v", resp)
	}
}

func TestServerDestroyCascades(t *testing.T) {
	a, fake, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeServerCreate, Name: "S"})
	popResponse(t, conn)
	a.handleRequest(session, &Request{Type: TypeServerListen, Name: "S", Port: intPtr(0)})
	popResponse(t, conn)

	server := a.servers["S"]

	accepted := &fakeConn{}
	pending := &fakeConn{}
	fake.Accept(server.listener, accepted)
	fake.Accept(server.listener, pending)
	a.handleRequest(session, &Request{Type: TypeServerAccept, Name: "S", SessionName: "sess"})
	popResponse(t, conn)

	a.handleRequest(session, &Request{Type: TypeServerDestroy, Name: "S"})
	if resp := popResponse(t, conn); !resp.Success {
		t.Fatalf("destroy failed: %+v", resp)
	}

	if _, ok := a.servers["S"]; ok {
		t.Fatal("server still in table after destroy")
	}
	if _, ok := a.serverSessions["sess"]; ok {
		t.Fatal("accepted session still addressable after server destroy")
	}
	if !accepted.Closed() || !pending.Closed() {
		t.Fatal("destroy did not close every owned connection")
	}
}

func TestUnknownRequestTypeSilentlyDropped(t *testing.T) {
	a, _, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: "bogus"})
	if responses := popResponses(t, conn); len(responses) != 0 {
		t.Fatalf("expected no response, got %+v", responses)
	}
}

func TestPing(t *testing.T) {
	a, _, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypePing})
	resp := popResponse(t, conn)
	if !resp.Success || resp.Type != TypePong {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestStatusCounts(t *testing.T) {
	a, _, session, conn := newTestAgent(t)

	a.handleRequest(session, &Request{Type: TypeClientCreate, Name: "C1"})
	popResponse(t, conn)
	a.handleRequest(session, &Request{Type: TypeClientCreate, Name: "C2"})
	popResponse(t, conn)
	a.handleRequest(session, &Request{Type: TypeServerCreate, Name: "S"})
	popResponse(t, conn)

	a.handleRequest(session, &Request{Type: TypeStatus})
	resp := popResponse(t, conn)
	if resp.Clients != 2 || resp.Servers != 1 || resp.ServerSessions != 0 {
		t.Fatalf("unexpected status %+v", resp)
	}

	if len(resp.Entities) != 3 {
		t.Fatalf("expected 3 entity entries, got %d", len(resp.Entities))
	}
	for i, expected := range []EntityStatus{
		{Kind: kindClient, Name: "C1", CreatedSeq: 1},
		{Kind: kindClient, Name: "C2", CreatedSeq: 2},
		{Kind: kindServer, Name: "S", CreatedSeq: 3},
	} {
		got := resp.Entities[i]
		if got.Kind != expected.Kind || got.Name != expected.Name || got.CreatedSeq != expected.CreatedSeq {
			t.Errorf("entity %d: want %s %s seq %d, got %+v",
				i, expected.Kind, expected.Name, expected.CreatedSeq, got)
		}
		if got.CreatedAt.IsZero() {
			t.Errorf("entity %d has no creation timestamp", i)
		}
	}
}
