package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/ioutil"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fixtool/fixtool/internal/core"
	"github.com/fixtool/fixtool/internal/frame"
	"github.com/fixtool/fixtool/internal/reactor"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn implements net.Conn with an in-memory sink for written bytes so
// handler tests can inspect framed responses without a real socket.
type fakeConn struct {
	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func (c *fakeConn) Read(b []byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errors.New("write on closed connection")
	}
	return c.written.Write(b)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.written.Len())
	copy(out, c.written.Bytes())
	c.written.Reset()
	return out
}

func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr("remote") }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// testResponse is the union of all response fields, for assertions.
type testResponse struct {
	Type           string `json:"type"`
	Name           string `json:"name"`
	Success        bool   `json:"success"`
	Reason         string `json:"reason"`
	Connected      bool   `json:"connected"`
	Count          int    `json:"count"`
	SessionName    string `json:"session_name"`
	Message        string `json:"message"`
	Clients        int    `json:"clients"`
	Servers        int    `json:"servers"`
	ServerSessions int    `json:"server_sessions"`

	Entities []EntityStatus `json:"entities"`
}

func testConfig() *core.Config {
	cfg := &core.Config{
		Hostname:       "127.0.0.1",
		ReadBufferSize: 65536,
		MaxFrameSize:   1 << 20,
		LogLevel:       "panic",
	}
	return cfg
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = ioutil.Discard
	return logger
}

// newTestAgent returns an agent on a fake reactor with one control session
// already accepted.
func newTestAgent(t *testing.T) (*Agent, *reactor.Fake, *ControlSession, *fakeConn) {
	t.Helper()

	fake := reactor.NewFake()
	a := New(testConfig(), testLogger(), fake)

	conn := &fakeConn{}
	a.acceptControl(conn)

	session, ok := a.controlSessions[conn]
	if !ok {
		t.Fatal("control session was not registered on accept")
	}
	return a, fake, session, conn
}

// popResponses decodes every framed response written to conn since the last
// call.
func popResponses(t *testing.T, conn *fakeConn) []testResponse {
	t.Helper()

	var buf frame.Buffer
	buf.Append(conn.Written())

	var responses []testResponse
	for {
		payload, ok := buf.Next()
		if !ok {
			break
		}
		var resp testResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			t.Fatalf("malformed response payload %q: %v", payload, err)
		}
		responses = append(responses, resp)
	}

	if buf.Buffered() != 0 {
		t.Fatalf("%d stray bytes after decoding responses", buf.Buffered())
	}
	return responses
}

// popResponse asserts exactly one response was written and returns it.
func popResponse(t *testing.T, conn *fakeConn) testResponse {
	t.Helper()

	responses := popResponses(t, conn)
	if len(responses) != 1 {
		t.Fatalf("expected exactly one response, got %d", len(responses))
	}
	return responses[0]
}

// waitForSubmit polls until the fake reactor has at least one scheduled
// function, then runs everything scheduled.
func waitForSubmit(t *testing.T, fake *reactor.Fake) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fake.PendingSubmits() > 0 {
			fake.Flush()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a scheduled reactor callback")
}
