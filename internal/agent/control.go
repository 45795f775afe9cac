package agent

import (
	"errors"
	"fmt"
	"net"

	"github.com/fixtool/fixtool/internal/frame"
)

// ErrFrameTooLarge is returned by Drain when a control frame declares a
// payload larger than the configured maximum. The dispatcher treats it as a
// protocol violation and closes the offending control session.
var ErrFrameTooLarge = errors.New("control frame exceeds maximum size")

// ControlSession is one control-channel connection. It owns the partial
// frame accumulation buffer for that connection; it is not named, only keyed
// by its socket.
type ControlSession struct {
	conn     net.Conn
	buf      frame.Buffer
	maxFrame int
}

func newControlSession(conn net.Conn, maxFrame int) *ControlSession {
	return &ControlSession{conn: conn, maxFrame: maxFrame}
}

// Drain appends newly received bytes and extracts every complete framed
// payload currently buffered. Multiple frames arriving in one read are all
// returned, in order.
func (s *ControlSession) Drain(data []byte) ([][]byte, error) {
	s.buf.Append(data)

	var payloads [][]byte
	for {
		// Checked before extraction so an oversized frame is refused even
		// when all of its bytes arrived in one read.
		if length, ok := s.buf.PendingLength(); ok && s.maxFrame > 0 && length > s.maxFrame {
			return payloads, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, s.maxFrame)
		}
		payload, ok := s.buf.Next()
		if !ok {
			break
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// Send frames payload and writes it synchronously to the control client.
func (s *ControlSession) Send(payload []byte) error {
	return frame.Write(s.conn, payload)
}

// Close closes the underlying connection.
func (s *ControlSession) Close() error {
	return s.conn.Close()
}

// RemoteAddr identifies the control client, for logging.
func (s *ControlSession) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
