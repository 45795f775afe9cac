// Package frame implements the length-prefixed framing used on the control
// channel: a 4 byte unsigned big-endian length followed by that many bytes
// of payload.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the number of bytes in the length prefix.
const HeaderSize = 4

// Encode returns payload prefixed with its 4 byte big-endian length.
func Encode(payload []byte) []byte {
	framed := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(framed, uint32(len(payload)))
	copy(framed[HeaderSize:], payload)
	return framed
}

// Write frames payload and writes it to w as a single Write call so that the
// header and payload can never be interleaved with another frame.
func Write(w io.Writer, payload []byte) error {
	framed := Encode(payload)

	sent := 0
	for sent < len(framed) {
		n, err := w.Write(framed[sent:])
		if err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		sent += n
	}
	return nil
}

// Buffer accumulates bytes read off a socket and yields complete frame
// payloads as they become available. Bytes belonging to an incomplete frame
// are retained until the rest of the frame arrives.
type Buffer struct {
	data []byte
}

// Append adds newly received bytes to the accumulation buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Next extracts the payload of the next complete frame, returning false if
// the buffered bytes do not yet form one. A frame is only consumed once all
// of its bytes are present.
func (b *Buffer) Next() ([]byte, bool) {
	if len(b.data) < HeaderSize {
		return nil, false
	}

	payloadLen := int(binary.BigEndian.Uint32(b.data[:HeaderSize]))
	if len(b.data) < HeaderSize+payloadLen {
		return nil, false
	}

	payload := make([]byte, payloadLen)
	copy(payload, b.data[HeaderSize:HeaderSize+payloadLen])
	b.data = b.data[HeaderSize+payloadLen:]
	return payload, true
}

// PendingLength returns the declared payload length of the buffered
// incomplete frame, or false if not even the length prefix has arrived.
// Callers use this to reject frames larger than they're willing to buffer;
// no limit is enforced at this layer.
func (b *Buffer) PendingLength() (int, bool) {
	if len(b.data) < HeaderSize {
		return 0, false
	}
	return int(binary.BigEndian.Uint32(b.data[:HeaderSize])), true
}

// Buffered returns the number of bytes held for reassembly.
func (b *Buffer) Buffered() int {
	return len(b.data)
}
