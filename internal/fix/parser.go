package fix

import (
	"bytes"
	"fmt"
)

var (
	beginStringPrefix = []byte(fmt.Sprintf("%d=", TagBeginString))
	checkSumPrefix    = []byte(fmt.Sprintf("%c%d=", SOH, TagCheckSum))
)

// Parser incrementally decodes a byte stream into complete messages. Bytes
// are appended as they arrive off the socket; Message returns nil until a
// full message (begin string through checksum) has been buffered.
type Parser struct {
	buf []byte
}

// Append adds newly received bytes to the parse buffer.
func (p *Parser) Append(data []byte) {
	p.buf = append(p.buf, data...)
}

// Message extracts and returns the next complete message, or nil if the
// buffered bytes do not yet contain one. Bytes preceding the next begin
// string field are discarded.
func (p *Parser) Message() *Message {
	start := bytes.Index(p.buf, beginStringPrefix)
	if start < 0 {
		return nil
	}
	// An SOH-delimited begin string later in the buffer wins as the resync
	// point. Without one, the found begin string starts the message: the
	// buffer only ever holds whole-message suffixes, so bytes before it can
	// only be garbage, never the tail of valid field content.
	if start > 0 && p.buf[start-1] != SOH {
		if next := p.nextStart(start); next >= 0 {
			start = next
		}
	}
	if start > 0 {
		p.buf = p.buf[start:]
		start = 0
	}

	end := bytes.Index(p.buf[start:], checkSumPrefix)
	if end < 0 {
		return nil
	}
	end += start + len(checkSumPrefix)

	// The checksum field's own terminating SOH marks the end of the message.
	term := bytes.IndexByte(p.buf[end:], SOH)
	if term < 0 {
		return nil
	}
	end += term + 1

	raw := make([]byte, end-start)
	copy(raw, p.buf[start:end])
	p.buf = p.buf[end:]

	return &Message{raw: raw, fields: parseFields(raw)}
}

// Buffered returns the number of bytes awaiting a complete message.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

func (p *Parser) nextStart(after int) int {
	idx := bytes.Index(p.buf[after:], append([]byte{SOH}, beginStringPrefix...))
	if idx < 0 {
		return -1
	}
	return after + idx + 1
}
