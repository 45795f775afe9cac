// Package fix implements the incremental message codec used by simulated
// endpoints: an append-only parser that yields complete FIX messages as
// enough bytes arrive, and a Message value exposing the decoded fields.
//
// The agent treats message contents as opaque; only enough of the tag=value
// grammar is implemented to find message boundaries and read fields.
package fix

import (
	"fmt"
	"strconv"
	"strings"
)

// SOH is the FIX field delimiter.
const SOH = 0x01

// Well-known tags used for message delimiting.
const (
	TagBeginString = 8
	TagBodyLength  = 9
	TagMsgType     = 35
	TagCheckSum    = 10
)

// Field is a single tag=value pair.
type Field struct {
	Tag   int
	Value string
}

// Message is one complete decoded FIX message. Fields retain their wire
// order; raw holds the exact bytes the message arrived as.
type Message struct {
	raw    []byte
	fields []Field
}

// Bytes returns the message exactly as it appeared on the wire.
func (m *Message) Bytes() []byte {
	return m.raw
}

// String renders the raw message with SOH delimiters replaced by pipes, the
// conventional human-readable form.
func (m *Message) String() string {
	return strings.ReplaceAll(strings.TrimRight(string(m.raw), string(rune(SOH))), string(rune(SOH)), "|")
}

// Get returns the value of the first field with the given tag.
func (m *Message) Get(tag int) (string, bool) {
	for _, f := range m.fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// MsgType returns the value of tag 35, or "" if absent.
func (m *Message) MsgType() string {
	v, _ := m.Get(TagMsgType)
	return v
}

// FieldCount returns the number of decoded fields.
func (m *Message) FieldCount() int {
	return len(m.fields)
}

// Encode builds a wire-format message from a body of fields, prepending the
// begin string and body length and appending a computed checksum. Intended
// for tests and tooling; the agent itself sends caller-supplied bytes.
func Encode(beginString string, body []Field) []byte {
	var b strings.Builder
	for _, f := range body {
		fmt.Fprintf(&b, "%d=%s%c", f.Tag, f.Value, SOH)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "%d=%s%c", TagBeginString, beginString, SOH)
	fmt.Fprintf(&msg, "%d=%d%c", TagBodyLength, b.Len(), SOH)
	msg.WriteString(b.String())

	sum := 0
	for _, c := range []byte(msg.String()) {
		sum += int(c)
	}
	fmt.Fprintf(&msg, "%d=%03d%c", TagCheckSum, sum%256, SOH)

	return []byte(msg.String())
}

func parseFields(raw []byte) []Field {
	var fields []Field
	for _, part := range strings.Split(string(raw), string(rune(SOH))) {
		if part == "" {
			continue
		}
		idx := strings.IndexByte(part, '=')
		if idx < 1 {
			continue
		}
		tag, err := strconv.Atoi(part[:idx])
		if err != nil {
			continue
		}
		fields = append(fields, Field{Tag: tag, Value: part[idx+1:]})
	}
	return fields
}
