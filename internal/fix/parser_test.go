package fix

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func heartbeat(t *testing.T) []byte {
	t.Helper()
	return Encode("FIX.4.2", []Field{
		{Tag: TagMsgType, Value: "0"},
		{Tag: 49, Value: "SENDER"},
		{Tag: 56, Value: "TARGET"},
		{Tag: 34, Value: "1"},
	})
}

func TestParserCompleteMessage(t *testing.T) {
	var p Parser
	p.Append(heartbeat(t))

	msg := p.Message()
	require.NotNil(t, msg)
	require.Equal(t, "0", msg.MsgType())

	sender, ok := msg.Get(49)
	require.True(t, ok)
	require.Equal(t, "SENDER", sender)

	require.Nil(t, p.Message(), "expected exactly one message")
	require.Equal(t, 0, p.Buffered())
}

func TestParserIncrementalReassembly(t *testing.T) {
	encoded := heartbeat(t)

	for split := 1; split < len(encoded); split++ {
		var p Parser

		p.Append(encoded[:split])
		if msg := p.Message(); msg != nil {
			t.Fatalf("split %d: message decoded before all bytes arrived", split)
		}

		p.Append(encoded[split:])
		msg := p.Message()
		require.NotNil(t, msg, "split %d: expected a complete message", split)
		require.Equal(t, encoded, msg.Bytes())
	}
}

func TestParserMultipleMessagesPerAppend(t *testing.T) {
	first := Encode("FIX.4.2", []Field{{Tag: TagMsgType, Value: "0"}, {Tag: 34, Value: "1"}})
	second := Encode("FIX.4.2", []Field{{Tag: TagMsgType, Value: "1"}, {Tag: 34, Value: "2"}})

	var p Parser
	p.Append(append(append([]byte{}, first...), second...))

	msg1 := p.Message()
	require.NotNil(t, msg1)
	require.Equal(t, "0", msg1.MsgType())

	msg2 := p.Message()
	require.NotNil(t, msg2)
	require.Equal(t, "1", msg2.MsgType())

	require.Nil(t, p.Message())
}

func TestParserDiscardsLeadingGarbage(t *testing.T) {
	var p Parser
	p.Append([]byte("garbage bytes"))
	p.Append(heartbeat(t))

	msg := p.Message()
	require.NotNil(t, msg)
	require.Equal(t, "0", msg.MsgType())
	require.Equal(t, 0, p.Buffered())
}

func TestParserRecoversAfterGarbage(t *testing.T) {
	var p Parser
	p.Append([]byte("garbage bytes"))
	require.Nil(t, p.Message())

	// Messages arriving after the garbage must still come through; a dead
	// prefix can never wedge the stream.
	p.Append(heartbeat(t))
	p.Append(Encode("FIX.4.2", []Field{{Tag: TagMsgType, Value: "1"}, {Tag: 34, Value: "2"}}))

	first := p.Message()
	require.NotNil(t, first)
	require.Equal(t, "0", first.MsgType())

	second := p.Message()
	require.NotNil(t, second)
	require.Equal(t, "1", second.MsgType())
	require.Equal(t, 0, p.Buffered())
}

func TestMessageString(t *testing.T) {
	var p Parser
	p.Append(Encode("FIX.4.2", []Field{{Tag: TagMsgType, Value: "0"}}))

	msg := p.Message()
	require.NotNil(t, msg)
	require.Equal(t, "8=FIX.4.2|9=5|35=0|10=161", msg.String())
}
