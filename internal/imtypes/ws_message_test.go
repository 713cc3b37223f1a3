package imtypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireIDAcceptsStringAndNumber(t *testing.T) {
	var target RelayTarget
	require.NoError(t, json.Unmarshal([]byte(`{"receiverId":"12","conversationId":7}`), &target))

	id, ok := target.ReceiverID.Uint()
	assert.True(t, ok)
	assert.Equal(t, uint(12), id)
	id, ok = target.ConversationID.Uint()
	assert.True(t, ok)
	assert.Equal(t, uint(7), id)

	_, ok = WireID("abc").Uint()
	assert.False(t, ok)
	_, ok = WireID("").Uint()
	assert.False(t, ok)
}

func TestRawEnvelopeKeepsDataBytes(t *testing.T) {
	data := []byte(`{ "receiverId": "2", "content": "<b>hi</b>" }`)
	frame := RawEnvelope(EventReceiveMessage, data)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, EventReceiveMessage, env.Event)
	assert.Equal(t, string(data), string(env.Data))
}
