package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pure-golang/bulkmail/queue/encoders"
)

func TestMessage_EncodeValue(t *testing.T) {
	t.Parallel()

	msg := Message{Topic: TopicEvents, Key: "c1"}
	b, err := msg.EncodeValue(encoders.JSON{})
	require.NoError(t, err)
	assert.Nil(t, b)

	msg.Body = map[string]int{"current": 1}
	b, err = msg.EncodeValue(encoders.JSON{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":1}`, string(b))

	msg.Body = 1
	_, err = msg.EncodeValue(encoders.Text{})
	assert.Error(t, err)
}
