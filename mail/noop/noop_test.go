package noop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pure-golang/bulkmail/mail"
)

func TestSender_Send(t *testing.T) {
	t.Parallel()

	sender := NewSender()
	emails := []mail.Email{
		{To: []mail.Address{{Address: "a@example.com"}}, Subject: "A"},
		{To: []mail.Address{{Address: "b@example.com"}}, Subject: "B"},
	}

	require.NoError(t, sender.Send(context.Background(), emails...))
	require.NoError(t, sender.Send(context.Background()))

	sent := sender.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "A", sent[0].Subject)
	assert.Equal(t, "b@example.com", sent[1].To[0].Address)

	sent[0].Subject = "changed"
	assert.Equal(t, "A", sender.Sent()[0].Subject)
}

func TestSender_VerifyAndClose(t *testing.T) {
	t.Parallel()

	sender := NewSender()

	assert.NoError(t, sender.Verify(context.Background()))
	assert.NoError(t, sender.Close())
	assert.NoError(t, sender.Close())
}
