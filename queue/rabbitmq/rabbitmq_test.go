package rabbitmq

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pure-golang/bulkmail/queue"
)

func TestRetryPolicies(t *testing.T) {
	t.Parallel()

	c := NewConstantInterval(time.Second)
	d, stop := c.TryNum(100)
	assert.Equal(t, time.Second, d)
	assert.False(t, stop)

	m, err := NewMaxInterval(time.Second, 5*time.Second, 2)
	require.NoError(t, err)
	d, stop = m.TryNum(2)
	assert.Equal(t, 4*time.Second, d)
	assert.False(t, stop)
	_, stop = m.TryNum(3)
	assert.True(t, stop)

	_, err = NewMaxInterval(0, time.Second, 1)
	assert.Error(t, err)

	def := NewDefaultMaxInterval()
	d, stop = def.TryNum(0)
	assert.Zero(t, d)
	assert.False(t, stop)
}

func TestConfig_RetryPolicy(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Config{}.RetryPolicy(), "the dialer falls back to MaxInterval")

	policy := Config{ReconnectInterval: 3 * time.Second}.RetryPolicy()
	require.IsType(t, &ConstantInterval{}, policy)
	d, stop := policy.TryNum(1000)
	assert.Equal(t, 3*time.Second, d)
	assert.False(t, stop)

	dialer := NewDialer("amqp://localhost", &DialerOptions{RetryPolicy: policy})
	assert.Same(t, policy, dialer.options.RetryPolicy)
}

func TestRetryCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 0, retryCount(amqp.Table{}))
	assert.Equal(t, 0, retryCount(amqp.Table{KeyCountRetries: "2"}))
	assert.Equal(t, 2, retryCount(amqp.Table{KeyCountRetries: int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{KeyCountRetries: int64(3)}))
	assert.Equal(t, 4, retryCount(amqp.Table{KeyCountRetries: 4}))
}

func TestNewDelivery(t *testing.T) {
	t.Parallel()

	d := newDelivery(amqp.Delivery{
		Headers:       amqp.Table{"kind": "sent", KeyCountRetries: int32(1)},
		CorrelationId: "campaign-1",
		Body:          []byte(`{}`),
	}, 2)

	assert.Equal(t, "sent", d.Headers["kind"])
	assert.Equal(t, "1", d.Headers[KeyCountRetries])
	assert.Equal(t, "campaign-1", d.Headers["correlation-id"])
	assert.Equal(t, 2, d.Attempt)
	assert.Equal(t, []byte(`{}`), d.Body)
}

func TestTableCarrier(t *testing.T) {
	t.Parallel()

	c := tableCarrier(amqp.Table{})
	assert.Empty(t, c.Get("traceparent"))
	c.Set("traceparent", "00-abc")
	assert.Equal(t, "00-abc", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}

func TestPublisher_ToPublishing(t *testing.T) {
	t.Parallel()

	p := NewPublisher(NewDialer("amqp://localhost", nil), PublisherConfig{MessageTTL: time.Minute})

	pub, err := p.toPublishing(context.Background(), queue.Message{
		Key:     "campaign-1",
		Headers: map[string]string{"kind": "waiting"},
		Body:    map[string]int{"current": 2},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, "campaign-1", pub.CorrelationId)
	assert.Equal(t, uint8(Persistent), pub.DeliveryMode)
	assert.Equal(t, "60000", pub.Expiration)
	assert.Equal(t, "waiting", pub.Headers["kind"])
	assert.NotEmpty(t, pub.MessageId)
	assert.JSONEq(t, `{"current":2}`, string(pub.Body))

	pub, err = p.toPublishing(context.Background(), queue.Message{Body: "x", TTL: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "1000", pub.Expiration)
}

func TestDialer_NotConnected(t *testing.T) {
	t.Parallel()

	d := NewDialer("amqp://localhost", nil)
	_, err := d.Channel()
	assert.ErrorIs(t, err, ErrConnectionClosed)

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Connect(), ErrConnectionClosed)

	err = NewPublisher(d, PublisherConfig{}).Publish(context.Background(), queue.Message{Body: "x"})
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestSubscriber_Defaults(t *testing.T) {
	t.Parallel()

	s := NewSubscriber(NewDialer("amqp://localhost", nil), queue.TopicCampaigns, SubscriberOptions{})
	assert.NotEmpty(t, s.name)
	assert.Equal(t, 3, s.cfg.MaxTryNum)
	assert.Equal(t, 5*time.Second, s.cfg.Backoff)
	assert.NoError(t, s.Close())

	named := NewSubscriber(NewDialer("amqp://localhost", nil), queue.TopicCampaigns, SubscriberOptions{Name: "worker-1"})
	assert.Equal(t, "worker-1", named.name)
}
