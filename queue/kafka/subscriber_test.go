package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pure-golang/bulkmail/queue"
)

// fakeReader serves queued messages and then blocks until ctx is done.
type fakeReader struct {
	mx        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mx.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mx.Unlock()
		return msg, nil
	}
	r.mx.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestSubscriber(reader *fakeReader, cfg SubscriberConfig) *Subscriber {
	s := NewSubscriber(NewDialer(Config{Brokers: []string{"localhost:9092"}, GroupID: "test"}, nil), queue.TopicCampaigns, cfg)
	s.newReader = func() messageReader { return reader }
	return s
}

func TestSubscriber_Listen(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{pending: []kafka.Message{
		{Topic: queue.TopicCampaigns, Offset: 1, Value: []byte(`{"id":"a"}`), Headers: []kafka.Header{{Key: "k", Value: []byte("v")}}},
		{Topic: queue.TopicCampaigns, Offset: 2, Value: []byte(`{"id":"b"}`)},
	}}
	s := newTestSubscriber(reader, SubscriberConfig{Backoff: time.Millisecond})

	var (
		mx       sync.Mutex
		received []queue.Delivery
		done     = make(chan struct{})
	)
	handler := func(_ context.Context, d queue.Delivery) (bool, error) {
		mx.Lock()
		defer mx.Unlock()
		received = append(received, d)
		if len(received) == 2 {
			close(done)
		}
		return false, nil
	}

	go s.Listen(handler)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not delivered")
	}
	require.NoError(t, s.Close())

	mx.Lock()
	defer mx.Unlock()
	assert.Equal(t, `{"id":"a"}`, string(received[0].Body))
	assert.Equal(t, "v", received[0].Headers["k"])
	assert.Equal(t, 1, received[0].Attempt)
	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestSubscriber_Handle_Retries(t *testing.T) {
	t.Parallel()

	s := newTestSubscriber(&fakeReader{}, SubscriberConfig{MaxTryNum: 3, Backoff: time.Millisecond})

	var attempts []int
	s.handle(kafka.Message{Offset: 7}, func(_ context.Context, d queue.Delivery) (bool, error) {
		attempts = append(attempts, d.Attempt)
		return true, errors.New("campaign lock is held")
	})
	assert.Equal(t, []int{1, 2, 3}, attempts)

	attempts = nil
	s.handle(kafka.Message{Offset: 8}, func(_ context.Context, d queue.Delivery) (bool, error) {
		attempts = append(attempts, d.Attempt)
		return false, errors.New("invalid request")
	})
	assert.Equal(t, []int{1}, attempts, "non-retryable errors are not retried")
}

func TestSubscriber_CloseWithoutListen(t *testing.T) {
	t.Parallel()

	s := newTestSubscriber(&fakeReader{}, SubscriberConfig{})
	assert.NoError(t, s.Close())
}
