package progress

import (
	"context"
	"time"

	"github.com/pure-golang/bulkmail/dispatch"
	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/queue"
)

// EventMessage is the body published to the events topic.
type EventMessage struct {
	CampaignID string         `json:"campaign_id"`
	Event      dispatch.Event `json:"event"`
	Time       time.Time      `json:"time"`
}

// Events publishes dispatch events to a broker topic keyed by campaign.
type Events struct {
	publisher queue.Publisher
	topic     string
}

// NewEvents creates Events. An empty topic means queue.TopicEvents.
func NewEvents(publisher queue.Publisher, topic string) *Events {
	if topic == "" {
		topic = queue.TopicEvents
	}
	return &Events{publisher: publisher, topic: topic}
}

// Publish returns a ProgressFunc publishing every event of the campaign.
// Publish errors are logged and do not interrupt the run.
func (e *Events) Publish(ctx context.Context, campaignID string) dispatch.ProgressFunc {
	return func(ev dispatch.Event) {
		err := e.publisher.Publish(ctx, queue.Message{
			Topic: e.topic,
			Key:   campaignID,
			Body:  EventMessage{CampaignID: campaignID, Event: ev, Time: time.Now().UTC()},
		})
		if err != nil {
			logger.FromContextWithErr(ctx, err).WarnContext(ctx, "failed to publish progress event",
				"campaign_id", campaignID, "topic", e.topic)
		}
	}
}
