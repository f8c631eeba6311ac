// Package progress delivers dispatch events to listeners: logs, a live snapshot
// in the key-value store and the events topic of the message broker.
package progress

import (
	"context"

	"github.com/pure-golang/bulkmail/dispatch"
	"github.com/pure-golang/bulkmail/logger"
)

// Fanout calls every non-nil fn in order for each event.
func Fanout(fns ...dispatch.ProgressFunc) dispatch.ProgressFunc {
	active := make([]dispatch.ProgressFunc, 0, len(fns))
	for _, fn := range fns {
		if fn != nil {
			active = append(active, fn)
		}
	}

	return func(e dispatch.Event) {
		for _, fn := range active {
			fn(e)
		}
	}
}

// Log writes events to the context logger. Waiting events are logged at info,
// failures at warn and sends at debug.
func Log(ctx context.Context, campaignID string) dispatch.ProgressFunc {
	log := logger.FromContext(ctx).WithGroup("progress").With("campaign_id", campaignID)

	return func(e dispatch.Event) {
		args := []any{"current", e.Current, "total", e.Total}
		switch e.Kind {
		case dispatch.KindWaiting:
			log.InfoContext(ctx, e.Message, append(args, "wait", e.Wait)...)
		case dispatch.KindFailed:
			log.WarnContext(ctx, e.Message, append(args, "email", e.Email)...)
		default:
			log.DebugContext(ctx, e.Message, append(args, "email", e.Email)...)
		}
	}
}
