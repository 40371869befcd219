package outbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/ledger-engine/ledger"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Log *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev ledger.Event) error {
	p.Log.Info("ledger event",
		zap.String("event_id", ev.ID),
		zap.String("tenant_id", string(ev.TenantID)),
		zap.String("topic", ev.Topic),
		zap.String("key", ev.Key),
		zap.ByteString("payload", ev.Payload),
	)
	return nil
}
