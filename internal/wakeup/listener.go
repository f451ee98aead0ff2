package wakeup

import (
	"context"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/piratar/members-sync/pkg/logger"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// Listener turns wake-up messages into signals for the reconciler.
type Listener struct {
	subscription receiver
	signal       *Signal
	logg         *logger.Logger
}

// NewListener builds a listener over the sync subscription.
func NewListener(subscription *gcppubsub.Subscriber, signal *Signal, logg *logger.Logger) (*Listener, error) {
	if subscription == nil {
		return nil, fmt.Errorf("sync subscription required")
	}
	return newListener(subscription, signal, logg)
}

func newListener(subscription receiver, signal *Signal, logg *logger.Logger) (*Listener, error) {
	if signal == nil {
		return nil, fmt.Errorf("signal required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Listener{subscription: subscription, signal: signal, logg: logg}, nil
}

// Run receives until the context is canceled. Every message is acked; a lost wake-up only delays the next poll.
func (l *Listener) Run(ctx context.Context) error {
	return l.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		logCtx := l.logg.WithFields(ctx, map[string]any{
			"message_id": msg.ID,
			"entry_id":   msg.Attributes[AttrEntryID],
			"record_key": msg.Attributes[AttrRecordKey],
		})
		l.logg.Debug(logCtx, "sync wakeup received")
		l.signal.Poke()
		msg.Ack()
	})
}
