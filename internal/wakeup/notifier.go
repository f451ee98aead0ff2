package wakeup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/piratar/members-sync/pkg/db/models"
)

const defaultPublishTimeout = 5 * time.Second

// Attribute keys carried on wake-up messages.
const (
	AttrEntryID   = "entry_id"
	AttrRecordKey = "record_key"
	AttrAction    = "action"
	AttrCreatedAt = "created_at"
)

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// Publisher announces committed queue entries on the sync topic.
type Publisher struct {
	pub     publisher
	timeout time.Duration
}

// NewPublisher wraps a Pub/Sub publisher handle.
func NewPublisher(p *gcppubsub.Publisher) (*Publisher, error) {
	if p == nil {
		return nil, fmt.Errorf("sync publisher required")
	}
	return &Publisher{pub: &gcpPublisher{Publisher: p}, timeout: defaultPublishTimeout}, nil
}

// Notify publishes the entry identity. The message body is empty; the queue stays the source of truth.
func (p *Publisher) Notify(ctx context.Context, entry *models.SyncQueueEntry) error {
	if entry == nil {
		return nil
	}
	msg := &gcppubsub.Message{
		Attributes: map[string]string{
			AttrEntryID:   strconv.FormatInt(entry.ID, 10),
			AttrRecordKey: entry.RecordKey,
			AttrAction:    string(entry.Action),
			AttrCreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	result := p.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish wakeup for entry %d: %w", entry.ID, err)
	}
	return nil
}

// Signal is an in-process notifier that nudges a reconciler running in the same binary.
type Signal struct {
	ch chan struct{}
}

// NewSignal builds a signal with a single pending slot.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify never blocks; repeated signals collapse into one.
func (s *Signal) Notify(_ context.Context, _ *models.SyncQueueEntry) error {
	s.Poke()
	return nil
}

// Poke queues a wake-up if none is pending.
func (s *Signal) Poke() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C is the receive side handed to the reconciler.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
