package audit

import (
	"context"
	"time"

	"deedgate/pkg/platform/sentinel"
)

// Inbox is a non-blocking Emit adapter over a Worker's channel. When the
// buffer is full the event is dropped and ErrUnavailable returned so the
// caller can log the loss; audit delivery never blocks request handling.
type Inbox struct {
	ch chan<- Event
}

func NewInbox(ch chan<- Event) *Inbox {
	return &Inbox{ch: ch}
}

func (i *Inbox) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case i.ch <- event:
		return nil
	default:
		return sentinel.ErrUnavailable
	}
}
