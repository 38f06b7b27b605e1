package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is reported on Session.Done when the underlying connection went away.
var ErrSessionClosed = errors.New("messaging: session closed")

// StreamSpec describes a durable stream that captures a set of subjects.
type StreamSpec struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64

	// WorkQueue removes messages from the stream once acknowledged.
	WorkQueue bool
}

// ConsumerSpec describes a durable, explicitly acknowledged consumer on a stream.
// A single consumer may bind several filter subjects.
type ConsumerSpec struct {
	Stream         string
	Durable        string
	FilterSubjects []string
	AckWait        time.Duration
	// MaxDeliver bounds deliveries per message; UnlimitedDeliveries removes the bound and
	// zero selects the broker client's default.
	MaxDeliver    int
	MaxAckPending int
}

// UnlimitedDeliveries is the MaxDeliver of a consumer that redelivers until acknowledged.
const UnlimitedDeliveries = -1

// Delivery is a message read from a durable consumer that must be settled exactly once.
type Delivery interface {
	Message() *Message

	// Ack confirms processing; the broker will not redeliver.
	Ack() error

	// Nak asks for redelivery after delay.
	Nak(delay time.Duration) error

	// Term tells the broker never to redeliver this message.
	Term() error

	// Attempts is the 1-based delivery count of this message.
	Attempts() uint64
}

// Session is one logical connection to a durable broker.
type Session interface {
	EnsureStream(ctx context.Context, spec StreamSpec) error

	// Consume starts pushing deliveries for the durable consumer described by spec.
	// The returned stop function ends the push; unsettled deliveries are redelivered later.
	Consume(ctx context.Context, spec ConsumerSpec, deliver func(Delivery)) (stop func(), err error)

	// Done is closed, after sending the cause if any, when the session can no longer be used.
	Done() <-chan error

	Close() error
}

// Connector opens sessions. Implementations may share one physical connection.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// PersistentPublisher publishes into durable streams and waits for the broker's acknowledgement.
type PersistentPublisher interface {
	PublishPersistent(ctx context.Context, msg *Message) error
}

// ReplyQueue is a private, auto-named subscription used to receive replies.
type ReplyQueue interface {
	// Subject is the address callers put into the Reply-To header.
	Subject() string

	// Next blocks until a message arrives or ctx is done.
	Next(ctx context.Context) (*Message, error)

	Close() error
}

// Inbox opens reply queues.
type Inbox interface {
	OpenReplyQueue(ctx context.Context) (ReplyQueue, error)
}
