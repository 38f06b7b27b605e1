package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bugtracker/history-stack/common/messaging"
)

// Outcome describes how a failed delivery was settled.
type Outcome string

const (
	OutcomeAcked      Outcome = "acked"
	OutcomeRetried    Outcome = "retried"
	OutcomeParked     Outcome = "parked"
	OutcomeTerminated Outcome = "terminated"
	OutcomeDropped    Outcome = "dropped"
)

// FailurePolicy settles a delivery whose handler returned cause.
type FailurePolicy interface {
	Settle(ctx context.Context, d messaging.Delivery, msg *messaging.Message, cause error) (Outcome, error)
}

// RetryPolicy asks the broker to redeliver. The delay starts at Delay and doubles with every
// attempt up to MaxDelay. With MaxDeliver > 0 the delivery that uses the last attempt is
// terminated and reported as dropped; it must match the consumer's MaxDeliver. Undecodable and
// rejected messages are terminated.
type RetryPolicy struct {
	Delay      time.Duration
	MaxDelay   time.Duration
	MaxDeliver int
}

func (p RetryPolicy) Settle(_ context.Context, d messaging.Delivery, _ *messaging.Message, cause error) (Outcome, error) {
	if errors.Is(cause, ErrDecode) || errors.Is(cause, ErrRejected) {
		return OutcomeTerminated, d.Term()
	}
	if p.MaxDeliver > 0 && d.Attempts() >= uint64(p.MaxDeliver) {
		return OutcomeDropped, d.Term()
	}
	return OutcomeRetried, d.Nak(p.delay(d.Attempts()))
}

func (p RetryPolicy) delay(attempt uint64) time.Duration {
	if p.Delay <= 0 || p.MaxDelay <= p.Delay || attempt <= 1 {
		return p.Delay
	}
	return Backoff(p.Delay, p.MaxDelay, int(min(attempt-1, 32)))
}

// ParkFunc stores a message that will not be retried any more.
type ParkFunc func(ctx context.Context, msg *messaging.Message, reason string, cause error, attempts uint64) error

// Park reasons.
const (
	ReasonDecode    = "decode"
	ReasonExhausted = "exhausted"
	ReasonRejected  = "rejected"
)

// ParkPolicy retries up to MaxAttempts deliveries, then parks the message and acknowledges it.
// Undecodable and rejected messages are parked immediately. If parking fails the message is retried.
type ParkPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Park        ParkFunc
}

func (p ParkPolicy) Settle(ctx context.Context, d messaging.Delivery, msg *messaging.Message, cause error) (Outcome, error) {
	reason := ""
	switch {
	case errors.Is(cause, ErrDecode):
		reason = ReasonDecode
	case errors.Is(cause, ErrRejected):
		reason = ReasonRejected
	case d.Attempts() >= uint64(p.maxAttempts()):
		reason = ReasonExhausted
	default:
		return OutcomeRetried, d.Nak(p.Delay)
	}

	if err := p.Park(ctx, msg, reason, cause, d.Attempts()); err != nil {
		return OutcomeRetried, errors.Join(fmt.Errorf("park: %w", err), d.Nak(p.Delay))
	}
	return OutcomeParked, d.Ack()
}

func (p ParkPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}
