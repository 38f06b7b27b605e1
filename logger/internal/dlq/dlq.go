// Package dlq parks log events that could not be stored in the LOG_DLQ stream so
// operators can inspect and purge them.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/messaging"
	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
	"github.com/bugtracker/history-stack/logger/internal/metrics"
)

// FailedLog is one parked log event.
type FailedLog struct {
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	// Payload is the message body as received; it may not be valid JSON.
	Payload  string `json:"payload"`
	Error    string `json:"error"`
	Reason   string `json:"reason"`
	Attempts uint64 `json:"attempts"`
}

// Stream is the broker surface the queue needs; *nats.JetStreamClient and the memory
// broker implement it.
type Stream interface {
	messaging.PersistentPublisher
	EnsureStream(ctx context.Context, spec messaging.StreamSpec) error
	StreamMessages(ctx context.Context, streamName, filter string, limit int) ([]*messaging.Message, error)
	StreamMsgCount(ctx context.Context, streamName string) (uint64, error)
	PurgeStream(ctx context.Context, streamName string) error
}

// Queue writes failed log events to the dead-letter stream.
// Safe for use across multiple logger instances.
type Queue struct {
	js      Stream
	written atomic.Uint64
	now     func() time.Time
	logger  *slog.Logger
}

// NewQueue declares the dead-letter stream and returns a queue writing to it.
func NewQueue(ctx context.Context, js Stream) (*Queue, error) {
	if js == nil {
		return nil, errors.New("dlq stream is nil")
	}
	if err := js.EnsureStream(ctx, natsclient.LogDLQStream); err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger := logging.Component("log-dlq")
	logger.Info("DLQ stream ready", slog.String("stream", natsclient.LogDLQStream.Name))
	return &Queue{js: js, now: time.Now, logger: logger}, nil
}

// Park is a consumer.ParkFunc.
func (q *Queue) Park(ctx context.Context, msg *messaging.Message, reason string, cause error, attempts uint64) error {
	failed := FailedLog{
		Timestamp: q.now().UTC(),
		Subject:   msg.Subject,
		Payload:   string(msg.Data),
		Reason:    reason,
		Attempts:  attempts,
	}
	if cause != nil {
		failed.Error = cause.Error()
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	out := messaging.NewMessage(messaging.LogDLQSubject(reason), data)
	if id := msg.Header(messaging.HeaderRequestID); id != "" {
		out.SetHeader(messaging.HeaderRequestID, id)
	}
	if err := q.js.PublishPersistent(ctx, out); err != nil {
		q.logger.ErrorContext(ctx, "failed to publish DLQ entry", logging.Error(err))
		return err
	}

	q.written.Add(1)
	metrics.LogsParked.WithLabelValues(reason).Inc()
	q.logger.WarnContext(ctx, "log event parked",
		logging.Subject(msg.Subject), slog.String("reason", reason), slog.Uint64("attempts", attempts))
	return nil
}

// Stats summarises the dead-letter stream.
func (q *Queue) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"enabled":       true,
		"backend":       "jetstream",
		"stream":        natsclient.LogDLQStream.Name,
		"written_local": q.written.Load(),
	}
	n, err := q.js.StreamMsgCount(ctx, natsclient.LogDLQStream.Name)
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to read DLQ stream state", logging.Error(err))
		stats["error"] = err.Error()
		return stats
	}
	metrics.DLQDepth.Set(float64(n))
	stats["total_messages"] = n
	return stats
}

// List returns up to limit parked events, oldest first, optionally only those parked for reason.
func (q *Queue) List(ctx context.Context, reason string, limit int) ([]FailedLog, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := messaging.SubjectLogDLQ + ".>"
	if reason != "" {
		filter = messaging.LogDLQSubject(reason)
	}

	msgs, err := q.js.StreamMessages(ctx, natsclient.LogDLQStream.Name, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("read dlq: %w", err)
	}

	out := make([]FailedLog, 0, len(msgs))
	for _, m := range msgs {
		var failed FailedLog
		if err := json.Unmarshal(m.Data, &failed); err != nil {
			q.logger.WarnContext(ctx, "skipping unreadable DLQ message", logging.Error(err))
			continue
		}
		out = append(out, failed)
	}
	return out, nil
}

// Purge removes every parked event.
func (q *Queue) Purge(ctx context.Context) error {
	if err := q.js.PurgeStream(ctx, natsclient.LogDLQStream.Name); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.InfoContext(ctx, "DLQ purged")
	return nil
}
