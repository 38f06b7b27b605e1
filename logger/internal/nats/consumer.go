// Package nats binds the log writer to the log event stream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	commonconfig "github.com/bugtracker/history-stack/common/config"
	"github.com/bugtracker/history-stack/common/events"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/common/messaging/consumer"
	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
	"github.com/bugtracker/history-stack/logger/internal/repository"
	"github.com/bugtracker/history-stack/logger/internal/service"
)

// LogCreator is implemented by *service.Service.
type LogCreator interface {
	IngestLog(ctx context.Context, entry events.LogEntry, msg *messaging.Message) (*events.LogEntry, error)
}

// EventHandler stores log events. Audit, monitor and error entries arrive on one
// consumer; the entry type travels in the payload.
type EventHandler struct {
	svc    LogCreator
	logger *slog.Logger
}

func NewEventHandler(svc LogCreator) *EventHandler {
	return &EventHandler{svc: svc, logger: logging.Component("log-events")}
}

// Handle is a consumer.Handler.
func (h *EventHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	var entry events.LogEntry
	if err := consumer.DecodeJSON(msg, &entry); err != nil {
		return err
	}

	stored, err := h.svc.IngestLog(ctx, entry, msg)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) ||
			errors.Is(err, repository.ErrInvalidLogType) ||
			errors.Is(err, service.ErrValidation) {
			return fmt.Errorf("%w: %v", consumer.ErrRejected, err)
		}
		return err
	}

	h.logger.DebugContext(ctx, "log event stored",
		logging.Subject(msg.Subject), slog.String("log_id", stored.ID), logging.LogDay(stored.Day()))
	return nil
}

// NewConsumer creates the durable log-writer consumer. One consumer is bound to every log
// category so entries are stored in a single ordered stream; failures are retried up to
// maxAttempts deliveries and then parked.
func NewConsumer(connector messaging.Connector, h *EventHandler, park consumer.ParkFunc, cfg commonconfig.ConsumerConfig, maxAttempts int) *consumer.Consumer {
	return consumer.New(connector, h.Handle, consumer.Config{
		Streams: []messaging.StreamSpec{natsclient.LogEventsStream, natsclient.LogDLQStream},
		Consumer: messaging.ConsumerSpec{
			Stream:  natsclient.LogEventsStream.Name,
			Durable: messaging.ConsumerLogWriter,
			FilterSubjects: []string{
				messaging.SubjectLogAudit + ".>",
				messaging.SubjectLogMonitor + ".>",
				messaging.SubjectLogError + ".>",
			},
			AckWait:       cfg.AckWait,
			MaxDeliver:    cfg.MaxDeliver,
			MaxAckPending: cfg.MaxAckPending,
		},
		QueueSize:      cfg.QueueSize,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Policy: consumer.ParkPolicy{
			MaxAttempts: maxAttempts,
			Delay:       cfg.RetryDelay,
			Park:        park,
		},
	})
}
