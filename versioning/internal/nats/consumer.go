// Package nats binds the version writer to the item change stream.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	commonconfig "github.com/bugtracker/history-stack/common/config"
	"github.com/bugtracker/history-stack/common/events"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/common/messaging/consumer"
	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
	"github.com/bugtracker/history-stack/versioning/internal/metrics"
	"github.com/bugtracker/history-stack/versioning/internal/models"
	"github.com/bugtracker/history-stack/versioning/internal/repository"
	"github.com/bugtracker/history-stack/versioning/internal/service"
)

// VersionCreator is implemented by *service.Service.
type VersionCreator interface {
	CreateItemVersion(ctx context.Context, itemType, itemID string, data json.RawMessage, idempotencyKey string) (*models.VersionEnvelope, error)
}

// EventHandler turns item change events into versions.
type EventHandler struct {
	svc    VersionCreator
	logger *slog.Logger
}

func NewEventHandler(svc VersionCreator) *EventHandler {
	return &EventHandler{
		svc:    svc,
		logger: slog.Default().With(slog.String("component", "version-events")),
	}
}

// Handle is a consumer.Handler. Events that can never be versioned are rejected;
// every other failure is returned so the event is redelivered.
func (h *EventHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	var ev events.ItemChangeEvent
	if err := consumer.DecodeJSON(msg, &ev); err != nil {
		metrics.EventsRejected.WithLabelValues("decode").Inc()
		return err
	}

	key := ev.MutationID
	if key == "" {
		key = msg.Header(messaging.HeaderMutationID)
	}

	env, err := h.svc.CreateItemVersion(ctx, ev.Type, ev.ID, ev.Data, key)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidItemType) || errors.Is(err, service.ErrValidation) {
			metrics.EventsRejected.WithLabelValues("invalid").Inc()
			return fmt.Errorf("%w: %v", consumer.ErrRejected, err)
		}
		return err
	}

	h.logger.DebugContext(ctx, "item change versioned",
		logging.Subject(msg.Subject), logging.Item(ev.ID, ev.Type), logging.Version(env.Version))
	return nil
}

// NewConsumer creates the durable version-writer consumer on the item change stream.
// Redelivery is unbounded so an item change outlives any store outage; the retry delay
// grows from RetryDelay to MaxRetryDelay.
func NewConsumer(connector messaging.Connector, h *EventHandler, cfg commonconfig.ConsumerConfig) *consumer.Consumer {
	return consumer.New(connector, h.Handle, consumer.Config{
		Streams: []messaging.StreamSpec{natsclient.VersionEventsStream},
		Consumer: messaging.ConsumerSpec{
			Stream:         natsclient.VersionEventsStream.Name,
			Durable:        messaging.ConsumerVersionWriter,
			FilterSubjects: []string{messaging.SubjectVersionPrefix + ".>"},
			AckWait:        cfg.AckWait,
			MaxDeliver:     messaging.UnlimitedDeliveries,
			MaxAckPending:  cfg.MaxAckPending,
		},
		QueueSize:      cfg.QueueSize,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Policy:         consumer.RetryPolicy{Delay: cfg.RetryDelay, MaxDelay: cfg.MaxRetryDelay},
	})
}
