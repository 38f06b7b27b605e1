package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bugtracker/history-stack/common/audit"
	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/common/middleware"
)

func persist(ctx context.Context, pub messaging.PersistentPublisher, subject string, v any, opts ...messaging.PublishOption) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		opts = append(opts, messaging.WithHeader(messaging.HeaderRequestID, reqID))
	}
	if err := pub.PublishPersistent(ctx, messaging.NewMessage(subject, data, opts...)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// VersionPublisher emits item change events for the versioning service.
type VersionPublisher struct {
	pub messaging.PersistentPublisher
	now func() time.Time
}

func NewVersionPublisher(pub messaging.PersistentPublisher) *VersionPublisher {
	return &VersionPublisher{pub: pub, now: time.Now}
}

// Publish sends ev on version.<type>.<action>. A zero timestamp is set to now.
func (p *VersionPublisher) Publish(ctx context.Context, action string, ev ItemChangeEvent) error {
	if ev.ID == "" || ev.Type == "" {
		return fmt.Errorf("item change event needs id and type")
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = p.now().UnixMilli()
	}
	var opts []messaging.PublishOption
	if ev.MutationID != "" {
		opts = append(opts, messaging.WithHeader(messaging.HeaderMutationID, ev.MutationID))
	}
	return persist(ctx, p.pub, messaging.VersionSubject(ev.Type, action), ev, opts...)
}

// LogPublisher emits log entries on behalf of one service.
type LogPublisher struct {
	pub     messaging.PersistentPublisher
	service string
	signer  *audit.Signer
	now     func() time.Time
}

// NewLogPublisher creates a publisher; signer may be nil.
func NewLogPublisher(pub messaging.PersistentPublisher, service string, signer *audit.Signer) *LogPublisher {
	return &LogPublisher{pub: pub, service: service, signer: signer, now: time.Now}
}

// Publish fills a missing id and timestamp, signs the entry and sends it on its category subject.
func (p *LogPublisher) Publish(ctx context.Context, entry LogEntry) error {
	if !ValidLogType(entry.Type) {
		return fmt.Errorf("invalid log type %q", entry.Type)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = p.now().UnixMilli()
	}
	entry.Signature = p.signer.Sign(&entry)
	return persist(ctx, p.pub, messaging.LogSubject(entry.Type, p.service), entry)
}
