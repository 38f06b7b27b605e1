package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bugtracker/history-stack/common/messaging"
)

// JetStreamClient extends Client with durable streams and consumers.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream creates or updates the stream described by spec.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, spec messaging.StreamSpec) (jetstream.Stream, error) {
	cfg := jetstream.StreamConfig{
		Name:      spec.Name,
		Subjects:  spec.Subjects,
		MaxAge:    spec.MaxAge,
		MaxBytes:  spec.MaxBytes,
		MaxMsgs:   spec.MaxMsgs,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
	if spec.WorkQueue {
		cfg.Retention = jetstream.WorkQueuePolicy
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = -1
	}
	if cfg.MaxMsgs == 0 {
		cfg.MaxMsgs = -1
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", spec.Name, err)
	}
	return stream, nil
}

// EnsureStream creates or updates the stream described by spec.
func (c *JetStreamClient) EnsureStream(ctx context.Context, spec messaging.StreamSpec) error {
	_, err := c.CreateOrUpdateStream(ctx, spec)
	return err
}

// CreateOrUpdateConsumer creates or updates a durable, explicitly acknowledged consumer.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, spec messaging.ConsumerSpec) (jetstream.Consumer, error) {
	spec = withConsumerDefaults(spec)
	cfg := jetstream.ConsumerConfig{
		Name:          spec.Durable,
		Durable:       spec.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       spec.AckWait,
		MaxDeliver:    spec.MaxDeliver,
		MaxAckPending: spec.MaxAckPending,
	}
	switch len(spec.FilterSubjects) {
	case 0:
	case 1:
		cfg.FilterSubject = spec.FilterSubjects[0]
	default:
		cfg.FilterSubjects = spec.FilterSubjects
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, spec.Stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", spec.Durable, err)
	}
	return consumer, nil
}

// PublishPersistent stores msg in the stream capturing its subject and waits for the PubAck.
// A mutation id doubles as the JetStream message id, so the stream drops duplicates inside its window.
func (c *JetStreamClient) PublishPersistent(ctx context.Context, msg *messaging.Message) error {
	var opts []jetstream.PublishOpt
	if id := msg.Header(messaging.HeaderMutationID); id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}
	if _, err := c.js.PublishMsg(ctx, toNATS(msg), opts...); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// PublishSync publishes raw data to a stream subject and returns the acknowledgement.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}

// StreamInfo returns the state of a stream.
func (c *JetStreamClient) StreamInfo(ctx context.Context, name string) (*jetstream.StreamInfo, error) {
	stream, err := c.js.Stream(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", name, err)
	}
	return stream.Info(ctx)
}

// StreamMessages reads up to limit messages matching filter from the start of a stream
// through an ephemeral, unacknowledged consumer.
func (c *JetStreamClient) StreamMessages(ctx context.Context, streamName, filter string, limit int) ([]*messaging.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject:     filter,
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		MaxDeliver:        1,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []*messaging.Message
	for msg := range batch.Messages() {
		out = append(out, (&delivery{msg: msg}).Message())
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		c.logger.Warn("fetch completed with error", slog.String("stream", streamName), slog.String("error", err.Error()))
	}
	return out, nil
}

// StreamMsgCount returns the number of messages currently held by a stream.
func (c *JetStreamClient) StreamMsgCount(ctx context.Context, streamName string) (uint64, error) {
	info, err := c.StreamInfo(ctx, streamName)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

// PurgeStream removes every message from a stream.
func (c *JetStreamClient) PurgeStream(ctx context.Context, streamName string) error {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}
	if err := stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge stream %s: %w", streamName, err)
	}
	return nil
}

// Connect opens a session sharing this client's connection.
func (c *JetStreamClient) Connect(ctx context.Context) (messaging.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.conn.IsClosed() {
		return nil, nats.ErrConnectionClosed
	}
	if !c.conn.IsConnected() {
		return nil, fmt.Errorf("nats: not connected (status %s)", c.conn.Status())
	}

	s := &session{
		client: c,
		done:   make(chan error, 1),
	}
	c.mu.Lock()
	c.sessions[s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

// DefaultMaxDeliver applies to consumers created without a MaxDeliver.
const DefaultMaxDeliver = 5

func withConsumerDefaults(spec messaging.ConsumerSpec) messaging.ConsumerSpec {
	if spec.AckWait == 0 {
		spec.AckWait = 30 * time.Second
	}
	if spec.MaxDeliver == 0 {
		spec.MaxDeliver = DefaultMaxDeliver
	}
	if spec.MaxAckPending == 0 {
		spec.MaxAckPending = 100
	}
	return spec
}

type session struct {
	client *JetStreamClient

	mu       sync.Mutex
	consumes []jetstream.ConsumeContext
	done     chan error
	closed   bool
}

func (s *session) EnsureStream(ctx context.Context, spec messaging.StreamSpec) error {
	return s.client.EnsureStream(ctx, spec)
}

func (s *session) Consume(ctx context.Context, spec messaging.ConsumerSpec, deliver func(messaging.Delivery)) (func(), error) {
	consumer, err := s.client.CreateOrUpdateConsumer(ctx, spec)
	if err != nil {
		return nil, err
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		deliver(&delivery{msg: msg})
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		if isFatalConsumeError(err) {
			s.fail(err)
			return
		}
		s.client.logger.Warn("consume error", slog.String("consumer", spec.Durable), slog.String("error", err.Error()))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", spec.Durable, err)
	}

	s.mu.Lock()
	s.consumes = append(s.consumes, cc)
	s.mu.Unlock()

	return cc.Stop, nil
}

func (s *session) Done() <-chan error { return s.done }

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	consumes := s.consumes
	s.consumes = nil
	close(s.done)
	s.mu.Unlock()

	for _, cc := range consumes {
		cc.Stop()
	}

	s.client.mu.Lock()
	delete(s.client.sessions, s)
	s.client.mu.Unlock()
	return nil
}

func (s *session) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	consumes := s.consumes
	s.consumes = nil
	s.done <- err
	close(s.done)
	s.mu.Unlock()

	for _, cc := range consumes {
		cc.Stop()
	}

	s.client.mu.Lock()
	delete(s.client.sessions, s)
	s.client.mu.Unlock()
}

func isFatalConsumeError(err error) bool {
	return errors.Is(err, jetstream.ErrConsumerDeleted) ||
		errors.Is(err, jetstream.ErrNoHeartbeat) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrConsumerNotFound)
}

type delivery struct {
	msg jetstream.Msg
}

func (d *delivery) Message() *messaging.Message {
	m := &messaging.Message{
		Subject:   d.msg.Subject(),
		Data:      d.msg.Data(),
		Reply:     d.msg.Reply(),
		Metadata:  headerMap(d.msg.Headers()),
		Timestamp: time.Now(),
	}
	if md, err := d.msg.Metadata(); err == nil {
		m.Timestamp = md.Timestamp
	}
	return m
}

func (d *delivery) Ack() error { return d.msg.Ack() }

func (d *delivery) Nak(delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}

func (d *delivery) Term() error { return d.msg.Term() }

func (d *delivery) Attempts() uint64 {
	md, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

// Streams used by the history services.
var (
	// VersionEventsStream captures item change events.
	VersionEventsStream = messaging.StreamSpec{
		Name:     "VERSION_EVENTS",
		Subjects: []string{messaging.SubjectVersionPrefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
		MaxBytes: 1024 * 1024 * 1024, // 1GB
	}

	// LogEventsStream captures audit, monitor and error log entries.
	LogEventsStream = messaging.StreamSpec{
		Name: "LOG_EVENTS",
		Subjects: []string{
			messaging.SubjectLogAudit + ".>",
			messaging.SubjectLogMonitor + ".>",
			messaging.SubjectLogError + ".>",
		},
		MaxAge:   7 * 24 * time.Hour,
		MaxBytes: 1024 * 1024 * 1024,
	}

	// LogDLQStream holds log entries that could not be stored.
	LogDLQStream = messaging.StreamSpec{
		Name:     "LOG_DLQ",
		Subjects: []string{messaging.SubjectLogDLQ + ".>"},
		MaxAge:   30 * 24 * time.Hour,
		MaxMsgs:  100000,
	}

	// RPCRequestsStream holds pending RPC requests until a callee acknowledges them.
	RPCRequestsStream = messaging.StreamSpec{
		Name:      "RPC_REQUESTS",
		Subjects:  []string{"rpc.>"},
		MaxAge:    time.Hour,
		WorkQueue: true,
	}
)
