// Package memory is an in-process broker implementing the durable-stream, persistent-publish
// and reply-queue contracts of package messaging. It backs unit tests and local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bugtracker/history-stack/common/messaging"
)

var (
	// ErrNoStream is returned when a persistent publish matches no stream.
	ErrNoStream = errors.New("memory: no stream matches subject")

	// ErrNotConnected is returned by Connect while the broker is marked down.
	ErrNotConnected = errors.New("memory: broker not connected")

	// ErrStaleDelivery is returned when settling a delivery whose session is gone.
	ErrStaleDelivery = errors.New("memory: delivery no longer in flight")
)

// Broker is safe for concurrent use.
type Broker struct {
	mu         sync.Mutex
	seq        uint64
	streams    map[string]*stream
	durables   map[string]*durable
	inboxes    map[string]*replyQueue
	sessions   map[*session]struct{}
	down       bool
	failDials  int
	publishErr error
}

type stream struct {
	spec messaging.StreamSpec
	msgs []*entryMsg
}

type entryMsg struct {
	seq uint64
	msg *messaging.Message
}

// NewBroker returns a connected, empty broker.
func NewBroker() *Broker {
	return &Broker{
		streams:  make(map[string]*stream),
		durables: make(map[string]*durable),
		inboxes:  make(map[string]*replyQueue),
		sessions: make(map[*session]struct{}),
	}
}

// FailNextConnects makes the next n Connect calls fail.
func (b *Broker) FailNextConnects(n int) {
	b.mu.Lock()
	b.failDials = n
	b.mu.Unlock()
}

// SetPublishError makes every PublishPersistent fail with err until reset with nil.
func (b *Broker) SetPublishError(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// Disconnect fails every open session with err, as a dropped connection would.
func (b *Broker) Disconnect(err error) {
	if err == nil {
		err = messaging.ErrSessionClosed
	}
	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.terminate(err)
	}
}

// SetDown marks the broker unreachable (true) or reachable (false) for Connect and Ping.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// IsConnected implements messaging.Pinger.
func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.down
}

// Ping implements messaging.Pinger.
func (b *Broker) Ping(ctx context.Context) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return ctx.Err()
}

// Connect implements messaging.Connector.
func (b *Broker) Connect(ctx context.Context) (messaging.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, ErrNotConnected
	}
	if b.failDials > 0 {
		b.failDials--
		return nil, ErrNotConnected
	}
	s := &session{broker: b, done: make(chan error, 1)}
	b.sessions[s] = struct{}{}
	return s, nil
}

// EnsureStream creates or replaces a stream definition, keeping its messages.
func (b *Broker) EnsureStream(_ context.Context, spec messaging.StreamSpec) error {
	if spec.Name == "" || len(spec.Subjects) == 0 {
		return fmt.Errorf("memory: stream needs a name and subjects")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.streams[spec.Name]; ok {
		st.spec = spec
		return nil
	}
	b.streams[spec.Name] = &stream{spec: spec}
	return nil
}

// PublishPersistent implements messaging.PersistentPublisher.
func (b *Broker) PublishPersistent(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}

	var target *stream
	for _, st := range b.streams {
		if messaging.MatchesAny(st.spec.Subjects, msg.Subject) {
			target = st
			break
		}
	}
	if target == nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoStream, msg.Subject)
	}

	b.seq++
	stored := &entryMsg{seq: b.seq, msg: cloneMessage(msg)}
	if stored.msg.Timestamp.IsZero() {
		stored.msg.Timestamp = time.Now()
	}
	target.msgs = append(target.msgs, stored)

	var wake []*durable
	for _, d := range b.durables {
		if d.spec.Stream == target.spec.Name && d.accepts(msg.Subject) {
			d.queue = append(d.queue, &entry{seq: stored.seq, msg: stored.msg})
			wake = append(wake, d)
		}
	}
	b.mu.Unlock()

	for _, d := range wake {
		d.signal()
	}
	return nil
}

// Publish delivers data to a reply queue subscribed on subject; it is dropped otherwise.
func (b *Broker) Publish(ctx context.Context, subject string, data []byte) error {
	return b.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data})
}

// PublishMsg delivers msg to a reply queue subscribed on its subject.
func (b *Broker) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	q := b.inboxes[msg.Subject]
	b.mu.Unlock()
	if q == nil {
		return nil
	}
	m := cloneMessage(msg)
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	select {
	case q.ch <- m:
	default:
	}
	return nil
}

// Close is a no-op; the broker lives as long as the test.
func (b *Broker) Close() error { return nil }

// OpenReplyQueue implements messaging.Inbox.
func (b *Broker) OpenReplyQueue(ctx context.Context) (messaging.ReplyQueue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := &replyQueue{
		broker:  b,
		subject: "_INBOX." + uuid.NewString(),
		ch:      make(chan *messaging.Message, 64),
	}
	b.mu.Lock()
	b.inboxes[q.subject] = q
	b.mu.Unlock()
	return q, nil
}

// OpenReplyQueues returns the number of reply queues currently open.
func (b *Broker) OpenReplyQueues() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inboxes)
}

// StreamMessages returns up to limit stored messages of a stream matching filter.
func (b *Broker) StreamMessages(_ context.Context, streamName, filter string, limit int) ([]*messaging.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[streamName]
	if !ok {
		return nil, fmt.Errorf("memory: stream %s not found", streamName)
	}
	var out []*messaging.Message
	for _, e := range st.msgs {
		if filter != "" && !messaging.SubjectMatches(filter, e.msg.Subject) {
			continue
		}
		out = append(out, cloneMessage(e.msg))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// StreamMsgCount returns the number of messages held by a stream.
func (b *Broker) StreamMsgCount(_ context.Context, streamName string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[streamName]
	if !ok {
		return 0, fmt.Errorf("memory: stream %s not found", streamName)
	}
	return uint64(len(st.msgs)), nil
}

// PurgeStream drops every message of a stream.
func (b *Broker) PurgeStream(_ context.Context, streamName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[streamName]
	if !ok {
		return fmt.Errorf("memory: stream %s not found", streamName)
	}
	st.msgs = nil
	return nil
}

// Pending returns how many messages a durable consumer has not yet had acknowledged.
func (b *Broker) Pending(durableName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.durables {
		if d.spec.Durable == durableName {
			return len(d.queue) + len(d.inflight) + d.delayed
		}
	}
	return 0
}

func (b *Broker) durable(ctx context.Context, spec messaging.ConsumerSpec) (*durable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[spec.Stream]
	if !ok {
		return nil, fmt.Errorf("memory: stream %s not found", spec.Stream)
	}
	key := spec.Stream + "/" + spec.Durable
	if d, ok := b.durables[key]; ok {
		d.spec = spec
		return d, nil
	}
	d := &durable{
		broker:   b,
		spec:     spec,
		inflight: make(map[uint64]*delivery),
		notify:   make(chan struct{}, 1),
	}
	for _, e := range st.msgs {
		if d.accepts(e.msg.Subject) {
			d.queue = append(d.queue, &entry{seq: e.seq, msg: e.msg})
		}
	}
	b.durables[key] = d
	return d, nil
}

// ack removes the message from a work-queue stream once acknowledged.
func (b *Broker) ack(streamName string, seq uint64) {
	st, ok := b.streams[streamName]
	if !ok || !st.spec.WorkQueue {
		return
	}
	for i, e := range st.msgs {
		if e.seq == seq {
			st.msgs = append(st.msgs[:i], st.msgs[i+1:]...)
			return
		}
	}
}

type entry struct {
	seq      uint64
	msg      *messaging.Message
	attempts uint64
}

type durable struct {
	broker *Broker
	spec   messaging.ConsumerSpec

	// guarded by broker.mu
	queue    []*entry
	inflight map[uint64]*delivery
	delayed  int
	owner    *session

	notify chan struct{}
}

func (d *durable) accepts(subject string) bool {
	return len(d.spec.FilterSubjects) == 0 || messaging.MatchesAny(d.spec.FilterSubjects, subject)
}

func (d *durable) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// run pushes queued entries to deliver until stop is closed.
func (d *durable) run(owner *session, stop <-chan struct{}, deliver func(messaging.Delivery)) {
	b := d.broker
	for {
		b.mu.Lock()
		if d.owner != owner {
			b.mu.Unlock()
			return
		}
		var next *delivery
		full := d.spec.MaxAckPending > 0 && len(d.inflight) >= d.spec.MaxAckPending
		if len(d.queue) > 0 && !full {
			e := d.queue[0]
			d.queue = d.queue[1:]
			e.attempts++
			next = &delivery{durable: d, entry: e, owner: owner}
			d.inflight[e.seq] = next
		}
		b.mu.Unlock()

		if next != nil {
			deliver(next)
			continue
		}

		select {
		case <-stop:
			return
		case <-d.notify:
		}
	}
}

// release returns in-flight entries to the head of the queue, as an ack timeout would.
func (d *durable) release(owner *session) {
	if d.owner != owner {
		return
	}
	d.owner = nil
	if len(d.inflight) == 0 {
		return
	}
	back := make([]*entry, 0, len(d.inflight))
	for _, del := range d.inflight {
		back = append(back, del.entry)
	}
	sort.Slice(back, func(i, j int) bool { return back[i].seq < back[j].seq })
	d.inflight = make(map[uint64]*delivery)
	d.queue = append(back, d.queue...)
}

type delivery struct {
	durable *durable
	entry   *entry
	owner   *session
}

func (dl *delivery) Message() *messaging.Message { return cloneMessage(dl.entry.msg) }

func (dl *delivery) Attempts() uint64 { return dl.entry.attempts }

// settle removes the delivery from the in-flight set; it reports false when stale.
func (dl *delivery) settle() bool {
	d := dl.durable
	if d.inflight[dl.entry.seq] != dl {
		return false
	}
	delete(d.inflight, dl.entry.seq)
	return true
}

func (dl *delivery) Ack() error {
	b := dl.durable.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !dl.settle() {
		return ErrStaleDelivery
	}
	b.ack(dl.durable.spec.Stream, dl.entry.seq)
	dl.durable.signal()
	return nil
}

func (dl *delivery) Term() error {
	b := dl.durable.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !dl.settle() {
		return ErrStaleDelivery
	}
	b.ack(dl.durable.spec.Stream, dl.entry.seq)
	dl.durable.signal()
	return nil
}

func (dl *delivery) Nak(delay time.Duration) error {
	d := dl.durable
	b := d.broker
	b.mu.Lock()
	if !dl.settle() {
		b.mu.Unlock()
		return ErrStaleDelivery
	}
	if d.spec.MaxDeliver > 0 && dl.entry.attempts >= uint64(d.spec.MaxDeliver) {
		b.mu.Unlock()
		d.signal()
		return nil
	}
	if delay <= 0 {
		d.queue = append([]*entry{dl.entry}, d.queue...)
		b.mu.Unlock()
		d.signal()
		return nil
	}
	d.delayed++
	b.mu.Unlock()

	time.AfterFunc(delay, func() {
		b.mu.Lock()
		d.delayed--
		d.queue = append(d.queue, dl.entry)
		b.mu.Unlock()
		d.signal()
	})
	return nil
}

type session struct {
	broker *Broker

	mu     sync.Mutex
	closed bool
	done   chan error
	stops  []*stopper
	owned  []*durable
}

type stopper struct {
	ch   chan struct{}
	once sync.Once
}

func (s *stopper) stop() {
	s.once.Do(func() { close(s.ch) })
}

func (s *session) EnsureStream(ctx context.Context, spec messaging.StreamSpec) error {
	if s.isClosed() {
		return messaging.ErrSessionClosed
	}
	return s.broker.EnsureStream(ctx, spec)
}

func (s *session) Consume(ctx context.Context, spec messaging.ConsumerSpec, deliver func(messaging.Delivery)) (func(), error) {
	if s.isClosed() {
		return nil, messaging.ErrSessionClosed
	}
	d, err := s.broker.durable(ctx, spec)
	if err != nil {
		return nil, err
	}

	b := s.broker
	b.mu.Lock()
	if d.owner != nil && d.owner != s {
		b.mu.Unlock()
		return nil, fmt.Errorf("memory: durable %s already bound", spec.Durable)
	}
	d.owner = s
	b.mu.Unlock()

	stop := &stopper{ch: make(chan struct{})}
	s.mu.Lock()
	s.stops = append(s.stops, stop)
	s.owned = append(s.owned, d)
	s.mu.Unlock()

	go d.run(s, stop.ch, deliver)

	return func() {
		b.mu.Lock()
		d.release(s)
		b.mu.Unlock()
		stop.stop()
	}, nil
}

func (s *session) Done() <-chan error { return s.done }

func (s *session) Close() error {
	s.terminate(nil)
	return nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) terminate(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stops, owned := s.stops, s.owned
	s.stops, s.owned = nil, nil
	if err != nil {
		s.done <- err
	}
	close(s.done)
	s.mu.Unlock()

	b := s.broker
	b.mu.Lock()
	for _, d := range owned {
		d.release(s)
	}
	delete(b.sessions, s)
	b.mu.Unlock()

	for _, stop := range stops {
		stop.stop()
	}
}

type replyQueue struct {
	broker  *Broker
	subject string
	ch      chan *messaging.Message
	once    sync.Once
}

func (q *replyQueue) Subject() string { return q.subject }

func (q *replyQueue) Next(ctx context.Context) (*messaging.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-q.ch:
		return m, nil
	}
}

func (q *replyQueue) Close() error {
	q.once.Do(func() {
		q.broker.mu.Lock()
		delete(q.broker.inboxes, q.subject)
		q.broker.mu.Unlock()
	})
	return nil
}

func cloneMessage(m *messaging.Message) *messaging.Message {
	c := *m
	if m.Data != nil {
		c.Data = append([]byte(nil), m.Data...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
