package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugtracker/history-stack/common/messaging"
)

var testStream = messaging.StreamSpec{Name: "VERSION_EVENTS", Subjects: []string{"version.>"}}

func consume(t *testing.T, b *Broker, spec messaging.ConsumerSpec) (messaging.Session, <-chan messaging.Delivery, func()) {
	t.Helper()
	ctx := context.Background()
	sess, err := b.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.EnsureStream(ctx, testStream))

	ch := make(chan messaging.Delivery, 16)
	stop, err := sess.Consume(ctx, spec, func(d messaging.Delivery) { ch <- d })
	require.NoError(t, err)
	return sess, ch, stop
}

func next(t *testing.T, ch <-chan messaging.Delivery) messaging.Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestBroker_PublishConsumeAck(t *testing.T) {
	b := NewBroker()
	_, ch, stop := consume(t, b, messaging.ConsumerSpec{Stream: "VERSION_EVENTS", Durable: "version-writer"})
	defer stop()

	ctx := context.Background()
	require.NoError(t, b.PublishPersistent(ctx, &messaging.Message{Subject: "version.ticket.updated", Data: []byte("1")}))
	require.NoError(t, b.PublishPersistent(ctx, &messaging.Message{Subject: "version.task.created", Data: []byte("2")}))

	d1 := next(t, ch)
	assert.Equal(t, "1", string(d1.Message().Data))
	assert.Equal(t, uint64(1), d1.Attempts())
	require.NoError(t, d1.Ack())

	d2 := next(t, ch)
	assert.Equal(t, "2", string(d2.Message().Data))
	require.NoError(t, d2.Ack())

	assert.ErrorIs(t, d2.Ack(), ErrStaleDelivery)
	assert.Equal(t, 0, b.Pending("version-writer"))
}

func TestBroker_PublishWithoutStream(t *testing.T) {
	b := NewBroker()
	err := b.PublishPersistent(context.Background(), &messaging.Message{Subject: "version.ticket.updated"})
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestBroker_FilterSubjects(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()
	require.NoError(t, b.EnsureStream(ctx, messaging.StreamSpec{Name: "LOG_EVENTS", Subjects: []string{"log.audit.>", "log.error.>", "log.monitor.>"}}))

	sess, err := b.Connect(ctx)
	require.NoError(t, err)
	ch := make(chan messaging.Delivery, 4)
	stop, err := sess.Consume(ctx, messaging.ConsumerSpec{
		Stream:         "LOG_EVENTS",
		Durable:        "log-writer",
		FilterSubjects: []string{"log.audit.>", "log.error.>"},
	}, func(d messaging.Delivery) { ch <- d })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, b.PublishPersistent(ctx, &messaging.Message{Subject: "log.monitor.versioning"}))
	require.NoError(t, b.PublishPersistent(ctx, &messaging.Message{Subject: "log.error.versioning"}))

	d := next(t, ch)
	assert.Equal(t, "log.error.versioning", d.Message().Subject)
	require.NoError(t, d.Ack())
}

func TestBroker_NakRedeliversUntilMaxDeliver(t *testing.T) {
	b := NewBroker()
	_, ch, stop := consume(t, b, messaging.ConsumerSpec{Stream: "VERSION_EVENTS", Durable: "version-writer", MaxDeliver: 2})
	defer stop()

	require.NoError(t, b.PublishPersistent(context.Background(), &messaging.Message{Subject: "version.ticket.updated"}))

	d := next(t, ch)
	require.NoError(t, d.Nak(10*time.Millisecond))

	d = next(t, ch)
	assert.Equal(t, uint64(2), d.Attempts())
	require.NoError(t, d.Nak(0))

	select {
	case <-ch:
		t.Fatal("expected no delivery beyond MaxDeliver")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_DisconnectRedeliversInFlight(t *testing.T) {
	b := NewBroker()
	sess, ch, _ := consume(t, b, messaging.ConsumerSpec{Stream: "VERSION_EVENTS", Durable: "version-writer"})

	require.NoError(t, b.PublishPersistent(context.Background(), &messaging.Message{Subject: "version.ticket.updated"}))
	first := next(t, ch)

	b.Disconnect(nil)
	err := <-sess.Done()
	assert.ErrorIs(t, err, messaging.ErrSessionClosed)
	assert.ErrorIs(t, first.Ack(), ErrStaleDelivery)

	_, ch2, stop := consume(t, b, messaging.ConsumerSpec{Stream: "VERSION_EVENTS", Durable: "version-writer"})
	defer stop()
	again := next(t, ch2)
	assert.Equal(t, uint64(2), again.Attempts())
	require.NoError(t, again.Ack())
}

func TestBroker_FailNextConnects(t *testing.T) {
	b := NewBroker()
	b.FailNextConnects(2)
	ctx := context.Background()

	_, err := b.Connect(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = b.Connect(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = b.Connect(ctx)
	assert.NoError(t, err)
}

func TestBroker_WorkQueueAckRemovesMessage(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()
	require.NoError(t, b.EnsureStream(ctx, messaging.StreamSpec{Name: "RPC_REQUESTS", Subjects: []string{"rpc.>"}, WorkQueue: true}))
	require.NoError(t, b.PublishPersistent(ctx, &messaging.Message{Subject: "rpc.users.lookup"}))

	count, err := b.StreamMsgCount(ctx, "RPC_REQUESTS")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	sess, err := b.Connect(ctx)
	require.NoError(t, err)
	ch := make(chan messaging.Delivery, 1)
	stop, err := sess.Consume(ctx, messaging.ConsumerSpec{Stream: "RPC_REQUESTS", Durable: "users-lookup"}, func(d messaging.Delivery) { ch <- d })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, next(t, ch).Ack())
	count, err = b.StreamMsgCount(ctx, "RPC_REQUESTS")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBroker_ReplyQueue(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	q, err := b.OpenReplyQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.OpenReplyQueues())

	msg := messaging.NewMessage(q.Subject(), []byte("pong"), messaging.WithHeader(messaging.HeaderCorrelationID, "c-1"))
	require.NoError(t, b.PublishMsg(ctx, msg))

	got, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.Header(messaging.HeaderCorrelationID))

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = q.Next(timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, q.Close())
	assert.Zero(t, b.OpenReplyQueues())
}

func TestBroker_StreamMessagesAndPurge(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()
	require.NoError(t, b.EnsureStream(ctx, messaging.StreamSpec{Name: "LOG_DLQ", Subjects: []string{"log.dlq.>"}}))
	require.NoError(t, b.PublishPersistent(ctx, &messaging.Message{Subject: "log.dlq.decode"}))
	require.NoError(t, b.PublishPersistent(ctx, &messaging.Message{Subject: "log.dlq.store"}))

	msgs, err := b.StreamMessages(ctx, "LOG_DLQ", "log.dlq.decode", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	require.NoError(t, b.PurgeStream(ctx, "LOG_DLQ"))
	msgs, err = b.StreamMessages(ctx, "LOG_DLQ", "", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
