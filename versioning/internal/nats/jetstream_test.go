package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugtracker/history-stack/common/events"
	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
	"github.com/bugtracker/history-stack/common/messaging/nats/natstest"
)

func TestConsumer_JetStream(t *testing.T) {
	cfg := natsclient.DefaultConfig()
	cfg.URL = natstest.RunServer(t)
	cfg.Name = "versioning-test"
	js, err := natsclient.NewJetStreamClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = js.Close() })

	svc := newService()
	failures := int32(testConsumerConfig.MaxDeliver + 2)
	creator := &flakyCreator{failures: failures, inner: svc}
	consumerCfg := testConsumerConfig
	consumerCfg.RetryDelay = 10 * time.Millisecond
	consumerCfg.MaxRetryDelay = 50 * time.Millisecond
	run(t, NewConsumer(js, NewEventHandler(creator), consumerCfg))

	ctx := context.Background()
	pub := events.NewVersionPublisher(js)
	require.NoError(t, pub.Publish(ctx, "created", events.ItemChangeEvent{
		ID: "t1", Type: "ticket", Data: json.RawMessage(`{"title":"A"}`), MutationID: "m-1",
	}))

	assert.Eventually(t, func() bool { return len(versionsOf(t, svc, "t1")) == 1 }, 10*time.Second, 20*time.Millisecond,
		"the event outlives a store outage longer than the broker default redelivery bound")
	assert.Equal(t, failures+1, creator.calls.Load())

	// Same mutation again: dropped by the stream's duplicate window and by the idempotency key.
	require.NoError(t, pub.Publish(ctx, "updated", events.ItemChangeEvent{
		ID: "t1", Type: "ticket", Data: json.RawMessage(`{"title":"A"}`), MutationID: "m-1",
	}))
	require.NoError(t, pub.Publish(ctx, "updated", events.ItemChangeEvent{
		ID: "t1", Type: "ticket", Data: json.RawMessage(`{"title":"B"}`), MutationID: "m-2",
	}))

	assert.Eventually(t, func() bool { return len(versionsOf(t, svc, "t1")) == 2 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []int64{1, 2}, versionsOf(t, svc, "t1"))
}
