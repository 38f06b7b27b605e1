package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/common/messaging/consumer"
	"github.com/bugtracker/history-stack/common/messaging/memory"
)

var requestStream = messaging.StreamSpec{Name: "RPC_REQUESTS", Subjects: []string{"rpc.>"}, WorkQueue: true}

// serve runs handler as the callee for subject until the test ends.
func serve(t *testing.T, broker *memory.Broker, subject string, handler consumer.Handler) {
	t.Helper()
	c := consumer.New(broker, handler, consumer.Config{
		Streams:        []messaging.StreamSpec{requestStream},
		Consumer:       messaging.ConsumerSpec{Stream: requestStream.Name, Durable: "callee", FilterSubjects: []string{subject}},
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, c.WaitFor(waitCtx, consumer.Consuming))
}

func echo(broker *memory.Broker) consumer.Handler {
	return NewResponder(broker, func(_ context.Context, payload []byte) (any, error) {
		var in []string
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return in, nil
	}).Handle
}

func TestClient_CallJSON(t *testing.T) {
	for _, multiplexed := range []bool{false, true} {
		t.Run(map[bool]string{false: "exclusive", true: "multiplexed"}[multiplexed], func(t *testing.T) {
			broker := memory.NewBroker()
			serve(t, broker, "rpc.echo", echo(broker))

			client := NewClient(broker, Config{Timeout: 2 * time.Second, Stream: requestStream, Multiplexed: multiplexed})
			defer client.Close()

			var got []string
			require.NoError(t, client.CallJSON(context.Background(), "rpc.echo", []string{"a", "b"}, &got))
			assert.Equal(t, []string{"a", "b"}, got)
		})
	}
}

func TestClient_ConcurrentMultiplexedCalls(t *testing.T) {
	broker := memory.NewBroker()
	serve(t, broker, "rpc.echo", echo(broker))

	client := NewClient(broker, Config{Timeout: 2 * time.Second, Stream: requestStream, Multiplexed: true})
	defer client.Close()

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := []string{string(rune('a' + i))}
			var got []string
			if err := client.CallJSON(context.Background(), "rpc.echo", want, &got); err != nil {
				errs[i] = err
				return
			}
			if len(got) != 1 || got[0] != want[0] {
				errs[i] = errors.New("reply routed to the wrong call")
			}
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 0, client.mux.size())
	assert.Equal(t, 1, broker.OpenReplyQueues())
}

func TestClient_IgnoresForeignCorrelationID(t *testing.T) {
	broker := memory.NewBroker()
	serve(t, broker, "rpc.echo", func(ctx context.Context, msg *messaging.Message) error {
		replyTo := msg.Header(messaging.HeaderReplyTo)
		stray := messaging.NewMessage(replyTo, []byte(`"stray"`), messaging.WithHeader(messaging.HeaderCorrelationID, "someone-else"))
		if err := broker.PublishMsg(ctx, stray); err != nil {
			return err
		}
		reply := messaging.NewMessage(replyTo, []byte(`"mine"`),
			messaging.WithHeader(messaging.HeaderCorrelationID, msg.Header(messaging.HeaderCorrelationID)))
		return broker.PublishMsg(ctx, reply)
	})

	client := NewClient(broker, Config{Timeout: 2 * time.Second, Stream: requestStream})
	var got string
	require.NoError(t, client.CallJSON(context.Background(), "rpc.echo", "hi", &got))
	assert.Equal(t, "mine", got)
}

func TestClient_Timeout(t *testing.T) {
	for _, multiplexed := range []bool{false, true} {
		t.Run(map[bool]string{false: "exclusive", true: "multiplexed"}[multiplexed], func(t *testing.T) {
			broker := memory.NewBroker()
			client := NewClient(broker, Config{
				Timeout:       50 * time.Millisecond,
				Stream:        requestStream,
				Multiplexed:   multiplexed,
				SweepInterval: 10 * time.Millisecond,
			})

			_, err := client.Call(context.Background(), "rpc.nobody", []byte(`{}`))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)

			var timeout *TimeoutError
			require.ErrorAs(t, err, &timeout)
			assert.Equal(t, "rpc.nobody", timeout.Target)
			assert.NotEmpty(t, timeout.CorrelationID)

			require.NoError(t, client.Close())
			assert.Equal(t, 0, broker.OpenReplyQueues())
		})
	}
}

func TestClient_RemoteError(t *testing.T) {
	broker := memory.NewBroker()
	serve(t, broker, "rpc.fail", NewResponder(broker, func(context.Context, []byte) (any, error) {
		return nil, errors.New("directory unavailable")
	}).Handle)

	client := NewClient(broker, Config{Timeout: 2 * time.Second, Stream: requestStream})
	_, err := client.Call(context.Background(), "rpc.fail", []byte(`[]`))

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "directory unavailable", remote.Message)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestClient_EnsureQueueRejectsUncapturedTarget(t *testing.T) {
	client := NewClient(memory.NewBroker(), Config{Stream: requestStream})
	err := client.EnsureQueue(context.Background(), "users.lookup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not capture")
}

func TestClient_PublishFailure(t *testing.T) {
	broker := memory.NewBroker()
	broker.SetPublishError(errors.New("broker unavailable"))
	client := NewClient(broker, Config{Timeout: time.Second, Stream: requestStream})

	_, err := client.Call(context.Background(), "rpc.echo", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, 0, broker.OpenReplyQueues())
}

func TestMultiplexer_Sweep(t *testing.T) {
	m := newMultiplexer(memory.NewBroker(), time.Hour, discardLogger())
	now := time.Now()

	expired := m.register("old", now.Add(-time.Second))
	m.register("fresh", now.Add(time.Minute))
	m.register("unbounded", time.Time{})

	assert.Equal(t, 1, m.sweep(now))
	assert.Equal(t, 2, m.size())

	_, ok := <-expired
	assert.False(t, ok, "expired call channel should be closed")
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ok", nil, "ok"},
		{"timeout", &TimeoutError{Target: "rpc.x"}, "timeout"},
		{"remote", &RemoteError{Target: "rpc.x", Message: "boom"}, "remote_error"},
		{"other", errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcome(tt.err))
		})
	}
}
