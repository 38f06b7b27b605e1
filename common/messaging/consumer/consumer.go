// Package consumer runs a durable-stream subscription through a fixed lifecycle:
// connect, declare, bind and consume, reconnecting with exponential backoff when the
// transport fails. The broker callback only hands deliveries to an internal queue; a
// single worker processes them in order and acknowledges only after success.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bugtracker/history-stack/common/messaging"
)

// ErrDecode marks a message whose payload can never be processed.
var ErrDecode = errors.New("consumer: undecodable message")

// ErrRejected marks a decodable message the handler refuses to process, such as one failing
// signature verification.
var ErrRejected = errors.New("consumer: message rejected")

// State is the lifecycle position of a Consumer.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Subscribed
	Consuming
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Subscribed:
		return "subscribed"
	case Consuming:
		return "consuming"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler processes one message. Returning nil acknowledges it.
type Handler func(ctx context.Context, msg *messaging.Message) error

// Config describes what a Consumer binds to and how it recovers.
type Config struct {
	// Name labels logs and metrics; defaults to the durable name.
	Name string

	// Streams are declared (created or updated) on every connect.
	Streams []messaging.StreamSpec

	Consumer messaging.ConsumerSpec

	// QueueSize bounds the hand-off between broker callback and worker.
	QueueSize int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Policy settles failed deliveries; defaults to RetryPolicy with a 5s delay.
	Policy FailurePolicy
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = c.Consumer.Durable
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Policy == nil {
		c.Policy = RetryPolicy{Delay: 5 * time.Second}
	}
	return c
}

// Consumer is a reconnecting durable-stream consumer.
type Consumer struct {
	cfg       Config
	connector messaging.Connector
	handler   Handler
	logger    *slog.Logger

	state   atomic.Int32
	mu      sync.Mutex
	waiters []chan struct{}
}

// New creates a Consumer. It does nothing until Run is called.
func New(connector messaging.Connector, handler Handler, cfg Config) *Consumer {
	cfg = cfg.withDefaults()
	c := &Consumer{
		cfg:       cfg,
		connector: connector,
		handler:   handler,
		logger:    slog.Default().With(slog.String("component", "consumer"), slog.String("consumer", cfg.Name)),
	}
	c.state.Store(int32(Disconnected))
	stateGauge.WithLabelValues(cfg.Name).Set(float64(Disconnected))
	return c
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// WaitFor blocks until the consumer reaches want or ctx is done.
func (c *Consumer) WaitFor(ctx context.Context, want State) error {
	for {
		c.mu.Lock()
		if c.State() == want {
			c.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s (current %s): %w", want, c.State(), ctx.Err())
		case <-ch:
		}
	}
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	prev := State(c.state.Swap(int32(s)))
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if prev != s {
		stateGauge.WithLabelValues(c.cfg.Name).Set(float64(s))
		c.logger.Debug("state change", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation; transport
// failures are retried with exponential backoff and never returned.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(Stopped)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		reachedConsuming, err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.setState(Disconnected)

		if reachedConsuming {
			attempt = 0
		}
		wait := Backoff(c.cfg.InitialBackoff, c.cfg.MaxBackoff, attempt)
		attempt++
		reconnectsTotal.WithLabelValues(c.cfg.Name).Inc()
		c.logger.Warn("consumer session ended, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", wait),
			slog.Int("attempt", attempt))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runSession drives one connection lifetime. It reports whether consuming started.
func (c *Consumer) runSession(ctx context.Context) (bool, error) {
	c.setState(Connecting)
	sess, err := c.connector.Connect(ctx)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()
	c.setState(Connected)

	for _, spec := range c.cfg.Streams {
		if err := sess.EnsureStream(ctx, spec); err != nil {
			return false, fmt.Errorf("declare stream %s: %w", spec.Name, err)
		}
	}
	c.setState(Subscribed)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan messaging.Delivery, c.cfg.QueueSize)
	stop, err := sess.Consume(sessCtx, c.cfg.Consumer, func(d messaging.Delivery) {
		select {
		case queue <- d:
			queueDepth.WithLabelValues(c.cfg.Name).Set(float64(len(queue)))
		case <-sessCtx.Done():
		}
	})
	if err != nil {
		return false, fmt.Errorf("bind consumer %s: %w", c.cfg.Consumer.Durable, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.work(sessCtx, queue)
	}()

	c.setState(Consuming)
	c.logger.Info("consuming",
		slog.String("stream", c.cfg.Consumer.Stream),
		slog.Any("filters", c.cfg.Consumer.FilterSubjects))

	var cause error
	select {
	case <-ctx.Done():
	case cause = <-sess.Done():
		if cause == nil {
			cause = messaging.ErrSessionClosed
		}
	}

	stop()
	cancel()
	wg.Wait()
	return true, cause
}

// work processes deliveries one at a time, in arrival order.
func (c *Consumer) work(ctx context.Context, queue <-chan messaging.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-queue:
			queueDepth.WithLabelValues(c.cfg.Name).Set(float64(len(queue)))
			c.process(ctx, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d messaging.Delivery) {
	msg := d.Message()
	start := time.Now()
	err := c.handler(ctx, msg)
	handleDuration.WithLabelValues(c.cfg.Name).Observe(time.Since(start).Seconds())

	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			c.logger.Warn("ack failed", slog.String("subject", msg.Subject), slog.String("error", ackErr.Error()))
			return
		}
		messagesTotal.WithLabelValues(c.cfg.Name, string(OutcomeAcked)).Inc()
		return
	}

	outcome, settleErr := c.cfg.Policy.Settle(ctx, d, msg, err)
	messagesTotal.WithLabelValues(c.cfg.Name, string(outcome)).Inc()
	level := slog.LevelWarn
	if outcome == OutcomeParked || outcome == OutcomeTerminated || outcome == OutcomeDropped {
		level = slog.LevelError
	}
	c.logger.Log(ctx, level, "message processing failed",
		slog.String("subject", msg.Subject),
		slog.Uint64("attempt", d.Attempts()),
		slog.String("outcome", string(outcome)),
		slog.String("error", err.Error()))
	if settleErr != nil {
		c.logger.Error("settle failed", slog.String("subject", msg.Subject), slog.String("error", settleErr.Error()))
	}
}

// Backoff returns the wait before reconnect attempt n (0-based): initial doubled n times, capped at ceiling.
func Backoff(initial, ceiling time.Duration, n int) time.Duration {
	d := initial
	for i := 0; i < n; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// DecodeJSON unmarshals msg.Data into v, wrapping failures in ErrDecode.
func DecodeJSON(msg *messaging.Message, v any) error {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, msg.Subject, err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
