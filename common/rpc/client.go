// Package rpc implements request/reply over durable broker streams. A caller publishes a
// persistent request carrying a correlation id and the address of a private reply queue;
// the callee answers on that address copying the correlation id; the caller accepts only
// the reply whose id matches.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/common/middleware"
)

// Headers used in addition to messaging.HeaderCorrelationID and messaging.HeaderReplyTo.
const (
	// HeaderError carries a callee failure message on a reply.
	HeaderError = "Rpc-Error"

	// HeaderDeadline carries the caller's deadline in Unix milliseconds.
	HeaderDeadline = "Rpc-Deadline"
)

// Transport is what the client needs from a broker.
type Transport interface {
	messaging.Inbox
	messaging.PersistentPublisher
	EnsureStream(ctx context.Context, spec messaging.StreamSpec) error
}

// Config configures a Client.
type Config struct {
	// Timeout bounds each call; a shorter context deadline wins.
	Timeout time.Duration

	// Stream is declared before the first request to a target; it must capture the target subjects.
	Stream messaging.StreamSpec

	// Multiplexed shares one reply queue across calls instead of opening one per call.
	Multiplexed bool

	// SweepInterval is how often the multiplexed mode purges expired pending calls.
	SweepInterval time.Duration
}

// Client issues RPC calls. It is safe for concurrent use.
type Client struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	ensured map[string]bool

	mux *multiplexer
}

// NewClient creates a client. Close releases the shared reply queue in multiplexed mode.
func NewClient(transport Transport, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	c := &Client{
		transport: transport,
		cfg:       cfg,
		logger:    slog.Default().With(slog.String("component", "rpc-client")),
		ensured:   make(map[string]bool),
	}
	if cfg.Multiplexed {
		c.mux = newMultiplexer(transport, cfg.SweepInterval, c.logger)
	}
	return c
}

// EnsureQueue declares the request stream for target once per client.
func (c *Client) EnsureQueue(ctx context.Context, target string) error {
	c.mu.Lock()
	done := c.ensured[target]
	c.mu.Unlock()
	if done {
		return nil
	}

	if c.cfg.Stream.Name != "" {
		if !messaging.MatchesAny(c.cfg.Stream.Subjects, target) {
			return fmt.Errorf("rpc: stream %s does not capture %s", c.cfg.Stream.Name, target)
		}
		if err := c.transport.EnsureStream(ctx, c.cfg.Stream); err != nil {
			return fmt.Errorf("ensure request queue for %s: %w", target, err)
		}
	}

	c.mu.Lock()
	c.ensured[target] = true
	c.mu.Unlock()
	return nil
}

// Call sends payload to target and returns the matching reply's payload.
func (c *Client) Call(ctx context.Context, target string, payload []byte) ([]byte, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		data []byte
		err  error
	)
	if c.mux != nil {
		data, err = c.callShared(ctx, target, payload)
	} else {
		data, err = c.callExclusive(ctx, target, payload)
	}

	callDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
	callsTotal.WithLabelValues(target, outcome(err)).Inc()
	return data, err
}

// CallJSON marshals req, calls target and unmarshals the reply into resp.
func (c *Client) CallJSON(ctx context.Context, target string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data, err := c.Call(ctx, target, payload)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("unmarshal reply from %s: %w", target, err)
	}
	return nil
}

// Close releases the shared reply queue, failing calls still waiting on it.
func (c *Client) Close() error {
	if c.mux != nil {
		return c.mux.close()
	}
	return nil
}

func (c *Client) callExclusive(ctx context.Context, target string, payload []byte) ([]byte, error) {
	if err := c.EnsureQueue(ctx, target); err != nil {
		return nil, err
	}

	queue, err := c.transport.OpenReplyQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("open reply queue: %w", err)
	}
	defer queue.Close()

	corrID := uuid.NewString()
	start := time.Now()
	if err := c.publish(ctx, target, payload, corrID, queue.Subject()); err != nil {
		return nil, err
	}

	for {
		reply, err := queue.Next(ctx)
		if err != nil {
			return nil, c.waitError(ctx, err, target, corrID, start)
		}
		if got := reply.Header(messaging.HeaderCorrelationID); got != corrID {
			mismatchedReplies.WithLabelValues(target).Inc()
			c.logger.Debug("ignoring reply with foreign correlation id",
				slog.String("target", target), slog.String("expected", corrID), slog.String("got", got))
			continue
		}
		return replyPayload(target, reply)
	}
}

func (c *Client) callShared(ctx context.Context, target string, payload []byte) ([]byte, error) {
	if err := c.EnsureQueue(ctx, target); err != nil {
		return nil, err
	}

	replyTo, err := c.mux.start(ctx)
	if err != nil {
		return nil, err
	}

	corrID := uuid.NewString()
	deadline, _ := ctx.Deadline()
	ch := c.mux.register(corrID, deadline)
	defer c.mux.forget(corrID)

	start := time.Now()
	if err := c.publish(ctx, target, payload, corrID, replyTo); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, c.waitError(ctx, ctx.Err(), target, corrID, start)
	case reply, ok := <-ch:
		if !ok {
			if c.mux.isClosed() {
				return nil, errors.New("rpc: client closed")
			}
			return nil, &TimeoutError{Target: target, CorrelationID: corrID, After: time.Since(start)}
		}
		return replyPayload(target, reply)
	}
}

func (c *Client) publish(ctx context.Context, target string, payload []byte, corrID, replyTo string) error {
	opts := []messaging.PublishOption{
		messaging.WithHeader(messaging.HeaderCorrelationID, corrID),
		messaging.WithHeader(messaging.HeaderReplyTo, replyTo),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, messaging.WithHeader(HeaderDeadline, strconv.FormatInt(deadline.UnixMilli(), 10)))
	}
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		opts = append(opts, messaging.WithHeader(messaging.HeaderRequestID, reqID))
	}

	if err := c.transport.PublishPersistent(ctx, messaging.NewMessage(target, payload, opts...)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Target: target, CorrelationID: corrID, After: c.cfg.Timeout}
		}
		return fmt.Errorf("publish request to %s: %w", target, err)
	}
	return nil
}

func (c *Client) waitError(ctx context.Context, err error, target, corrID string, start time.Time) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Target: target, CorrelationID: corrID, After: time.Since(start)}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("wait for reply from %s: %w", target, err)
}

func replyPayload(target string, reply *messaging.Message) ([]byte, error) {
	if msg := reply.Header(HeaderError); msg != "" {
		return nil, &RemoteError{Target: target, Message: msg}
	}
	return reply.Data, nil
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &remote):
		return "remote_error"
	default:
		return "error"
	}
}
