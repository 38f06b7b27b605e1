package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bugtracker/history-stack/common/messaging"
)

type pendingCall struct {
	ch      chan *messaging.Message
	expires time.Time
}

// multiplexer routes replies arriving on one shared queue to waiting calls by correlation id.
type multiplexer struct {
	inbox    messaging.Inbox
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	queue   messaging.ReplyQueue
	pending map[string]*pendingCall
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

func newMultiplexer(inbox messaging.Inbox, interval time.Duration, logger *slog.Logger) *multiplexer {
	return &multiplexer{
		inbox:    inbox,
		interval: interval,
		logger:   logger,
		pending:  make(map[string]*pendingCall),
	}
}

// start opens the shared queue on first use and returns its address.
func (m *multiplexer) start(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", fmt.Errorf("rpc: client closed")
	}
	if m.queue != nil {
		return m.queue.Subject(), nil
	}

	q, err := m.inbox.OpenReplyQueue(ctx)
	if err != nil {
		return "", fmt.Errorf("open shared reply queue: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	m.queue = q
	m.cancel = cancel

	m.wg.Add(2)
	go m.readLoop(loopCtx, q)
	go m.sweepLoop(loopCtx)
	return q.Subject(), nil
}

func (m *multiplexer) register(corrID string, expires time.Time) <-chan *messaging.Message {
	ch := make(chan *messaging.Message, 1)
	m.mu.Lock()
	m.pending[corrID] = &pendingCall{ch: ch, expires: expires}
	pendingCalls.Set(float64(len(m.pending)))
	m.mu.Unlock()
	return ch
}

func (m *multiplexer) forget(corrID string) {
	m.mu.Lock()
	delete(m.pending, corrID)
	pendingCalls.Set(float64(len(m.pending)))
	m.mu.Unlock()
}

func (m *multiplexer) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// size returns the number of calls awaiting a reply.
func (m *multiplexer) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *multiplexer) readLoop(ctx context.Context, q messaging.ReplyQueue) {
	defer m.wg.Done()
	for {
		msg, err := q.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("shared reply queue read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		corrID := msg.Header(messaging.HeaderCorrelationID)
		m.mu.Lock()
		call := m.pending[corrID]
		delete(m.pending, corrID)
		pendingCalls.Set(float64(len(m.pending)))
		m.mu.Unlock()

		if call == nil {
			mismatchedReplies.WithLabelValues("shared").Inc()
			m.logger.Debug("ignoring reply with unknown correlation id", slog.String("correlation_id", corrID))
			continue
		}
		call.ch <- msg
	}
}

// sweepLoop drops pending calls whose deadline has passed.
func (m *multiplexer) sweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *multiplexer) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, call := range m.pending {
		if !call.expires.IsZero() && now.After(call.expires) {
			delete(m.pending, id)
			close(call.ch)
			n++
		}
	}
	if n > 0 {
		expiredCalls.Add(float64(n))
		pendingCalls.Set(float64(len(m.pending)))
	}
	return n
}

func (m *multiplexer) close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	q, cancel := m.queue, m.cancel
	for id, call := range m.pending {
		delete(m.pending, id)
		close(call.ch)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	if q != nil {
		return q.Close()
	}
	return nil
}
