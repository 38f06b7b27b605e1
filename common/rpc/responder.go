package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/common/messaging/consumer"
)

// RequestHandler computes the reply payload for a request payload.
type RequestHandler func(ctx context.Context, payload []byte) (any, error)

// Responder answers requests delivered by a consumer. Handle is a consumer.Handler.
type Responder struct {
	replies messaging.Publisher
	handler RequestHandler
	logger  *slog.Logger
	now     func() time.Time
}

// NewResponder creates a Responder publishing replies through replies.
func NewResponder(replies messaging.Publisher, handler RequestHandler) *Responder {
	return &Responder{
		replies: replies,
		handler: handler,
		logger:  slog.Default().With(slog.String("component", "rpc-responder")),
		now:     time.Now,
	}
}

// Handle runs the handler and publishes the reply to the request's Reply-To address.
// Handler failures are sent back to the caller as RemoteErrors and the request is acknowledged;
// only a failure to publish the reply is returned, so the request is redelivered.
func (r *Responder) Handle(ctx context.Context, msg *messaging.Message) error {
	replyTo := msg.Header(messaging.HeaderReplyTo)
	corrID := msg.Header(messaging.HeaderCorrelationID)
	if replyTo == "" || corrID == "" {
		r.logger.Warn("dropping request without reply address or correlation id", slog.String("subject", msg.Subject))
		return nil
	}

	if r.expired(msg) {
		expiredRequests.WithLabelValues(msg.Subject).Inc()
		r.logger.Info("dropping request past caller deadline",
			slog.String("subject", msg.Subject), slog.String("correlation_id", corrID))
		return nil
	}

	reply := messaging.NewMessage(replyTo, nil, messaging.WithHeader(messaging.HeaderCorrelationID, corrID))
	if reqID := msg.Header(messaging.HeaderRequestID); reqID != "" {
		reply.SetHeader(messaging.HeaderRequestID, reqID)
	}

	result, err := r.handler(ctx, msg.Data)
	if err == nil {
		reply.Data, err = json.Marshal(result)
	}
	if err != nil {
		if !errors.Is(err, consumer.ErrDecode) {
			r.logger.Error("request handler failed",
				slog.String("subject", msg.Subject), slog.String("correlation_id", corrID), slog.String("error", err.Error()))
		}
		reply.Data = nil
		reply.SetHeader(HeaderError, err.Error())
	}

	if err := r.replies.PublishMsg(ctx, reply); err != nil {
		return fmt.Errorf("publish reply to %s: %w", replyTo, err)
	}
	return nil
}

func (r *Responder) expired(msg *messaging.Message) bool {
	raw := msg.Header(HeaderDeadline)
	if raw == "" {
		return false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return r.now().After(time.UnixMilli(ms))
}
