// Package nats serves the users lookup call from the RPC request stream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	commonconfig "github.com/bugtracker/history-stack/common/config"
	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/common/messaging/consumer"
	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
	"github.com/bugtracker/history-stack/common/rpc"
)

// Resolver is implemented by *service.Directory.
type Resolver interface {
	Lookup(ctx context.Context, ids []string) ([]rpc.User, error)
}

// LookupHandler decodes a JSON array of user ids and resolves it.
func LookupHandler(r Resolver) rpc.RequestHandler {
	return func(ctx context.Context, payload []byte) (any, error) {
		var ids []string
		if err := json.Unmarshal(payload, &ids); err != nil {
			return nil, fmt.Errorf("%w: %v", consumer.ErrDecode, err)
		}
		return r.Lookup(ctx, ids)
	}
}

// NewConsumer creates the durable users-lookup consumer answering through replies.
func NewConsumer(connector messaging.Connector, replies messaging.Publisher, r Resolver, cfg commonconfig.ConsumerConfig) *consumer.Consumer {
	maxDeliver := cfg.MaxDeliver
	if maxDeliver == 0 {
		maxDeliver = natsclient.DefaultMaxDeliver
	}
	responder := rpc.NewResponder(replies, LookupHandler(r))
	return consumer.New(connector, responder.Handle, consumer.Config{
		Streams: []messaging.StreamSpec{natsclient.RPCRequestsStream},
		Consumer: messaging.ConsumerSpec{
			Stream:         natsclient.RPCRequestsStream.Name,
			Durable:        messaging.ConsumerUsersLookup,
			FilterSubjects: []string{messaging.SubjectRPCUsersLookup},
			AckWait:        cfg.AckWait,
			MaxDeliver:     maxDeliver,
			MaxAckPending:  cfg.MaxAckPending,
		},
		QueueSize:      cfg.QueueSize,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Policy:         consumer.RetryPolicy{Delay: cfg.RetryDelay, MaxDeliver: maxDeliver},
	})
}
