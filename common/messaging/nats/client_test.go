package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"

	"github.com/bugtracker/history-stack/common/config"
	"github.com/bugtracker/history-stack/common/messaging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
}

func TestHeaderRoundTrip(t *testing.T) {
	msg := &messaging.Message{
		Subject: "rpc.users.lookup",
		Data:    []byte(`["u1"]`),
		Metadata: map[string]string{
			messaging.HeaderCorrelationID: "c-1",
			messaging.HeaderReplyTo:       "_INBOX.x",
		},
	}

	natsMsg := toNATS(msg)
	assert.Equal(t, "c-1", natsMsg.Header.Get(messaging.HeaderCorrelationID))

	back := fromNATS(natsMsg)
	assert.Equal(t, msg.Subject, back.Subject)
	assert.Equal(t, msg.Metadata, back.Metadata)
}

func TestToNATS_NoHeaders(t *testing.T) {
	natsMsg := toNATS(&messaging.Message{Subject: "version.ticket.updated"})
	assert.Nil(t, natsMsg.Header)
	assert.Nil(t, headerMap(natsMsg.Header))
}

func TestWithConsumerDefaults(t *testing.T) {
	spec := withConsumerDefaults(messaging.ConsumerSpec{Durable: "log-writer", MaxDeliver: 3})
	assert.Equal(t, 30*time.Second, spec.AckWait)
	assert.Equal(t, 3, spec.MaxDeliver)
	assert.Equal(t, 100, spec.MaxAckPending)
}

func TestStreams_CoverSubjects(t *testing.T) {
	assert.True(t, messaging.MatchesAny(VersionEventsStream.Subjects, messaging.VersionSubject("ticket", "updated")))
	assert.True(t, messaging.MatchesAny(LogEventsStream.Subjects, messaging.LogSubject("info", "versioning")))
	assert.False(t, messaging.MatchesAny(LogEventsStream.Subjects, messaging.LogDLQSubject("decode")))
	assert.True(t, messaging.MatchesAny(LogDLQStream.Subjects, messaging.LogDLQSubject("decode")))
	assert.True(t, messaging.MatchesAny(RPCRequestsStream.Subjects, messaging.SubjectRPCUsersLookup))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.NATSConfig{URL: "nats://broker:4222", Token: "t0k"}, "versioning")
	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, "versioning", cfg.Name)
	assert.Equal(t, "t0k", cfg.Token)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)

	cfg = ConfigFrom(config.NATSConfig{MaxReconnects: 10, ReconnectWait: time.Second}, "cli")
	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, 10, cfg.MaxReconnects)
	assert.Equal(t, time.Second, cfg.ReconnectWait)
}
