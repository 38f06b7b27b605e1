package messaging

import (
	"context"
	"time"
)

// HealthTimeout bounds the broker round trip made by CheckHealth.
const HealthTimeout = 2 * time.Second

// Pinger is implemented by connections that can measure a round trip to the broker.
type Pinger interface {
	IsConnected() bool
	Ping(ctx context.Context) error
}

// HealthStatus is the broker part of a readiness answer.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func (s HealthStatus) Healthy() bool {
	return s.Connected && s.Error == ""
}

// CheckHealth reports whether p is connected and answers a ping within HealthTimeout.
func CheckHealth(ctx context.Context, p Pinger) HealthStatus {
	switch {
	case p == nil:
		return HealthStatus{Error: "no broker connection configured"}
	case !p.IsConnected():
		return HealthStatus{Error: "not connected to message broker"}
	}

	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	start := time.Now()
	status := HealthStatus{Connected: true}
	if err := p.Ping(ctx); err != nil {
		status.Error = "broker ping failed: " + err.Error()
	}
	status.LatencyMS = time.Since(start).Milliseconds()
	return status
}
