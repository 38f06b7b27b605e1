package rpc

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("rpc: timed out waiting for reply")

// TimeoutError reports a call whose deadline passed before a matching reply arrived.
type TimeoutError struct {
	Target        string
	CorrelationID string
	After         time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc %s (correlation %s): no reply after %s", e.Target, e.CorrelationID, e.After.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// RemoteError carries a failure reported by the callee.
type RemoteError struct {
	Target  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s: remote error: %s", e.Target, e.Message)
}
