// Package database provides the timeout budget applied to every document-store call.
package database

import (
	"context"
	"time"
)

const (
	// DefaultQueryTimeout bounds reads.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds single-document writes.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultBulkTimeout bounds transactions, recursive deletes and migrations.
	DefaultBulkTimeout = 30 * time.Second
)

// QueryContext derives a context bounded by DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return within(parent, DefaultQueryTimeout)
}

// WriteContext derives a context bounded by DefaultWriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return within(parent, DefaultWriteTimeout)
}

// BulkContext derives a context bounded by DefaultBulkTimeout.
func BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return within(parent, DefaultBulkTimeout)
}

// within keeps an earlier parent deadline instead of extending it.
func within(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) < d {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
