// Package models defines the versioning service's records.
package models

import "encoding/json"

// Item types with version history.
const (
	ItemTicket  = "ticket"
	ItemTask    = "task"
	ItemSubtask = "subtask"
)

// VersionEnvelope is one immutable snapshot of an item. Timestamp is Unix milliseconds.
type VersionEnvelope struct {
	ID             string          `json:"id"`
	Timestamp      int64           `json:"timestamp"`
	Version        int64           `json:"version"`
	Deleted        bool            `json:"deleted"`
	Data           json.RawMessage `json:"data"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// Item is the anchor document of an item's history. LastVersion is the version counter.
type Item struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	LastVersion int64  `json:"lastVersion"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// VersionPage is one page of an item's history in ascending order.
type VersionPage struct {
	Versions []*VersionEnvelope `json:"versions"`
	// NextStartAfter is the id to pass as startAfter for the next page; empty on the last page.
	NextStartAfter string `json:"nextStartAfter,omitempty"`
}

// DeleteVersionsRequest is the body of the bulk version delete.
type DeleteVersionsRequest struct {
	Versions []string `json:"versions"`
}
