// Package events holds the wire types exchanged over the broker and the producers that publish them.
package events

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ItemChangeEvent announces a new state of a tracked item. Data is the full entity snapshot.
type ItemChangeEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Timestamp  int64           `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
	MutationID string          `json:"mutationId,omitempty"`
}

// Log entry types.
const (
	LogAudit = "audit"
	LogInfo  = "info"
	LogError = "error"
)

// ValidLogType reports whether t is one of the known log entry types.
func ValidLogType(t string) bool {
	return t == LogAudit || t == LogInfo || t == LogError
}

type Actor struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type RequestDetails struct {
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
	// Duration in milliseconds.
	Duration int64 `json:"duration"`
}

// LogEntry is one audit or monitoring record. Timestamp is Unix milliseconds.
type LogEntry struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Message        string          `json:"message"`
	Actor          Actor           `json:"actor"`
	RequestDetails RequestDetails  `json:"requestDetails"`
	Timestamp      int64           `json:"timestamp"`
	Data           json.RawMessage `json:"data,omitempty"`
	Signature      string          `json:"signature,omitempty"`
}

// Day returns the UTC calendar day of the entry, formatted YYYY-MM-DD.
func (e *LogEntry) Day() string {
	return DayOf(e.Timestamp)
}

// DayOf returns the UTC calendar day of a Unix millisecond timestamp.
func DayOf(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.DateOnly)
}

// SigningPayload is the canonical byte form covered by the entry signature.
// Data is covered in the compact form it takes on the wire.
func (e *LogEntry) SigningPayload() []byte {
	var b strings.Builder
	for _, part := range []string{
		e.ID, e.Type, strconv.FormatInt(e.Timestamp, 10), e.Message,
		e.Actor.UID, e.Actor.Role,
		e.RequestDetails.Method, e.RequestDetails.Endpoint, strconv.Itoa(e.RequestDetails.Status),
	} {
		b.WriteString(part)
		b.WriteByte(0)
	}
	b.Write(canonicalData(e.Data))
	return []byte(b.String())
}

// canonicalData returns data as encoding/json marshals a RawMessage: compacted with
// HTML-sensitive characters escaped. Invalid JSON is returned unchanged.
func canonicalData(data json.RawMessage) []byte {
	if len(data) == 0 {
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return data
	}
	var out bytes.Buffer
	json.HTMLEscape(&out, compact.Bytes())
	return out.Bytes()
}
