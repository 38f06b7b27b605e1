package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bugtracker/history-stack/common/events"
)

type LogPage struct {
	Logs           []events.LogEntry `json:"logs"`
	NextStartAfter string            `json:"nextStartAfter,omitempty"`
}

// FailedLog is a parked log entry as listed by the logger's dead letter endpoint.
type FailedLog struct {
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Payload   string    `json:"payload"`
	Error     string    `json:"error"`
	Reason    string    `json:"reason"`
	Attempts  uint64    `json:"attempts"`
}

// LogsClient talks to the logger service. All routes require an admin token.
type LogsClient struct {
	apiClient
}

func NewLogsClient(baseURL, token string) *LogsClient {
	return &LogsClient{newAPIClient(baseURL, token)}
}

// List returns a day's entries of one type, newest first. day is YYYY-MM-DD.
func (c *LogsClient) List(ctx context.Context, day, logType string, limit int, startAfter string) (*LogPage, error) {
	var page LogPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/logs/"+segment(day, logType), pageQuery(limit, startAfter), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *LogsClient) Get(ctx context.Context, day, logType, id string) (*events.LogEntry, error) {
	var entry events.LogEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/logs/"+segment(day, logType, id), nil, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *LogsClient) Delete(ctx context.Context, day, logType, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/logs/"+segment(day, logType, id), nil, nil, nil)
}

func (c *LogsClient) DLQStats(ctx context.Context) (map[string]any, error) {
	stats := map[string]any{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/dlq", nil, nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// DLQList returns parked entries; an empty reason lists every reason.
func (c *LogsClient) DLQList(ctx context.Context, reason string, limit int) ([]FailedLog, error) {
	q := url.Values{}
	if reason != "" {
		q.Set("reason", reason)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var failed []FailedLog
	if err := c.do(ctx, http.MethodGet, "/api/v1/dlq/messages", q, nil, &failed); err != nil {
		return nil, err
	}
	return failed, nil
}

func (c *LogsClient) DLQPurge(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/dlq", nil, nil, nil)
}
