package seeder

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/bugtracker/history-stack/common/events"
)

var (
	statuses   = []string{"open", "in_progress", "in_review", "done"}
	priorities = []string{"low", "medium", "high", "critical"}
	roles      = []string{"admin", "project_manager", "developer"}
	methods    = []string{http.MethodGet, http.MethodPut, http.MethodDelete}
)

// Generator produces fake item snapshots and log entries from one seeded source.
type Generator struct {
	faker *gofakeit.Faker
}

func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Item is the evolving state of one fake tracked item.
type Item struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Body     string   `json:"description"`
	Status   string   `json:"status"`
	Priority string   `json:"priority"`
	Assignee string   `json:"assignee"`
	Labels   []string `json:"labels"`
	Revision int      `json:"revision"`
}

// NewItem returns the first state of an item.
func (g *Generator) NewItem(itemType string) *Item {
	prefix := strings.ToUpper(itemType[:1])
	return &Item{
		ID:       fmt.Sprintf("%s-%d", prefix, g.faker.Number(10000, 99999)),
		Type:     itemType,
		Title:    g.faker.HackerPhrase(),
		Body:     g.faker.Sentence(12),
		Status:   statuses[0],
		Priority: g.faker.RandomString(priorities),
		Assignee: g.faker.Username(),
		Labels:   []string{g.faker.BuzzWord()},
		Revision: 1,
	}
}

// Mutate applies one random edit and bumps the revision.
func (g *Generator) Mutate(it *Item) {
	switch g.faker.Number(0, 3) {
	case 0:
		it.Title = g.faker.HackerPhrase()
	case 1:
		for i, s := range statuses {
			if s == it.Status && i < len(statuses)-1 {
				it.Status = statuses[i+1]
				break
			}
		}
	case 2:
		it.Assignee = g.faker.Username()
	default:
		it.Labels = append(it.Labels, g.faker.BuzzWord())
	}
	it.Revision++
}

// ChangeEvent wraps the item's current state for publishing at ts.
func (g *Generator) ChangeEvent(it *Item, ts time.Time) (events.ItemChangeEvent, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return events.ItemChangeEvent{}, err
	}
	return events.ItemChangeEvent{
		ID:         it.ID,
		Type:       it.Type,
		Timestamp:  ts.UnixMilli(),
		Data:       data,
		MutationID: g.faker.UUID(),
	}, nil
}

// LogEntry returns a fake entry of logType at ts.
func (g *Generator) LogEntry(logType string, ts time.Time) events.LogEntry {
	method := g.faker.RandomString(methods)
	status := http.StatusOK
	message := fmt.Sprintf("%s handled", method)
	if logType == events.LogError {
		status = g.faker.RandomInt([]int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError})
		message = g.faker.Error().Error()
	} else if logType == events.LogAudit {
		method = http.MethodDelete
		message = "Item versions deleted"
	}
	return events.LogEntry{
		Type:    logType,
		Message: message,
		Actor: events.Actor{
			UID:      g.faker.UUID(),
			Username: g.faker.Username(),
			Role:     g.faker.RandomString(roles),
		},
		RequestDetails: events.RequestDetails{
			Method:   method,
			Endpoint: fmt.Sprintf("/api/v1/versions/ticket/T-%d", g.faker.Number(10000, 99999)),
			Status:   status,
			Duration: int64(g.faker.Number(1, 500)),
		},
		Timestamp: ts.UnixMilli(),
	}
}

// Pick returns one of options.
func (g *Generator) Pick(options []string) string {
	return g.faker.RandomString(options)
}

// Offset returns a random duration in [0, spread).
func (g *Generator) Offset(spread time.Duration) time.Duration {
	if spread <= 0 {
		return 0
	}
	return time.Duration(g.faker.Int64() % int64(spread)).Abs()
}
