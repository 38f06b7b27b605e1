// Package service implements log aggregation on top of the day-bucketed log store.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bugtracker/history-stack/common/audit"
	"github.com/bugtracker/history-stack/common/events"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/logger/internal/metrics"
	"github.com/bugtracker/history-stack/logger/internal/repository"
)

// Store is the persistence the service needs; *repository.LogStore implements it.
type Store interface {
	CreateLog(ctx context.Context, entry *events.LogEntry) error
	GetLog(ctx context.Context, day, logType, logID string) (*events.LogEntry, error)
	GetLogs(ctx context.Context, day, logType string, limit int, startAfter string) ([]events.LogEntry, error)
	UpdateLog(ctx context.Context, day, logType, logID string, update func(*events.LogEntry)) (*events.LogEntry, error)
	DeleteLog(ctx context.Context, day, logType, logID string) error
	Ping(ctx context.Context) error
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// LogPage is one page of a day's entries, newest first.
type LogPage struct {
	Logs           []events.LogEntry `json:"logs"`
	NextStartAfter string            `json:"nextStartAfter,omitempty"`
}

// LogUpdate carries the editable fields of an entry.
type LogUpdate struct {
	Message        string                `json:"message"`
	Actor          events.Actor          `json:"actor"`
	RequestDetails events.RequestDetails `json:"requestDetails"`
	Data           json.RawMessage       `json:"data,omitempty"`
}

type Service struct {
	store  Store
	signer *audit.Signer
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates the service. With a nil signer entries are accepted unsigned.
func NewService(store Store, signer *audit.Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
		now:    time.Now,
		logger: logging.Component("log-service"),
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateLog verifies and stores entry in the document of its calendar day.
// A missing id or timestamp is filled in.
func (s *Service) CreateLog(ctx context.Context, entry events.LogEntry) (*events.LogEntry, error) {
	return s.create(ctx, entry, func(e *events.LogEntry) error {
		if e.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("generate log id: %w", err)
			}
			e.ID = id.String()
		}
		if e.Timestamp == 0 {
			e.Timestamp = s.now().UnixMilli()
		}
		return nil
	})
}

// deliveryNamespace scopes the ids derived for entries that arrive without one.
var deliveryNamespace = uuid.MustParse("6f1c2a54-3d0e-4b8a-9a57-1f4e2d8c0b31")

// IngestLog stores an entry received from the broker. A missing id is derived from the
// message subject, publish time and payload, and a missing timestamp is the publish time,
// so a redelivered copy stores as the same entry.
func (s *Service) IngestLog(ctx context.Context, entry events.LogEntry, msg *messaging.Message) (*events.LogEntry, error) {
	return s.create(ctx, entry, func(e *events.LogEntry) error {
		published := msg.Timestamp
		if published.IsZero() {
			return &ValidationError{Field: "timestamp", Reason: "message carries no publish time"}
		}
		if e.ID == "" {
			name := make([]byte, 0, len(msg.Subject)+len(msg.Data)+24)
			name = append(name, msg.Subject...)
			name = append(name, 0)
			name = strconv.AppendInt(name, published.UnixNano(), 10)
			name = append(name, 0)
			name = append(name, msg.Data...)
			e.ID = uuid.NewSHA1(deliveryNamespace, name).String()
		}
		if e.Timestamp == 0 {
			e.Timestamp = published.UnixMilli()
		}
		return nil
	})
}

func (s *Service) create(ctx context.Context, entry events.LogEntry, fill func(*events.LogEntry) error) (*events.LogEntry, error) {
	if err := validateType(entry.Type); err != nil {
		return nil, err
	}
	if !s.signer.Verify(&entry, entry.Signature) {
		return nil, fmt.Errorf("%w: entry %q", ErrInvalidSignature, entry.ID)
	}
	if err := fill(&entry); err != nil {
		return nil, err
	}

	if err := s.store.CreateLog(ctx, &entry); err != nil {
		return nil, wrap("create log", err)
	}
	metrics.LogsStored.WithLabelValues(entry.Type).Inc()
	s.logger.DebugContext(ctx, "log entry stored",
		slog.String("log_id", entry.ID), slog.String("log_type", entry.Type), logging.LogDay(entry.Day()))
	return &entry, nil
}

func (s *Service) GetLog(ctx context.Context, day, logType, logID string) (*events.LogEntry, error) {
	if err := validateKey(day, logType, logID); err != nil {
		return nil, err
	}
	entry, err := s.store.GetLog(ctx, day, logType, logID)
	if err != nil {
		return nil, wrap("get log", err)
	}
	return entry, nil
}

// GetLogs lists a day's entries of one type, newest first.
func (s *Service) GetLogs(ctx context.Context, day, logType string, limit int, startAfter string) (*LogPage, error) {
	if err := validateDay(day); err != nil {
		return nil, err
	}
	if err := validateType(logType); err != nil {
		return nil, err
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, &ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", MaxPageSize)}
	}

	logs, err := s.store.GetLogs(ctx, day, logType, limit, startAfter)
	if err != nil {
		return nil, wrap("get logs", err)
	}
	page := &LogPage{Logs: logs}
	if len(logs) == limit {
		page.NextStartAfter = logs[len(logs)-1].ID
	}
	return page, nil
}

// UpdateLog rewrites the editable fields of an entry and signs the result again.
func (s *Service) UpdateLog(ctx context.Context, day, logType, logID string, upd LogUpdate) (*events.LogEntry, error) {
	if err := validateKey(day, logType, logID); err != nil {
		return nil, err
	}
	if upd.Message == "" {
		return nil, &ValidationError{Field: "message", Reason: "required"}
	}

	entry, err := s.store.UpdateLog(ctx, day, logType, logID, func(e *events.LogEntry) {
		e.Message = upd.Message
		e.Actor = upd.Actor
		e.RequestDetails = upd.RequestDetails
		e.Data = upd.Data
		e.Signature = ""
		e.Signature = s.signer.Sign(e)
	})
	if err != nil {
		return nil, wrap("update log", err)
	}
	s.logger.InfoContext(ctx, "log entry updated", slog.String("log_id", logID), logging.LogDay(day))
	return entry, nil
}

func (s *Service) DeleteLog(ctx context.Context, day, logType, logID string) error {
	if err := validateKey(day, logType, logID); err != nil {
		return err
	}
	if err := s.store.DeleteLog(ctx, day, logType, logID); err != nil {
		return wrap("delete log", err)
	}
	metrics.LogsDeleted.WithLabelValues(logType).Inc()
	s.logger.InfoContext(ctx, "log entry deleted", slog.String("log_id", logID), logging.LogDay(day))
	return nil
}

func validateKey(day, logType, logID string) error {
	if err := validateDay(day); err != nil {
		return err
	}
	if err := validateType(logType); err != nil {
		return err
	}
	if logID == "" {
		return &ValidationError{Field: "logId", Reason: "required"}
	}
	return nil
}

func validateDay(day string) error {
	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return &ValidationError{Field: "day", Reason: "must be formatted YYYY-MM-DD"}
	}
	return nil
}

func validateType(t string) error {
	if !events.ValidLogType(t) {
		return fmt.Errorf("%w: %q", repository.ErrInvalidLogType, t)
	}
	return nil
}

// wrap keeps domain errors as they are and wraps everything else in an OpError.
func wrap(op string, err error) error {
	if errors.Is(err, repository.ErrLogNotFound) || errors.Is(err, repository.ErrInvalidLogType) {
		return err
	}
	return &OpError{Op: op, Err: err}
}
