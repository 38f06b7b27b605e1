package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugtracker/history-stack/common/audit"
	"github.com/bugtracker/history-stack/common/docstore"
	"github.com/bugtracker/history-stack/common/events"
	"github.com/bugtracker/history-stack/common/messaging"
	"github.com/bugtracker/history-stack/logger/internal/repository"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestService(signer *audit.Signer) *Service {
	store := repository.NewLogStore(docstore.NewMemoryStore(), "")
	return NewService(store, signer).WithClock(func() time.Time { return fixedNow })
}

func signed(signer *audit.Signer, e events.LogEntry) events.LogEntry {
	e.Signature = signer.Sign(&e)
	return e
}

func TestCreateLog_FillsIDAndTimestamp(t *testing.T) {
	svc := newTestService(nil)

	stored, err := svc.CreateLog(context.Background(), events.LogEntry{Type: events.LogInfo, Message: "Item versions retrieved"})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, fixedNow.UnixMilli(), stored.Timestamp)

	got, err := svc.GetLog(context.Background(), "2026-03-14", events.LogInfo, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "Item versions retrieved", got.Message)
}

func TestIngestLog_DerivesStableIdentity(t *testing.T) {
	signer := audit.NewSigner("shared")
	svc := newTestService(signer)
	ctx := context.Background()

	entry := signed(signer, events.LogEntry{Type: events.LogAudit, Message: "Item deleted"})
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	published := fixedNow.Add(-time.Minute)
	msg := &messaging.Message{Subject: "log.audit.versioning", Data: data, Timestamp: published}

	first, err := svc.IngestLog(ctx, entry, msg)
	require.NoError(t, err)
	second, err := svc.IngestLog(ctx, entry, msg)
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, published.UnixMilli(), first.Timestamp)

	page, err := svc.GetLogs(ctx, "2026-03-14", events.LogAudit, 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Logs, 1)

	later := *msg
	later.Timestamp = published.Add(time.Second)
	third, err := svc.IngestLog(ctx, entry, &later)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID, "a separate publish is a separate entry")
}

func TestIngestLog_KeepsProducerIdentity(t *testing.T) {
	svc := newTestService(nil)
	msg := &messaging.Message{Subject: "log.error.userdir", Timestamp: fixedNow}

	stored, err := svc.IngestLog(context.Background(), events.LogEntry{ID: "l-1", Type: events.LogError, Timestamp: 42}, msg)
	require.NoError(t, err)
	assert.Equal(t, "l-1", stored.ID)
	assert.Equal(t, int64(42), stored.Timestamp)

	_, err = svc.IngestLog(context.Background(), events.LogEntry{Type: events.LogError}, &messaging.Message{Subject: "log.error.userdir"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateLog_Signatures(t *testing.T) {
	signer := audit.NewSigner("shared")
	svc := newTestService(signer)
	base := events.LogEntry{ID: "s1", Type: events.LogAudit, Message: "Item deleted", Timestamp: fixedNow.UnixMilli()}

	tests := []struct {
		name    string
		entry   events.LogEntry
		wantErr error
	}{
		{"valid signature", signed(signer, base), nil},
		{"unsigned", base, ErrInvalidSignature},
		{"signed by another key", signed(audit.NewSigner("other"), base), ErrInvalidSignature},
		{"altered after signing", func() events.LogEntry {
			e := signed(signer, base)
			e.Message = "Nothing happened"
			return e
		}(), ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateLog(context.Background(), tt.entry)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateLog_RejectsUnknownType(t *testing.T) {
	svc := newTestService(nil)
	_, err := svc.CreateLog(context.Background(), events.LogEntry{Type: "debug"})
	assert.ErrorIs(t, err, repository.ErrInvalidLogType)
}

func TestGetLogs_Validation(t *testing.T) {
	svc := newTestService(nil)

	tests := []struct {
		name    string
		day     string
		logType string
		limit   int
		wantErr error
	}{
		{"bad day", "14-03-2026", events.LogAudit, 10, ErrValidation},
		{"bad type", "2026-03-14", "trace", 10, repository.ErrInvalidLogType},
		{"zero limit", "2026-03-14", events.LogAudit, 0, ErrValidation},
		{"limit too large", "2026-03-14", events.LogAudit, MaxPageSize + 1, ErrValidation},
		{"ok", "2026-03-14", events.LogAudit, MaxPageSize, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetLogs(context.Background(), tt.day, tt.logType, tt.limit, "")
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGetLogs_NextCursor(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateLog(ctx, events.LogEntry{Type: events.LogError, Timestamp: fixedNow.Add(time.Duration(i) * time.Second).UnixMilli()})
		require.NoError(t, err)
	}

	page, err := svc.GetLogs(ctx, "2026-03-14", events.LogError, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Logs, 2)
	assert.Equal(t, page.Logs[1].ID, page.NextStartAfter)

	rest, err := svc.GetLogs(ctx, "2026-03-14", events.LogError, 2, page.NextStartAfter)
	require.NoError(t, err)
	assert.Len(t, rest.Logs, 1)
	assert.Empty(t, rest.NextStartAfter)
}

func TestUpdateLog_ResignsEntry(t *testing.T) {
	signer := audit.NewSigner("shared")
	svc := newTestService(signer)
	ctx := context.Background()

	orig := signed(signer, events.LogEntry{ID: "u1", Type: events.LogAudit, Message: "before", Timestamp: fixedNow.UnixMilli()})
	_, err := svc.CreateLog(ctx, orig)
	require.NoError(t, err)

	updated, err := svc.UpdateLog(ctx, "2026-03-14", events.LogAudit, "u1", LogUpdate{
		Message: "after",
		Data:    json.RawMessage(`{"note":"fixed typo"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Message)
	assert.NotEqual(t, orig.Signature, updated.Signature)
	assert.True(t, signer.Verify(updated, updated.Signature))

	_, err = svc.UpdateLog(ctx, "2026-03-14", events.LogAudit, "u1", LogUpdate{})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.UpdateLog(ctx, "2026-03-14", events.LogAudit, "missing", LogUpdate{Message: "x"})
	assert.ErrorIs(t, err, repository.ErrLogNotFound)
}

func TestDeleteLog(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()
	stored, err := svc.CreateLog(ctx, events.LogEntry{Type: events.LogAudit})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteLog(ctx, "2026-03-14", events.LogAudit, stored.ID))
	assert.ErrorIs(t, svc.DeleteLog(ctx, "2026-03-14", events.LogAudit, stored.ID), repository.ErrLogNotFound)
	assert.ErrorIs(t, svc.DeleteLog(ctx, "2026-03-14", events.LogAudit, ""), ErrValidation)
}

type brokenStore struct{ Store }

func (brokenStore) CreateLog(context.Context, *events.LogEntry) error {
	return errors.New("connection reset")
}

func TestCreateLog_WrapsStoreFailure(t *testing.T) {
	svc := NewService(brokenStore{}, nil)
	_, err := svc.CreateLog(context.Background(), events.LogEntry{Type: events.LogInfo})

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "create log", opErr.Op)
}
