package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugtracker/history-stack/common/rpc"
)

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": status < 300,
		"message": message,
		"data":    data,
	})
}

func TestVersionsClient_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/versions/ticket/T-1", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "v1", r.URL.Query().Get("startAfter"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		writeEnvelope(w, http.StatusOK, "Item versions retrieved", map[string]any{
			"versions": []map[string]any{
				{"id": "v2", "version": 2, "timestamp": 1700000000000, "data": map[string]any{"title": "b"}},
				{"id": "v3", "version": 3, "timestamp": 1700000000001, "data": map[string]any{"title": "c"}},
			},
			"nextStartAfter": "v3",
		})
	}))
	defer server.Close()

	page, err := NewVersionsClient(server.URL+"/", "tok").List(context.Background(), "ticket", "T-1", 2, "v1")
	require.NoError(t, err)
	require.Len(t, page.Versions, 2)
	assert.Equal(t, int64(2), page.Versions[0].Version)
	assert.JSONEq(t, `{"title":"c"}`, string(page.Versions[1].Data))
	assert.Equal(t, "v3", page.NextStartAfter)
}

func TestVersionsClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"not found envelope", http.StatusNotFound, `{"success":false,"message":"Version not found"}`, "Version not found"},
		{"forbidden envelope", http.StatusForbidden, `{"success":false,"message":"Insufficient role"}`, "Insufficient role"},
		{"non json body", http.StatusBadGateway, `bad gateway`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := NewVersionsClient(server.URL, "tok").Get(context.Background(), "ticket", "T-1", "v9")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
		})
	}
}

func TestVersionsClient_DeleteVersions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/versions/task/T-2/versions", r.URL.Path)

		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b"}, body["versions"])
		writeEnvelope(w, http.StatusOK, "Item versions deleted", nil)
	}))
	defer server.Close()

	require.NoError(t, NewVersionsClient(server.URL, "tok").DeleteVersions(context.Background(), "task", "T-2", []string{"a", "b"}))
}

func TestVersionsClient_EscapesPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/versions/ticket/a%2Fb", r.URL.EscapedPath())
		writeEnvelope(w, http.StatusOK, "Item deleted", nil)
	}))
	defer server.Close()

	require.NoError(t, NewVersionsClient(server.URL, "tok").DeleteItem(context.Background(), "ticket", "a/b"))
}

func TestLogsClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/logs/2024-05-01/audit", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "Logs retrieved", map[string]any{
			"logs": []map[string]any{{"id": "l2", "type": "audit", "message": "deleted item", "timestamp": 1714560000002}},
		})
	})
	mux.HandleFunc("GET /api/v1/logs/2024-05-01/audit/l2", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "Log retrieved", map[string]any{"id": "l2", "type": "audit", "actor": map[string]any{"uid": "u1"}})
	})
	mux.HandleFunc("GET /api/v1/dlq/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rejected", r.URL.Query().Get("reason"))
		writeEnvelope(w, http.StatusOK, "DLQ messages retrieved", []map[string]any{
			{"timestamp": "2024-05-01T10:00:00Z", "subject": "log.dlq.rejected", "reason": "rejected", "attempts": 1},
		})
	})
	mux.HandleFunc("DELETE /api/v1/dlq", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "DLQ purged", nil)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewLogsClient(server.URL, "tok")
	ctx := context.Background()

	page, err := c.List(ctx, "2024-05-01", "audit", 0, "")
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "deleted item", page.Logs[0].Message)
	assert.Empty(t, page.NextStartAfter)

	entry, err := c.Get(ctx, "2024-05-01", "audit", "l2")
	require.NoError(t, err)
	assert.Equal(t, "u1", entry.Actor.UID)

	failed, err := c.DLQList(ctx, "rejected", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2024, failed[0].Timestamp.Year())

	require.NoError(t, c.DLQPurge(ctx))
}

func TestUsersClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "u1,u2", r.URL.Query().Get("ids"))
			writeEnvelope(w, http.StatusOK, "Users retrieved", []map[string]any{{"id": "u1", "username": "ana"}})
		case http.MethodPut:
			assert.Equal(t, "/api/v1/users/u3", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "bo", body["username"])
			writeEnvelope(w, http.StatusOK, "User saved", body)
		}
	}))
	defer server.Close()

	c := NewUsersClient(server.URL, "tok")
	users, err := c.Lookup(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ana", users[0].Username)

	require.NoError(t, c.Put(context.Background(), rpc.User{ID: "u3", Username: "bo"}))
}
