package client

import (
	"context"
	"encoding/json"
	"net/http"
)

// Version is one stored snapshot of an item.
type Version struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Version   int64           `json:"version"`
	Deleted   bool            `json:"deleted"`
	Data      json.RawMessage `json:"data"`
}

type VersionPage struct {
	Versions       []Version `json:"versions"`
	NextStartAfter string    `json:"nextStartAfter,omitempty"`
}

// VersionsClient talks to the versioning service.
type VersionsClient struct {
	apiClient
}

func NewVersionsClient(baseURL, token string) *VersionsClient {
	return &VersionsClient{newAPIClient(baseURL, token)}
}

func (c *VersionsClient) List(ctx context.Context, itemType, itemID string, limit int, startAfter string) (*VersionPage, error) {
	var page VersionPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/versions/"+segment(itemType, itemID), pageQuery(limit, startAfter), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *VersionsClient) Get(ctx context.Context, itemType, itemID, versionID string) (*Version, error) {
	var v Version
	if err := c.do(ctx, http.MethodGet, "/api/v1/versions/"+segment(itemType, itemID, versionID), nil, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DeleteVersions removes the given versions of one item.
func (c *VersionsClient) DeleteVersions(ctx context.Context, itemType, itemID string, versionIDs []string) error {
	body := map[string][]string{"versions": versionIDs}
	return c.do(ctx, http.MethodDelete, "/api/v1/versions/"+segment(itemType, itemID)+"/versions", nil, body, nil)
}

// DeleteItem removes an item with its whole history. Requires an admin token.
func (c *VersionsClient) DeleteItem(ctx context.Context, itemType, itemID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/versions/"+segment(itemType, itemID), nil, nil, nil)
}
