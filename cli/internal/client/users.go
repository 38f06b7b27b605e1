package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/bugtracker/history-stack/common/rpc"
)

// UsersClient talks to the user directory's HTTP API.
type UsersClient struct {
	apiClient
}

func NewUsersClient(baseURL, token string) *UsersClient {
	return &UsersClient{newAPIClient(baseURL, token)}
}

// Lookup resolves ids over HTTP; unknown ids are omitted.
func (c *UsersClient) Lookup(ctx context.Context, ids []string) ([]rpc.User, error) {
	var users []rpc.User
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/users", q, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Put creates or replaces a user. Requires an admin token.
func (c *UsersClient) Put(ctx context.Context, u rpc.User) error {
	id := u.ID
	u.ID = ""
	return c.do(ctx, http.MethodPut, "/api/v1/users/"+segment(id), nil, u, nil)
}
