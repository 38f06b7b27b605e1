package rpc

import (
	"context"

	"github.com/bugtracker/history-stack/common/messaging"
)

// User is the record returned by the users lookup call.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Caller is satisfied by *Client.
type Caller interface {
	CallJSON(ctx context.Context, target string, req, resp any) error
}

// UserLookup resolves user ids through the users lookup service.
type UserLookup struct {
	caller Caller
}

func NewUserLookup(caller Caller) *UserLookup {
	return &UserLookup{caller: caller}
}

// GetUsers returns the known users among ids, in request order. Unknown ids are omitted.
func (u *UserLookup) GetUsers(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	var users []User
	if err := u.caller.CallJSON(ctx, messaging.SubjectRPCUsersLookup, ids, &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}
