package rest

import (
	"context"
	"encoding/json"

	"github.com/corpchat/chatsync/internal/chaterr"
	"github.com/corpchat/chatsync/internal/store"
)

// Login authenticates against the backend. On success the returned token
// is also installed on the client for subsequent calls.
func (c *Client) Login(ctx context.Context, userLogin, password string) (string, *store.User, error) {
	// Login is the one unauthenticated call; bypass newRequest's token
	// precondition by posting with a throwaway token-free request.
	body, err := json.Marshal(map[string]string{
		"user_login": userLogin,
		"password":   password,
	})
	if err != nil {
		return "", nil, chaterr.Decoding("encode login body", err)
	}

	data, err := c.postUnauthenticated(ctx, "/api/auth/login", body)
	if err != nil {
		return "", nil, err
	}

	var resp struct {
		Token       string      `json:"token"`
		AccessToken string      `json:"access_token"`
		User        *store.User `json:"user"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", nil, chaterr.Decoding("login response", err)
	}

	token := resp.Token
	if token == "" {
		token = resp.AccessToken
	}
	if token == "" {
		return "", nil, chaterr.Server("login response without token", nil)
	}

	c.SetToken(token)
	return token, resp.User, nil
}

// ListUsers retrieves the user directory.
func (c *Client) ListUsers(ctx context.Context) ([]store.User, error) {
	data, err := c.getJSON(ctx, "/api/user/list_users")
	if err != nil {
		return nil, err
	}

	var users []store.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, chaterr.Decoding("user list", err)
	}
	return users, nil
}
