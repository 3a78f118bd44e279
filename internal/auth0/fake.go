package auth0

import "context"

// FakeClient serves canned userinfo responses, keyed by access token.
// Tokens without an entry fail the same way a revoked token would.
type FakeClient struct {
	users map[string]*UserInfo
}

func NewFakeClient() *FakeClient {
	return &FakeClient{users: make(map[string]*UserInfo)}
}

func (c *FakeClient) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	if u, ok := c.users[accessToken]; ok {
		return u, nil
	}
	return nil, ErrUserInfoFailed
}

func (c *FakeClient) AddUser(accessToken string, info *UserInfo) {
	c.users[accessToken] = info
}
