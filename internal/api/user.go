package api

import (
	"context"
	"fmt"
	"net/http"
)

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	AccessToken string `json:"access_token"`
}

// Login exchanges staff credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out loginResp
	if err := c.do(ctx, http.MethodPost, "/user/login", loginReq{Email: email, Password: password}, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: no access_token in login response", ErrDecode)
	}
	return out.AccessToken, nil
}

// Me fetches the profile for token, independent of the client's TokenSource.
func (c *Client) Me(ctx context.Context, token string) (StaffUser, error) {
	var out StaffUser
	scoped := *c
	scoped.Tokens = staticToken(token)
	if err := scoped.do(ctx, http.MethodGet, "/user/me", nil, &out); err != nil {
		return StaffUser{}, err
	}
	return out, nil
}

type staticToken string

func (t staticToken) Token() string { return string(t) }
