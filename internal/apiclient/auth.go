package apiclient

import (
	"context"
	"net/http"

	"finitefield.org/wholesale/internal/domain"
)

type userEnvelope struct {
	User domain.User `json:"user"`
}

type messageEnvelope struct {
	Message string `json:"message"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error) {
	var out domain.AuthResult
	err := c.call(ctx, "login", http.MethodPost, "auth/login", nil, creds, &out)
	return out, err
}

// Register creates an account and returns its bearer token.
func (c *Client) Register(ctx context.Context, reg domain.Registration) (domain.AuthResult, error) {
	var out domain.AuthResult
	err := c.call(ctx, "register", http.MethodPost, "auth/register", nil, reg, &out)
	return out, err
}

// Logout revokes the token on ctx.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "logout", http.MethodPost, "auth/logout", nil, nil, nil)
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (domain.User, error) {
	var out userEnvelope
	err := c.call(ctx, "profile", http.MethodGet, "auth/profile", nil, nil, &out)
	return out.User, err
}

// UpdateProfile changes the authenticated user's profile.
func (c *Client) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error) {
	var out userEnvelope
	err := c.call(ctx, "update profile", http.MethodPut, "auth/profile", nil, update, &out)
	return out.User, err
}

// ForgotPassword requests a password reset email.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var out messageEnvelope
	err := c.call(ctx, "forgot password", http.MethodPost, "auth/forgot-password", nil, map[string]string{"email": email}, &out)
	return out.Message, err
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, password string) (string, error) {
	var out messageEnvelope
	body := map[string]string{"token": token, "password": password}
	err := c.call(ctx, "reset password", http.MethodPost, "auth/reset-password", nil, body, &out)
	return out.Message, err
}
