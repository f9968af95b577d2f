package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mcdev12/duelpad/go/clients"
	"github.com/mcdev12/duelpad/go/internal/apierr"
	"github.com/mcdev12/duelpad/go/internal/models"
	"github.com/mcdev12/duelpad/go/internal/users"
)

// HTTPAuthenticator signs in through the gateway's /api/auth routes.
type HTTPAuthenticator struct {
	*clients.BaseClient
}

var _ Authenticator = (*HTTPAuthenticator)(nil)

func NewHTTPAuthenticator(baseURL string) *HTTPAuthenticator {
	c := &HTTPAuthenticator{BaseClient: clients.NewBaseClient(baseURL)}
	c.SetHeader("accept", "application/json")
	return c
}

// LoginRequest is the body of /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *HTTPAuthenticator) Register(ctx context.Context, req users.CreateUserRequest) (Result, error) {
	var res Result
	err := c.SendJSON(ctx, http.MethodPost, "/api/auth/register", req, &res, nil)
	return res, translate(err)
}

func (c *HTTPAuthenticator) Login(ctx context.Context, email, password string) (Result, error) {
	var res Result
	err := c.SendJSON(ctx, http.MethodPost, "/api/auth/login", LoginRequest{Email: email, Password: password}, &res, nil)
	return res, translate(err)
}

func (c *HTTPAuthenticator) Logout(ctx context.Context, token string) error {
	err := c.SendJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil, BearerHeader(token))
	return translate(err)
}

func (c *HTTPAuthenticator) Verify(ctx context.Context, token string) (models.User, error) {
	var user models.User
	err := c.SendJSON(ctx, http.MethodGet, "/api/auth/me", nil, &user, BearerHeader(token))
	return user, translate(err)
}

// BearerHeader builds the Authorization header for token.
func BearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := apierr.Decode(err)
	if !ok {
		return err
	}
	var sentinel error
	switch apiErr.Code {
	case apierr.CodeInvalidCredentials:
		sentinel = users.ErrInvalidCredentials
	case apierr.CodeEmailTaken:
		sentinel = users.ErrEmailTaken
	case apierr.CodeValidation:
		sentinel = users.ErrValidation
	case apierr.CodeTokenExpired:
		sentinel = ErrExpiredToken
	case apierr.CodeTokenRevoked:
		sentinel = ErrRevokedToken
	case apierr.CodeUnauthenticated:
		sentinel = ErrInvalidToken
	default:
		return apiErr
	}
	return fmt.Errorf("%s: %w", apiErr.Message, sentinel)
}
