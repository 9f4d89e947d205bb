// Package api calls the backend's login and refresh endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/go-auth-session/oauth2"
	xoauth2 "golang.org/x/oauth2"
)

const (
	DefaultLoginPath   = "/api/auth/jwt/login"
	DefaultRefreshPath = "/api/auth/jwt/refresh"

	maxBodySize = 1 << 20
)

// Client calls the auth server's login and refresh endpoints.
type Client struct {
	baseURL     string
	loginPath   string
	refreshPath string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLoginPath(path string) Option {
	return func(c *Client) {
		c.loginPath = path
	}
}

func WithRefreshPath(path string) Option {
	return func(c *Client) {
		c.refreshPath = path
	}
}

// NewClient creates a Client rooted at baseURL.
func NewClient(baseURL string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("[NewClient] baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("[NewClient] invalid baseURL: %w", err)
	}

	c := &Client{
		baseURL:     baseURL,
		loginPath:   DefaultLoginPath,
		refreshPath: DefaultRefreshPath,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Login exchanges a username and password for an access token using the
// resource owner password grant.
func (c *Client) Login(ctx context.Context, username, password string) (oauth2.TokenResponse, error) {
	tokenURL, err := url.JoinPath(c.baseURL, c.loginPath)
	if err != nil {
		return oauth2.TokenResponse{}, fmt.Errorf("building login url: %w", err)
	}

	config := &xoauth2.Config{
		Endpoint: xoauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: xoauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, xoauth2.HTTPClient, c.httpClient)
	token, err := config.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var retrieveErr *xoauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return oauth2.TokenResponse{}, parseError(retrieveErr.Response.StatusCode, retrieveErr.Body)
		}
		return oauth2.TokenResponse{}, transportError(err)
	}

	tr := oauth2.TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
	}
	if !token.Expiry.IsZero() {
		tr.ExpiresIn = int(time.Until(token.Expiry).Round(time.Second).Seconds())
	}
	return tr, nil
}

// Refresh trades a still-valid Authorization header for a new token.
func (c *Client) Refresh(ctx context.Context, authorizationHeader string) (oauth2.TokenResponse, error) {
	refreshURL, err := url.JoinPath(c.baseURL, c.refreshPath)
	if err != nil {
		return oauth2.TokenResponse{}, fmt.Errorf("building refresh url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshURL, nil)
	if err != nil {
		return oauth2.TokenResponse{}, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Authorization", authorizationHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return oauth2.TokenResponse{}, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return oauth2.TokenResponse{}, &APIError{StatusCode: resp.StatusCode, Message: "reading response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return oauth2.TokenResponse{}, parseError(resp.StatusCode, body)
	}

	var tr oauth2.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return oauth2.TokenResponse{}, &APIError{StatusCode: resp.StatusCode, Message: "decoding response", Err: err}
	}
	return tr, nil
}
