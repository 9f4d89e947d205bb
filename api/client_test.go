package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/api/apifake"
	"github.com/jrsteele09/go-auth-session/credential"
	"github.com/jrsteele09/go-auth-session/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*api.Client, *apifake.Server, *clock.FakeClock) {
	t.Helper()
	c := clock.Fake(epoch)
	backend := apifake.New(apifake.WithClock(c), apifake.WithTokenLifetime(time.Hour))
	require.NoError(t, backend.AddUser("u@example.com", "hunter2"))

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	client, err := api.NewClient(srv.URL, api.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client, backend, c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := api.NewClient("")
	assert.Error(t, err)
}

func TestLogin_Success(t *testing.T) {
	client, _, _ := setup(t)

	tr, err := client.Login(context.Background(), "u@example.com", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, tr.AccessToken)

	cred, err := credential.FromTokenResponse("u@example.com", tr)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Hour).UnixMilli(), cred.TokenExpiresAt)
	assert.Equal(t, "Bearer "+tr.AccessToken, cred.AuthorizationHeader)
}

func TestLogin_BadCredentials(t *testing.T) {
	client, _, _ := setup(t)

	_, err := client.Login(context.Background(), "u@example.com", "wrong")
	require.Error(t, err)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, apifake.BadCredentials, apiErr.Message)
	assert.False(t, api.IsUnauthorized(err))
}

func TestLogin_ValidationDetails(t *testing.T) {
	client, _, _ := setup(t)

	_, err := client.Login(context.Background(), "", "")
	require.Error(t, err)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Len(t, apiErr.Details, 2)
	assert.Equal(t, []string{"body", "username"}, apiErr.Details[0].Loc)
	assert.Equal(t, "field required", apiErr.Details[0].Msg)
	assert.Equal(t, "value_error.missing", apiErr.Details[0].Type)
	assert.Equal(t, "body.username: field required", apiErr.Message)
}

func TestLogin_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := api.NewClient(url)
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "u@example.com", "hunter2")
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.StatusCode)
	assert.NotNil(t, errors.Unwrap(apiErr))
}

func TestRefresh_ExtendsExpiry(t *testing.T) {
	client, backend, c := setup(t)
	ctx := context.Background()

	tr, err := client.Login(ctx, "u@example.com", "hunter2")
	require.NoError(t, err)
	first, err := credential.FromTokenResponse("u@example.com", tr)
	require.NoError(t, err)

	c.Advance(10 * time.Minute)

	tr, err = client.Refresh(ctx, first.AuthorizationHeader)
	require.NoError(t, err)
	second, err := credential.FromTokenResponse("u@example.com", tr)
	require.NoError(t, err)

	assert.Greater(t, second.TokenExpiresAt, first.TokenExpiresAt)
	assert.Equal(t, 1, backend.RefreshCount())
}

func TestRefresh_RejectsExpiredToken(t *testing.T) {
	client, _, c := setup(t)
	ctx := context.Background()

	tr, err := client.Login(ctx, "u@example.com", "hunter2")
	require.NoError(t, err)

	c.Advance(2 * time.Hour)

	_, err = client.Refresh(ctx, "Bearer "+tr.AccessToken)
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))
}

func TestRefresh_RejectsGarbage(t *testing.T) {
	client, _, _ := setup(t)

	_, err := client.Refresh(context.Background(), "Bearer not-a-jwt")
	assert.True(t, api.IsUnauthorized(err))

	_, err = client.Refresh(context.Background(), "")
	assert.True(t, api.IsUnauthorized(err))
}

func TestRefresh_ForcedFailure(t *testing.T) {
	client, backend, _ := setup(t)
	ctx := context.Background()

	tr, err := client.Login(ctx, "u@example.com", "hunter2")
	require.NoError(t, err)

	backend.FailRefresh(http.StatusServiceUnavailable)
	_, err = client.Refresh(ctx, "Bearer "+tr.AccessToken)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.False(t, api.IsUnauthorized(err))

	backend.FailRefresh(0)
	_, err = client.Refresh(ctx, "Bearer "+tr.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, 2, backend.RefreshCount())
}

func TestIsUnauthorized(t *testing.T) {
	assert.True(t, api.IsUnauthorized(&api.APIError{StatusCode: http.StatusUnauthorized}))
	assert.True(t, api.IsUnauthorized(&api.APIError{StatusCode: http.StatusForbidden}))
	assert.False(t, api.IsUnauthorized(&api.APIError{StatusCode: http.StatusInternalServerError}))
	assert.False(t, api.IsUnauthorized(errors.New("boom")))
	assert.False(t, api.IsUnauthorized(nil))
}
