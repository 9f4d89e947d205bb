package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/oauth2"
)

// ErrMalformedToken is returned when an access token's payload cannot be
// decoded or carries no usable "exp" claim.
var ErrMalformedToken = errors.New("malformed token")

// Credential is the bearer-token bundle for a signed-in principal.
// Username never changes once persisted; AuthorizationHeader and
// TokenExpiresAt are only ever replaced together (see WithToken).
type Credential struct {
	Username            string `json:"username"`
	AuthorizationHeader string `json:"auth"`
	TokenExpiresAt      int64  `json:"tokenExpiresAt"` // milliseconds since epoch, from the token's exp claim
}

// FromTokenResponse builds a Credential from a login or refresh
// response. The expiry comes from the token's own exp claim; the
// signature is not verified, the API server does that.
func FromTokenResponse(username string, tr oauth2.TokenResponse) (Credential, error) {
	expiresAt, err := TokenExpiry(tr.AccessToken)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		Username:            username,
		AuthorizationHeader: AuthorizationHeader(tr.TokenType, tr.AccessToken),
		TokenExpiresAt:      expiresAt.UnixMilli(),
	}, nil
}

// AuthorizationHeader formats "<Scheme> <token>", defaulting the scheme
// to Bearer.
func AuthorizationHeader(tokenType, accessToken string) string {
	scheme := strings.TrimSpace(tokenType)
	if scheme == "" || strings.EqualFold(scheme, string(oauth2.BearerTokenType)) {
		scheme = string(oauth2.BearerTokenType)
	}
	return scheme + " " + accessToken
}

// TokenExpiry decodes the exp claim of an unverified JWT.
func TokenExpiry(rawToken string) (time.Time, error) {
	if strings.TrimSpace(rawToken) == "" {
		return time.Time{}, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}
	return exp.Time, nil
}

// WithToken returns a copy carrying a new header and expiry. The two
// travel together so a header is never paired with a stale expiry.
func (c Credential) WithToken(authorizationHeader string, tokenExpiresAt int64) Credential {
	c.AuthorizationHeader = authorizationHeader
	c.TokenExpiresAt = tokenExpiresAt
	return c
}

// ExpiresAt returns TokenExpiresAt as a time.Time.
func (c Credential) ExpiresAt() time.Time {
	return time.UnixMilli(c.TokenExpiresAt)
}

// Valid reports whether the token is still unexpired at now.
func (c Credential) Valid(now time.Time) bool {
	return c.TokenExpiresAt > now.UnixMilli()
}

// Complete reports whether every field is populated. Stored or received
// values that are not complete are treated as no session.
func (c Credential) Complete() bool {
	return c.Username != "" && c.AuthorizationHeader != "" && c.TokenExpiresAt > 0
}

func (c Credential) Equal(other Credential) bool {
	return c == other
}
