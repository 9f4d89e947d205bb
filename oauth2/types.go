package oauth2

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// PasswordGrant exchanges a username and password for tokens.
	// Used in: the console's login form
	// Token request includes: grant_type=password, username, password
	// Returns: access_token, token_type
	PasswordGrant GrantType = "password"
)

// TokenType is the scheme of an access token.
type TokenType string

const (
	// BearerTokenType is the only scheme the session client issues headers for.
	// Example header: "Authorization: Bearer eyJhbGciOi..."
	BearerTokenType TokenType = "Bearer"
)
