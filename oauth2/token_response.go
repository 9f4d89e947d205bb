package oauth2

// TokenResponse is the body returned by the login and refresh endpoints.
// Both endpoints answer with the same shape, the standard RFC 6749 token
// response trimmed to the fields the session client reads.
type TokenResponse struct {
	// AccessToken is the JWT attached to outgoing API requests.
	// Example: "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."
	// Usage: Authorization: "<TokenType> <AccessToken>"
	// Note: its "exp" claim is the only source of the credential's expiry
	AccessToken string `json:"access_token"`

	// TokenType indicates how to present the access token.
	// Example: "bearer"
	// Usage: capitalised into the Authorization scheme ("Bearer")
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds, when the server sends it.
	// Note: informational only; the JWT "exp" claim wins
	ExpiresIn int `json:"expires_in,omitempty"`
}

// LoginRequest holds the resource owner credentials sent to the login
// endpoint as a form-encoded password grant.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
