package session

import "github.com/jrsteele09/go-auth-session/credential"

// Event is delivered to the EventHandler on every session lifecycle
// change. The concrete types are LoggedIn, NeedsLogin and LoggedOut.
type Event interface {
	Name() string
}

// EventHandler receives events synchronously, outside the manager's
// locks. It may call back into the manager.
type EventHandler func(Event)

// LoggedIn follows SaveSession, or adoption of a sibling's login by a
// tab that had no session.
type LoggedIn struct {
	Credential  credential.Credential
	FirstLogin  bool
	APILogin    bool
	RedirectURL string
}

func (LoggedIn) Name() string { return "logged-in" }

// NeedsLogin means the session ended without the user asking. Routing
// should send the user to log in and then back to RedirectURL.
type NeedsLogin struct {
	RedirectURL string
}

func (NeedsLogin) Name() string { return "needs-login" }

// LoggedOut follows an explicit Logout.
type LoggedOut struct {
	Redirect bool
}

func (LoggedOut) Name() string { return "logged-out" }

// LoginMeta describes how a credential was obtained.
type LoginMeta struct {
	FirstLogin  bool
	APILogin    bool
	RedirectURL string
}

type LogoutOptions struct {
	Redirect bool
}
