package credential

// Session is either no session or exactly one Credential. The zero
// value is NoSession.
type Session struct {
	credential Credential
	ok         bool
}

// NoSession is the absent value.
func NoSession() Session {
	return Session{}
}

// HasSession wraps c. An incomplete credential yields NoSession.
func HasSession(c Credential) Session {
	if !c.Complete() {
		return Session{}
	}
	return Session{credential: c, ok: true}
}

// FromPointer maps nil to NoSession. Used at JSON boundaries.
func FromPointer(c *Credential) Session {
	if c == nil {
		return NoSession()
	}
	return HasSession(*c)
}

// Get returns the credential and whether one is present.
func (s Session) Get() (Credential, bool) {
	return s.credential, s.ok
}

// Present reports whether s holds a credential.
func (s Session) Present() bool {
	return s.ok
}

// Pointer returns nil for NoSession, otherwise a copy of the credential.
func (s Session) Pointer() *Credential {
	if !s.ok {
		return nil
	}
	c := s.credential
	return &c
}

func (s Session) String() string {
	if !s.ok {
		return "NoSession"
	}
	return "HasSession(" + s.credential.Username + ")"
}
