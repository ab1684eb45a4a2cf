package session

// State is the session lifecycle state.
type State uint8

const (
	// Hydrating is the only state before the store's one-time load result
	// is known. Consumers must not act on session state before Hydrated()
	// fires.
	Hydrating State = iota
	// Unauthenticated means no credential is held. A rejected or expired
	// token lands here too: to the rest of the system it is observably
	// identical to "never logged in".
	Unauthenticated
	// AuthenticatedUnconfirmed means a persisted credential was found and
	// may be rendered optimistically while the backend confirmation is in
	// flight.
	AuthenticatedUnconfirmed
	// AuthenticatedConfirmed means the backend accepted the token; the
	// profile may have been refreshed.
	AuthenticatedConfirmed
)

func (s State) String() string {
	switch s {
	case Hydrating:
		return "hydrating"
	case Unauthenticated:
		return "unauthenticated"
	case AuthenticatedUnconfirmed:
		return "authenticated_unconfirmed"
	case AuthenticatedConfirmed:
		return "authenticated_confirmed"
	default:
		return "unknown"
	}
}

// Authenticated reports whether the state holds a usable credential.
func (s State) Authenticated() bool {
	return s == AuthenticatedUnconfirmed || s == AuthenticatedConfirmed
}

// Change is the notification delivered to OnChange subscribers after every
// state transition.
type Change struct {
	State      State
	Credential Credential
	Present    bool
}
