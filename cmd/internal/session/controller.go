package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"pulse/cmd/internal/dispatch"
)

// Confirmer re-validates a persisted token against the backend.
// Implemented by the REST client (GET /auth/me).
type Confirmer interface {
	Whoami(ctx context.Context, token string) (UserProfile, error)
}

// Controller owns the authoritative in-memory session state.
//
// All transitions (hydration result, confirmation result, SetAuth, Logout)
// are serialized under one mutex, so at most one credential value exists at
// any instant and no partial transition is ever observable. The Controller
// is the sole writer to its Store.
type Controller struct {
	log     *slog.Logger
	store   Store
	confirm Confirmer
	changes *dispatch.Hub[Change]

	hydrated  chan struct{}
	startOnce sync.Once

	mu      sync.Mutex
	state   State
	cred    Credential
	present bool
	// gen stamps the credential epoch. A confirmation result is applied
	// only if no SetAuth/Logout happened since it was issued.
	gen uint64
}

// NewController constructs a Controller in the Hydrating state.
// Nothing is loaded until Start is called.
func NewController(log *slog.Logger, store Store, confirm Confirmer) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:      log,
		store:    store,
		confirm:  confirm,
		changes:  dispatch.NewHub[Change](log),
		hydrated: make(chan struct{}),
		state:    Hydrating,
	}
}

// Hydrated returns a channel closed exactly once, after the one-time store
// load has been applied. It closes even when the store is empty.
func (c *Controller) Hydrated() <-chan struct{} { return c.hydrated }

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Credential returns the current credential and whether one is present.
func (c *Controller) Credential() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred, c.present
}

// Token returns the current token, if any. Used by collaborators that only
// parameterize requests and must not hold on to the profile.
func (c *Controller) Token() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred.Token, c.present
}

// OnChange subscribes to state transitions. Callbacks run in registration
// order after each transition commits.
func (c *Controller) OnChange(fn func(Change)) {
	c.changes.Subscribe(fn)
}

// Start performs the one-time startup sequence: load the persisted
// credential, leave Hydrating, and, if a credential was found, issue
// exactly one background confirmation request against the backend.
//
// Start returns as soon as the hydration result is applied; it never blocks
// on the network. Subsequent calls are no-ops.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		cred, ok := c.store.Load()

		c.mu.Lock()
		if ok {
			c.cred = cred
			c.present = true
			c.state = AuthenticatedUnconfirmed
		} else {
			c.state = Unauthenticated
		}
		gen := c.gen
		change := c.changeLocked()
		c.mu.Unlock()

		close(c.hydrated)
		c.log.Debug("session.hydrated", "state", change.State.String())
		c.changes.Publish(change)

		if ok {
			go c.runConfirmation(ctx, cred.Token, gen)
		}
	})
}

// SetAuth atomically replaces the credential after a login or registration
// the backend has already accepted, moving straight to Confirmed.
func (c *Controller) SetAuth(token string, user UserProfile) error {
	cred := Credential{Token: token, User: user}
	if !cred.Present() {
		return errors.New("set auth: token and user are both required")
	}

	c.mu.Lock()
	c.gen++
	c.cred = cred
	c.present = true
	c.state = AuthenticatedConfirmed
	if err := c.store.Save(cred); err != nil {
		c.log.Warn("session.persist.fail", "err", err)
	}
	change := c.changeLocked()
	c.mu.Unlock()

	c.log.Info("session.set", "user_id", user.ID, "role", user.Role)
	c.changes.Publish(change)
	return nil
}

// Logout atomically clears the credential. It is safe to call in any state
// and is the single path for explicit logout, confirmation rejection
// follow-ups, and the global unauthorized policy.
func (c *Controller) Logout() error {
	c.mu.Lock()
	c.gen++
	wasPresent := c.present
	c.cred = Credential{}
	c.present = false
	c.state = Unauthenticated
	if err := c.store.Clear(); err != nil {
		c.log.Warn("session.clear.fail", "err", err)
	}
	change := c.changeLocked()
	c.mu.Unlock()

	if wasPresent {
		c.log.Info("session.logout")
	}
	c.changes.Publish(change)
	return nil
}

// runConfirmation applies the result of the startup whoami call.
//
// The request itself is never retried: a token that later turns stale is
// caught by the global unauthorized policy instead. Its result is discarded
// when the credential epoch moved on while the request was in flight.
func (c *Controller) runConfirmation(ctx context.Context, token string, gen uint64) {
	user, err := c.confirm.Whoami(ctx, token)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.log.Debug("session.confirm.stale")
		return
	}

	if err != nil || strings.TrimSpace(user.ID) == "" {
		// Rejection, a malformed body, and a plain network error are all
		// treated the same: clear the session. Matches the deployed web
		// client, even though a transient outage forces a re-login.
		c.gen++
		c.cred = Credential{}
		c.present = false
		c.state = Unauthenticated
		if cerr := c.store.Clear(); cerr != nil {
			c.log.Warn("session.clear.fail", "err", cerr)
		}
		change := c.changeLocked()
		c.mu.Unlock()

		c.log.Info("session.confirm.reject", "err", err)
		c.changes.Publish(change)
		return
	}

	// Token unchanged; profile refreshed from the backend.
	c.cred = Credential{Token: token, User: user}
	c.state = AuthenticatedConfirmed
	if serr := c.store.Save(c.cred); serr != nil {
		c.log.Warn("session.persist.fail", "err", serr)
	}
	change := c.changeLocked()
	c.mu.Unlock()

	c.log.Info("session.confirmed", "user_id", user.ID, "role", user.Role)
	c.changes.Publish(change)
}

func (c *Controller) changeLocked() Change {
	return Change{State: c.state, Credential: c.cred, Present: c.present}
}
