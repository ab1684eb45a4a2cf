package session

import "sync"

// recordVersion is the on-disk schema version of the persisted credential.
const recordVersion = 1

// record is the persisted shape: a single namespaced entry wrapping the
// credential, mirroring what the web client keeps in browser storage.
type record struct {
	State   recordState `json:"state"`
	Version int         `json:"version"`
}

type recordState struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
}

// Store persists the current credential across process restarts.
//
// Load must never fail startup: corrupt or unexpected data degrades to
// "absent" (and is logged by the implementation). Save is a full replace;
// partial field patches do not exist at this layer.
type Store interface {
	Load() (Credential, bool)
	Save(Credential) error
	Clear() error
}

// MemStore is an in-memory Store for tests and ephemeral runs.
type MemStore struct {
	mu      sync.Mutex
	cred    Credential
	present bool
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore { return &MemStore{} }

// Seed pre-populates the store, as if a previous run had saved cred.
func (s *MemStore) Seed(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.present = cred.Present()
}

// Load returns the held credential, if any.
func (s *MemStore) Load() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return Credential{}, false
	}
	return s.cred, true
}

// Save replaces the held credential.
func (s *MemStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.present = true
	return nil
}

// Clear removes the held credential.
func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
	s.present = false
	return nil
}
