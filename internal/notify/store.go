package notify

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
)

var ErrNotAuthorized = errors.New("notifications not authorized")

type AuthorizationStatus string

const (
	AuthNotDetermined AuthorizationStatus = "notDetermined"
	AuthAuthorized    AuthorizationStatus = "authorized"
	AuthDenied        AuthorizationStatus = "denied"
)

// Store is the external set of pending alerts keyed by identifier.
type Store interface {
	AuthorizationStatus(ctx context.Context) AuthorizationStatus
	RequestAuthorization(ctx context.Context) (AuthorizationStatus, error)

	PendingIdentifiers(ctx context.Context) ([]string, error)
	Pending(ctx context.Context) ([]Blueprint, error)
	// Add inserts or overwrites the blueprint with the same ID.
	Add(ctx context.Context, bp Blueprint) error
	Remove(ctx context.Context, ids []string) error
	// RemoveIfUnchanged removes each blueprint's ID only while the stored
	// entry still has the same fire time.
	RemoveIfUnchanged(ctx context.Context, bps []Blueprint) error
	RemoveAll(ctx context.Context) error
}

// Authorizer implements the notDetermined -> authorized | denied lifecycle
// shared by the store backends.
type Authorizer struct {
	mu     sync.Mutex
	status AuthorizationStatus
	grant  bool
}

// NewAuthorizer starts in notDetermined; grant decides the outcome of the
// first request.
func NewAuthorizer(grant bool) *Authorizer {
	return &Authorizer{status: AuthNotDetermined, grant: grant}
}

func (a *Authorizer) AuthorizationStatus(context.Context) AuthorizationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// RequestAuthorization resolves notDetermined once; later calls return the
// settled status.
func (a *Authorizer) RequestAuthorization(context.Context) (AuthorizationStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == AuthNotDetermined {
		if a.grant {
			a.status = AuthAuthorized
		} else {
			a.status = AuthDenied
		}
	}
	return a.status, nil
}

// Revoke moves to denied, as when the user withdraws permission.
func (a *Authorizer) Revoke() {
	a.mu.Lock()
	a.status = AuthDenied
	a.mu.Unlock()
}

// MemoryStore keeps pending alerts in process memory.
type MemoryStore struct {
	*Authorizer

	mu      sync.RWMutex
	pending map[string]Blueprint
}

func NewMemoryStore(auth *Authorizer) *MemoryStore {
	return &MemoryStore{
		Authorizer: auth,
		pending:    make(map[string]Blueprint),
	}
}

func (s *MemoryStore) PendingIdentifiers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.pending)), nil
}

func (s *MemoryStore) Pending(ctx context.Context) ([]Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedBlueprints(s.pending), nil
}

func (s *MemoryStore) Add(ctx context.Context, bp Blueprint) error {
	if s.AuthorizationStatus(ctx) != AuthAuthorized {
		return ErrNotAuthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[bp.ID] = bp
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.pending, id)
	}
	return nil
}

func (s *MemoryStore) RemoveIfUnchanged(ctx context.Context, bps []Blueprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	removeUnchanged(s.pending, bps)
	return nil
}

func (s *MemoryStore) RemoveAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.pending)
	return nil
}

func removeUnchanged(m map[string]Blueprint, bps []Blueprint) {
	for _, bp := range bps {
		if cur, ok := m[bp.ID]; ok && cur.Trigger.FireAt.Equal(bp.Trigger.FireAt) {
			delete(m, bp.ID)
		}
	}
}

// sortedBlueprints orders by fire time, then ID.
func sortedBlueprints(m map[string]Blueprint) []Blueprint {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b Blueprint) int {
		if c := a.Trigger.FireAt.Compare(b.Trigger.FireAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}
