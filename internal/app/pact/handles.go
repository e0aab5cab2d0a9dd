package pact

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidHandle = errors.New("invalid handle")
	ErrServing       = errors.New("pact is being served by a running mock server")
)

// PactHandle refers to a pact held by a Registry. The zero value is invalid.
type PactHandle struct {
	Pact uint32
}

// InteractionHandle refers to one interaction of a pact. The zero value is invalid.
type InteractionHandle struct {
	Pact        uint32
	Interaction uint32
}

type registryEntry struct {
	pact    *Pact
	serving int
}

// Registry is an arena of pacts addressed by handles.
type Registry struct {
	mu    sync.RWMutex
	next  uint32
	pacts map[uint32]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{pacts: map[uint32]*registryEntry{}}
}

// DefaultRegistry is the process-wide arena used by the boundary functions.
var DefaultRegistry = NewRegistry()

func (r *Registry) NewPact(consumer, provider string) PactHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.pacts[r.next] = &registryEntry{pact: New(consumer, provider)}
	return PactHandle{Pact: r.next}
}

// FreePact releases a pact. Pacts in use by a mock server cannot be freed.
func (r *Registry) FreePact(h PactHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pacts[h.Pact]
	if !ok {
		return ErrInvalidHandle
	}
	if entry.serving > 0 {
		return ErrServing
	}
	delete(r.pacts, h.Pact)
	return nil
}

func (r *Registry) NewInteraction(h PactHandle, description string) (InteractionHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pacts[h.Pact]
	if !ok {
		return InteractionHandle{}, ErrInvalidHandle
	}
	if entry.serving > 0 {
		return InteractionHandle{}, ErrServing
	}
	entry.pact.Interactions = append(entry.pact.Interactions, NewInteraction(description))
	return InteractionHandle{Pact: h.Pact, Interaction: uint32(len(entry.pact.Interactions))}, nil
}

// UpdateInteraction applies fn to the interaction under the registry lock.
func (r *Registry) UpdateInteraction(h InteractionHandle, fn func(*Interaction) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pacts[h.Pact]
	if !ok || h.Interaction == 0 || int(h.Interaction) > len(entry.pact.Interactions) {
		return ErrInvalidHandle
	}
	if entry.serving > 0 {
		log.Warnf("rejecting change to interaction %d of pact %d, it is being served", h.Interaction, h.Pact)
		return ErrServing
	}
	return fn(entry.pact.Interactions[h.Interaction-1])
}

// Snapshot returns a deep copy of the pact.
func (r *Registry) Snapshot(h PactHandle) (*Pact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.pacts[h.Pact]
	if !ok {
		return nil, ErrInvalidHandle
	}
	return entry.pact.Clone(), nil
}

// Acquire snapshots the pact and marks it as served until release is called.
// release may be called more than once.
func (r *Registry) Acquire(h PactHandle) (snapshot *Pact, release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pacts[h.Pact]
	if !ok {
		return nil, nil, ErrInvalidHandle
	}
	entry.serving++

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			entry.serving--
		})
	}
	return entry.pact.Clone(), release, nil
}
