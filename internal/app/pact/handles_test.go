package pact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Interactions(t *testing.T) {
	r := NewRegistry()
	h := r.NewPact("consumer", "provider")
	assert.NotZero(t, h.Pact)

	ih, err := r.NewInteraction(h, "a request")
	require.NoError(t, err)
	require.NoError(t, r.UpdateInteraction(ih, func(i *Interaction) error {
		i.WithRequest("GET", "/status")
		return nil
	}))

	snapshot, err := r.Snapshot(h)
	require.NoError(t, err)
	require.Len(t, snapshot.Interactions, 1)
	assert.Equal(t, "/status", snapshot.Interactions[0].Request.Path)

	snapshot.Interactions[0].Request.Path = "/changed"
	again, err := r.Snapshot(h)
	require.NoError(t, err)
	assert.Equal(t, "/status", again.Interactions[0].Request.Path)
}

func TestRegistry_InvalidHandles(t *testing.T) {
	r := NewRegistry()

	_, err := r.NewInteraction(PactHandle{}, "d")
	assert.Equal(t, ErrInvalidHandle, err)
	_, err = r.NewInteraction(PactHandle{Pact: 99}, "d")
	assert.Equal(t, ErrInvalidHandle, err)

	h := r.NewPact("c", "p")
	for _, ih := range []InteractionHandle{{}, {Pact: h.Pact}, {Pact: h.Pact, Interaction: 1}, {Pact: 99, Interaction: 1}} {
		err := r.UpdateInteraction(ih, func(*Interaction) error { return nil })
		assert.Equal(t, ErrInvalidHandle, err, "handle %+v", ih)
	}

	_, err = r.Snapshot(PactHandle{})
	assert.Equal(t, ErrInvalidHandle, err)
	assert.Equal(t, ErrInvalidHandle, r.FreePact(PactHandle{Pact: 99}))
}

func TestRegistry_ServingRejectsChanges(t *testing.T) {
	r := NewRegistry()
	h := r.NewPact("c", "p")
	ih, err := r.NewInteraction(h, "d")
	require.NoError(t, err)

	_, release, err := r.Acquire(h)
	require.NoError(t, err)

	assert.Equal(t, ErrServing, r.UpdateInteraction(ih, func(i *Interaction) error {
		i.ResponseStatus(500)
		return nil
	}))
	_, err = r.NewInteraction(h, "another")
	assert.Equal(t, ErrServing, err)
	assert.Equal(t, ErrServing, r.FreePact(h))

	release()
	release()

	require.NoError(t, r.UpdateInteraction(ih, func(i *Interaction) error {
		i.ResponseStatus(500)
		return nil
	}))
	require.NoError(t, r.FreePact(h))
	_, err = r.Snapshot(h)
	assert.Equal(t, ErrInvalidHandle, err)
}
