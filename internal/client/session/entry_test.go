package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryStateTransitions(t *testing.T) {
	cases := []struct {
		from, to EntryState
		ok       bool
	}{
		{StateCreated, StateNegotiating, true},
		{StateCreated, StateConnected, false},
		{StateCreated, StateClosed, true},
		{StateNegotiating, StateConnected, true},
		{StateNegotiating, StateCreated, false},
		{StateNegotiating, StateClosed, true},
		{StateConnected, StateClosed, true},
		{StateConnected, StateNegotiating, false},
		{StateClosed, StateCreated, false},
		{StateClosed, StateNegotiating, false},
		{StateClosed, StateConnected, false},
		{StateClosed, StateClosed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestEntryTransitionRejectsIllegalMove(t *testing.T) {
	e := &PeerEntry{RemotePeerID: "p1", state: StateCreated}

	assert.Error(t, e.transition(StateConnected))
	assert.Equal(t, StateCreated, e.State())

	assert.NoError(t, e.transition(StateNegotiating))
	assert.NoError(t, e.transition(StateConnected))
	assert.NoError(t, e.transition(StateClosed))
	assert.Error(t, e.transition(StateNegotiating))
}

func TestEntryViewCarriesIdentityAndState(t *testing.T) {
	e := &PeerEntry{
		RemotePeerID: "p1",
		DisplayName:  "alice",
		Initiator:    true,
		state:        StateNegotiating,
	}

	// The fields status displays read off the view.
	view := e.info()
	assert.Equal(t, "alice", view.Name)
	assert.Equal(t, "p1", string(view.PeerID))
	assert.True(t, view.Initiator)
	assert.Equal(t, StateNegotiating, view.State)
	assert.Nil(t, view.Media)
}

func TestEntryStateStrings(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "negotiating", StateNegotiating.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closed", StateClosed.String())
}
