package session

import (
	"fmt"

	"streamcast/internal/core/domain"
	"streamcast/internal/core/ports"
)

// EntryState is the lifecycle of one tracked remote peer.
type EntryState int

const (
	StateCreated EntryState = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s EntryState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransition encodes the legal moves: forward through the handshake,
// and into Closed from anywhere. Closed is terminal; a fresh peer-joined
// observation makes a new entry instead.
func (s EntryState) CanTransition(to EntryState) bool {
	if s == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	switch s {
	case StateCreated:
		return to == StateNegotiating
	case StateNegotiating:
		return to == StateConnected
	default:
		return false
	}
}

// PeerEntry tracks one remote peer: its identity, the negotiation state,
// the connection object and, once negotiation completes, the media stream.
// Entries are confined to the orchestrator's event loop.
type PeerEntry struct {
	RemotePeerID domain.PeerID
	DisplayName  string
	Initiator    bool

	state EntryState
	conn  ports.PeerConnection
	media *ports.RemoteStream
}

func (e *PeerEntry) State() EntryState { return e.state }

func (e *PeerEntry) transition(to EntryState) error {
	if !e.state.CanTransition(to) {
		return fmt.Errorf("illegal entry transition %s -> %s for peer %s", e.state, to, e.RemotePeerID)
	}
	e.state = to
	return nil
}

// EntryInfo is the read-only view handed to rendering collaborators.
type EntryInfo struct {
	PeerID    domain.PeerID
	Name      string
	Initiator bool
	State     EntryState
	Media     *ports.RemoteStream
}

func (e *PeerEntry) info() EntryInfo {
	return EntryInfo{
		PeerID:    e.RemotePeerID,
		Name:      e.DisplayName,
		Initiator: e.Initiator,
		State:     e.state,
		Media:     e.media,
	}
}
