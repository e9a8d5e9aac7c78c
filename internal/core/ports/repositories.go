package ports

import (
	"context"

	"streamcast/internal/core/domain"
)

// RoomRegistry is the authoritative in-memory table of active rooms and
// their members. Implementations serialize access per room; operations on
// different rooms may run in parallel.
type RoomRegistry interface {
	// Join adds the peer to the room, creating the room if absent, and
	// returns the peers that were already present (excluding the joiner).
	// A second join for the same peer id replaces the existing entry.
	Join(ctx context.Context, roomID domain.RoomID, peer *domain.Peer) ([]*domain.Peer, error)

	// Leave removes the peer and returns the remaining member count. An
	// absent room or peer is a no-op, never an error; disconnects racing
	// explicit leaves are routine.
	Leave(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) (int, error)

	// Member reports whether the peer is currently a member of the room.
	Member(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) bool

	// PeersOf returns a snapshot of the room's members.
	PeersOf(ctx context.Context, roomID domain.RoomID) ([]*domain.Peer, error)

	// Rooms returns a snapshot of all active rooms for diagnostics.
	Rooms(ctx context.Context) ([]*domain.Room, error)
}

// PresenceMirror receives best-effort copies of registry mutations so
// external dashboards can observe room membership. It is advisory only and
// never read back by the relay.
type PresenceMirror interface {
	PeerJoined(ctx context.Context, peer *domain.Peer) error
	PeerLeft(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) error
	RoomClosed(ctx context.Context, roomID domain.RoomID) error
}
