package domain

import "time"

type RoomID string
type PeerID string

// Role says which side of the broadcast a peer is on. A room has at most
// one meaningful streamer; the relay does not enforce that, the client
// initiator rule makes same-role pairings inert.
type Role string

const (
	RoleStreamer Role = "streamer"
	RoleViewer   Role = "viewer"
)

func (r Role) IsStreamer() bool { return r == RoleStreamer }

// Peer is one connected participant's identity within a room. Role and
// DisplayName are fixed for the lifetime of the connection.
type Peer struct {
	ID          PeerID
	DisplayName string
	Role        Role
	RoomID      RoomID
	JoinedAt    time.Time
}

// Room is a named broadcast session grouping one streamer and any number
// of viewers. Rooms exist only while they have members.
type Room struct {
	ID        RoomID
	CreatedAt time.Time
	Peers     []*Peer
}

// Initiates reports whether the local side starts negotiation toward a
// remote peer: the streamer always initiates toward viewers, and two peers
// of the same role never initiate toward each other.
func Initiates(local, remote Role) bool {
	return local.IsStreamer() && !remote.IsStreamer()
}
