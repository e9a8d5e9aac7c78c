package domain

import "encoding/json"

// Event types exchanged between signaling clients and the relay. The
// envelope is a type tag plus a raw payload; the relay never looks inside
// signal payloads.
const (
	EventWelcome     = "welcome"
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventPeersInRoom = "peers-in-room"
	EventPeerJoined  = "peer-joined"
	EventPeerLeft    = "peer-left"
	EventSignal      = "signal"
	EventError       = "error"
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope. Payload structs below are
// plain data, so marshal errors are programming errors and are ignored.
func NewMessage(eventType string, payload any) Message {
	raw, _ := json.Marshal(payload)
	return Message{Type: eventType, Payload: raw}
}

// WelcomePayload tells a freshly connected client the peer id the relay
// assigned to its connection.
type WelcomePayload struct {
	PeerID PeerID `json:"peerId"`
}

type JoinRoomPayload struct {
	RoomID     RoomID `json:"roomId"`
	Name       string `json:"name,omitempty"`
	IsStreamer bool   `json:"isStreamer"`
}

type LeaveRoomPayload struct {
	RoomID RoomID `json:"roomId"`
}

// PeerInfo is the per-peer shape used by peers-in-room and peer-joined.
type PeerInfo struct {
	ID         PeerID `json:"id"`
	Name       string `json:"name,omitempty"`
	IsStreamer bool   `json:"isStreamer"`
}

type PeersInRoomPayload struct {
	Peers []PeerInfo `json:"peers"`
}

type PeerJoinedPayload struct {
	PeerID     PeerID `json:"peerId"`
	Name       string `json:"name,omitempty"`
	IsStreamer bool   `json:"isStreamer"`
}

type PeerLeftPayload struct {
	PeerID PeerID `json:"peerId"`
}

// SignalPayload carries an opaque negotiation blob. TargetID is set on the
// client-to-relay leg, From on the relay-to-client leg.
type SignalPayload struct {
	RoomID   RoomID          `json:"roomId,omitempty"`
	TargetID PeerID          `json:"targetId,omitempty"`
	From     PeerID          `json:"from,omitempty"`
	Data     json.RawMessage `json:"data"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// PeerInfoOf converts a registry peer to its wire shape.
func PeerInfoOf(p *Peer) PeerInfo {
	return PeerInfo{ID: p.ID, Name: p.DisplayName, IsStreamer: p.Role.IsStreamer()}
}
