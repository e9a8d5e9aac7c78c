package ports

import (
	"context"
	"encoding/json"

	"streamcast/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// StreamDirectory is the persistence boundary: informational metadata
// writes about broadcasts. Calls are best-effort; signaling correctness
// never depends on them.
type StreamDirectory interface {
	CreateStream(ctx context.Context, roomID domain.RoomID, streamerName, title, kind string, price int) error
	EndStream(ctx context.Context, roomID domain.RoomID) error
}

// SignalTransport is the client's connection to the relay. Exactly one
// handler receives inbound events; Send methods are safe for concurrent use.
type SignalTransport interface {
	SendJoinRoom(roomID domain.RoomID, name string, isStreamer bool) error
	SendLeaveRoom(roomID domain.RoomID) error
	SendSignal(roomID domain.RoomID, targetID domain.PeerID, data json.RawMessage) error
	Close() error
}

// TransportHandler receives relay events on the client. Implementations
// must not block; the transport's read loop delivers them one at a time.
type TransportHandler interface {
	OnWelcome(peerID domain.PeerID)
	OnPeersInRoom(peers []domain.PeerInfo)
	OnPeerJoined(info domain.PeerInfo)
	OnPeerLeft(peerID domain.PeerID)
	OnSignal(from domain.PeerID, data json.RawMessage)
	OnDisconnect(err error)
}

// PeerConnection is one negotiation-capable link toward a remote peer.
// HandleSignal feeds an inbound opaque payload into the connection.
type PeerConnection interface {
	HandleSignal(data json.RawMessage) error
	Close() error
}

// PeerConnectionCallbacks are fired by a PeerConnection as negotiation
// progresses. OnSignal carries outbound payloads for the relay; OnMedia
// fires with a fresh stream snapshot each time a remote track arrives;
// OnClose is terminal.
type PeerConnectionCallbacks struct {
	OnSignal func(data json.RawMessage)
	OnMedia  func(stream *RemoteStream)
	OnClose  func(err error)
}

// RemoteStream is the rendering-facing handle to a remote peer's media.
type RemoteStream struct {
	PeerID domain.PeerID
	Tracks []*webrtc.TrackRemote
}

// PeerConnectionFactory builds connection objects. Initiator decides which
// side creates the offer; localTracks are attached only on the streamer.
type PeerConnectionFactory interface {
	New(ctx context.Context, initiator bool, localTracks []webrtc.TrackLocal, cb PeerConnectionCallbacks) (PeerConnection, error)
}

// MediaSource acquires and releases the local capture device. Acquire
// fails with domain.ErrDeviceUnavailable when no device is usable; Release
// is idempotent.
type MediaSource interface {
	Acquire(ctx context.Context) ([]webrtc.TrackLocal, error)
	Release()
}
