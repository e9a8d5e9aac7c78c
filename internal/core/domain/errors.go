package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrNotJoined         = errors.New("peer has not joined a room")
	ErrMissingRoomID     = errors.New("room id is required")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrSessionClosed     = errors.New("session closed")
)
