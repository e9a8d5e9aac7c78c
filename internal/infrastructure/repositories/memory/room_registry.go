package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"streamcast/internal/core/domain"
	"streamcast/internal/core/ports"
)

// RoomRegistry keeps the authoritative room/peer table in process memory.
// The outer mutex guards the room map only; each room carries its own lock
// so traffic in different rooms never contends. Lock order is always
// registry before room.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState
}

type roomState struct {
	mu        sync.Mutex
	createdAt time.Time
	peers     map[domain.PeerID]*domain.Peer
}

func NewRoomRegistry() ports.RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[domain.RoomID]*roomState),
	}
}

func (r *RoomRegistry) Join(ctx context.Context, roomID domain.RoomID, peer *domain.Peer) ([]*domain.Peer, error) {
	if roomID == "" {
		return nil, domain.ErrMissingRoomID
	}

	r.mu.Lock()
	rs, ok := r.rooms[roomID]
	if !ok {
		rs = &roomState{
			createdAt: time.Now(),
			peers:     make(map[domain.PeerID]*domain.Peer),
		}
		r.rooms[roomID] = rs
	}
	rs.mu.Lock()
	r.mu.Unlock()
	defer rs.mu.Unlock()

	existing := make([]*domain.Peer, 0, len(rs.peers))
	for id, p := range rs.peers {
		if id != peer.ID {
			existing = append(existing, p)
		}
	}
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].JoinedAt.Before(existing[j].JoinedAt)
	})

	// Duplicate join for the same connection replaces the entry.
	cp := *peer
	cp.RoomID = roomID
	if cp.JoinedAt.IsZero() {
		cp.JoinedAt = time.Now()
	}
	rs.peers[peer.ID] = &cp

	return existing, nil
}

func (r *RoomRegistry) Leave(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) (int, error) {
	r.mu.Lock()
	rs, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return 0, nil
	}
	rs.mu.Lock()
	r.mu.Unlock()

	delete(rs.peers, peerID)
	remaining := len(rs.peers)
	rs.mu.Unlock()

	if remaining == 0 {
		r.deleteIfEmpty(roomID)
	}
	return remaining, nil
}

// deleteIfEmpty re-checks emptiness under both locks; a join may have
// slipped in between the leave and this call.
func (r *RoomRegistry) deleteIfEmpty(roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[roomID]
	if !ok {
		return
	}
	rs.mu.Lock()
	if len(rs.peers) == 0 {
		delete(r.rooms, roomID)
	}
	rs.mu.Unlock()
}

func (r *RoomRegistry) Member(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) bool {
	r.mu.RLock()
	rs, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	_, ok = rs.peers[peerID]
	return ok
}

func (r *RoomRegistry) PeersOf(ctx context.Context, roomID domain.RoomID) ([]*domain.Peer, error) {
	r.mu.RLock()
	rs, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	peers := make([]*domain.Peer, 0, len(rs.peers))
	for _, p := range rs.peers {
		cp := *p
		peers = append(peers, &cp)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].JoinedAt.Before(peers[j].JoinedAt)
	})
	return peers, nil
}

func (r *RoomRegistry) Rooms(ctx context.Context) ([]*domain.Room, error) {
	r.mu.RLock()
	states := make(map[domain.RoomID]*roomState, len(r.rooms))
	for id, rs := range r.rooms {
		states[id] = rs
	}
	r.mu.RUnlock()

	rooms := make([]*domain.Room, 0, len(states))
	for id, rs := range states {
		rs.mu.Lock()
		room := &domain.Room{
			ID:        id,
			CreatedAt: rs.createdAt,
			Peers:     make([]*domain.Peer, 0, len(rs.peers)),
		}
		for _, p := range rs.peers {
			cp := *p
			room.Peers = append(room.Peers, &cp)
		}
		rs.mu.Unlock()

		sort.Slice(room.Peers, func(i, j int) bool {
			return room.Peers[i].JoinedAt.Before(room.Peers[j].JoinedAt)
		})
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}
