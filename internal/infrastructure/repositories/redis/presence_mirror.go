package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streamcast/internal/core/domain"
	"streamcast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// mirrorTTL caps how long stale presence data survives a crashed relay.
const mirrorTTL = 24 * time.Hour

// PresenceMirror copies room membership into Redis for external dashboards.
// The in-memory registry stays authoritative; nothing here is ever read
// back by the relay, and a failed write only costs mirror freshness.
type PresenceMirror struct {
	client *redis.Client
	prefix string
}

func NewPresenceMirror(client *redis.Client) ports.PresenceMirror {
	return &PresenceMirror{
		client: client,
		prefix: "streamcast",
	}
}

func (m *PresenceMirror) roomKey(roomID domain.RoomID) string {
	return fmt.Sprintf("%s:room:%s:peers", m.prefix, roomID)
}

func (m *PresenceMirror) peerKey(peerID domain.PeerID) string {
	return fmt.Sprintf("%s:peer:%s", m.prefix, peerID)
}

func (m *PresenceMirror) PeerJoined(ctx context.Context, peer *domain.Peer) error {
	data, err := json.Marshal(struct {
		ID         domain.PeerID `json:"id"`
		Name       string        `json:"name,omitempty"`
		IsStreamer bool          `json:"isStreamer"`
		RoomID     domain.RoomID `json:"roomId"`
		JoinedAt   time.Time     `json:"joinedAt"`
	}{peer.ID, peer.DisplayName, peer.Role.IsStreamer(), peer.RoomID, peer.JoinedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal peer: %w", err)
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.peerKey(peer.ID), data, mirrorTTL)
	pipe.SAdd(ctx, m.roomKey(peer.RoomID), string(peer.ID))
	pipe.Expire(ctx, m.roomKey(peer.RoomID), mirrorTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror join: %w", err)
	}
	return nil
}

func (m *PresenceMirror) PeerLeft(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) error {
	pipe := m.client.Pipeline()
	pipe.SRem(ctx, m.roomKey(roomID), string(peerID))
	pipe.Del(ctx, m.peerKey(peerID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror leave: %w", err)
	}
	return nil
}

func (m *PresenceMirror) RoomClosed(ctx context.Context, roomID domain.RoomID) error {
	if err := m.client.Del(ctx, m.roomKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to mirror room close: %w", err)
	}
	return nil
}
