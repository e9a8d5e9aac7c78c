package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streamcast/internal/core/domain"
	"streamcast/internal/core/ports"
	"streamcast/pkg/batch"

	"github.com/redis/go-redis/v9"
)

// mirrorOp is one deferred Redis write.
type mirrorOp struct {
	kind   string // "set", "sadd", "srem", "del"
	key    string
	value  interface{}
	ttl    time.Duration
	client *redis.Client
}

func (op *mirrorOp) Execute(ctx context.Context) error {
	switch op.kind {
	case "set":
		data, ok := op.value.([]byte)
		if !ok {
			return fmt.Errorf("invalid value type for set operation")
		}
		return op.client.Set(ctx, op.key, data, op.ttl).Err()
	case "sadd":
		member, ok := op.value.(string)
		if !ok {
			return fmt.Errorf("invalid value type for sadd operation")
		}
		return op.client.SAdd(ctx, op.key, member).Err()
	case "srem":
		member, ok := op.value.(string)
		if !ok {
			return fmt.Errorf("invalid value type for srem operation")
		}
		return op.client.SRem(ctx, op.key, member).Err()
	case "del":
		return op.client.Del(ctx, op.key).Err()
	default:
		return fmt.Errorf("unknown operation type: %s", op.kind)
	}
}

// mirrorBatchProcessor flushes queued mirror writes through one pipeline.
type mirrorBatchProcessor struct {
	client *redis.Client
}

func (p *mirrorBatchProcessor) ProcessBatch(ctx context.Context, operations []batch.Operation) error {
	if len(operations) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, op := range operations {
		redisOp, ok := op.(*mirrorOp)
		if !ok {
			continue
		}
		switch redisOp.kind {
		case "set":
			if data, ok := redisOp.value.([]byte); ok {
				pipe.Set(ctx, redisOp.key, data, redisOp.ttl)
			}
		case "sadd":
			if member, ok := redisOp.value.(string); ok {
				pipe.SAdd(ctx, redisOp.key, member)
				pipe.Expire(ctx, redisOp.key, redisOp.ttl)
			}
		case "srem":
			if member, ok := redisOp.value.(string); ok {
				pipe.SRem(ctx, redisOp.key, member)
			}
		case "del":
			pipe.Del(ctx, redisOp.key)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// BatchedPresenceMirror queues mirror writes and flushes them in batches.
// Presence data tolerates a flush interval of staleness, so under join
// storms the relay issues one pipeline instead of a pipeline per event.
type BatchedPresenceMirror struct {
	base    *PresenceMirror
	batcher *batch.Batcher
	client  *redis.Client
}

func NewBatchedPresenceMirror(client *redis.Client, batchSize int, flushInterval time.Duration) ports.PresenceMirror {
	m := &BatchedPresenceMirror{
		base:   &PresenceMirror{client: client, prefix: "streamcast"},
		client: client,
	}
	m.batcher = batch.NewBatcher(batchSize, flushInterval, &mirrorBatchProcessor{client: client})
	return m
}

func (m *BatchedPresenceMirror) PeerJoined(ctx context.Context, peer *domain.Peer) error {
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

	m.batcher.Add(&mirrorOp{kind: "set", key: m.base.peerKey(peer.ID), value: data, ttl: mirrorTTL, client: m.client})
	m.batcher.Add(&mirrorOp{kind: "sadd", key: m.base.roomKey(peer.RoomID), value: string(peer.ID), ttl: mirrorTTL, client: m.client})
	return nil
}

func (m *BatchedPresenceMirror) PeerLeft(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) error {
	m.batcher.Add(&mirrorOp{kind: "srem", key: m.base.roomKey(roomID), value: string(peerID), client: m.client})
	m.batcher.Add(&mirrorOp{kind: "del", key: m.base.peerKey(peerID), client: m.client})
	return nil
}

func (m *BatchedPresenceMirror) RoomClosed(ctx context.Context, roomID domain.RoomID) error {
	m.batcher.Add(&mirrorOp{kind: "del", key: m.base.roomKey(roomID), client: m.client})
	return nil
}

// Close flushes pending writes and stops the batcher.
func (m *BatchedPresenceMirror) Close() {
	m.batcher.Stop()
}
