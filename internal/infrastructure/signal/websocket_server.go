package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"streamcast/internal/core/domain"
	"streamcast/internal/core/ports"
	"streamcast/internal/infrastructure/monitoring"
	"streamcast/pkg/tracing"
	"streamcast/pkg/utils"
	"streamcast/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	dropReasonSenderNotMember = "sender_not_member"
	dropReasonTargetNotMember = "target_not_member"
	dropReasonTargetGone      = "target_disconnected"
	dropReasonNotJoined       = "sender_not_joined"
)

// Relay is the network-facing signaling layer: it owns the websocket
// connections, mutates the room registry on join/leave, and forwards
// opaque negotiation payloads between room members without inspecting
// them. One Relay instance lives for the whole process.
type Relay struct {
	registry  ports.RoomRegistry
	mirror    ports.PresenceMirror  // optional
	directory ports.StreamDirectory // optional
	metrics   *monitoring.PrometheusCollector

	connections map[domain.PeerID]*connection
	mu          sync.RWMutex

	// roomLocks serializes the mutate-reply-broadcast sequence per room so
	// a joiner always sees peers-in-room before any later peer-joined.
	roomLocks map[domain.RoomID]*sync.Mutex
	roomMu    sync.Mutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	msgRate        rate.Limit
	msgBurst       int
	maxMessageSize int64

	logger *zap.SugaredLogger
}

// connection is one websocket client. Writes are serialized with writeMu
// because broadcasts arrive from other peers' handler goroutines.
type connection struct {
	id      domain.PeerID
	ws      *websocket.Conn
	writeMu sync.Mutex

	// joined state; guarded by stateMu, mutated only under the room lock.
	stateMu sync.Mutex
	room    domain.RoomID
	peer    *domain.Peer

	limiter *rate.Limiter
}

type Option func(*Relay)

func WithPresenceMirror(m ports.PresenceMirror) Option {
	return func(r *Relay) { r.mirror = m }
}

func WithStreamDirectory(d ports.StreamDirectory) Option {
	return func(r *Relay) { r.directory = d }
}

func WithMetrics(c *monitoring.PrometheusCollector) Option {
	return func(r *Relay) { r.metrics = c }
}

func WithMessageRate(perSecond float64, burst int) Option {
	return func(r *Relay) {
		r.msgRate = rate.Limit(perSecond)
		r.msgBurst = burst
	}
}

func WithMaxMessageSize(bytes int64) Option {
	return func(r *Relay) { r.maxMessageSize = bytes }
}

func WithPingInterval(interval time.Duration) Option {
	return func(r *Relay) { r.pingInterval = interval }
}

func WithTimeouts(pongTimeout, writeTimeout time.Duration) Option {
	return func(r *Relay) {
		r.readTimeout = pongTimeout
		r.writeTimeout = writeTimeout
	}
}

func NewRelay(registry ports.RoomRegistry, logger *zap.SugaredLogger, opts ...Option) *Relay {
	r := &Relay{
		registry:     registry,
		connections:  make(map[domain.PeerID]*connection),
		roomLocks:    make(map[domain.RoomID]*sync.Mutex),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		msgRate:      rate.Inf,
		msgBurst:     1,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebSocket upgrades the request and runs the connection until the
// peer disconnects. Cleanup on any exit path mirrors an explicit leave.
func (r *Relay) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := &connection{
		id:      domain.PeerID(uuid.NewString()),
		ws:      ws,
		limiter: rate.NewLimiter(r.msgRate, r.msgBurst),
	}

	r.mu.Lock()
	r.connections[conn.id] = conn
	r.mu.Unlock()

	r.logger.Infow("peer connected", "peer_id", conn.id, "remote", ws.RemoteAddr())

	if r.maxMessageSize > 0 {
		ws.SetReadLimit(r.maxMessageSize)
	}
	ws.SetReadDeadline(time.Now().Add(r.readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(r.readTimeout))
		return nil
	})

	if err := conn.send(r.writeTimeout, domain.NewMessage(domain.EventWelcome, domain.WelcomePayload{PeerID: conn.id})); err != nil {
		r.logger.Warnw("failed to send welcome", "peer_id", conn.id, "error", err)
		r.dropConnection(conn)
		return
	}

	pingTicker := time.NewTicker(r.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan domain.Message, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg domain.Message
			if err := ws.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			ws.SetReadDeadline(time.Now().Add(r.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if !conn.limiter.Allow() {
				r.metrics.RecordMessageRejected()
				r.logger.Debugw("message rate limit exceeded", "peer_id", conn.id, "type", msg.Type)
				continue
			}
			if err := r.handleMessage(req.Context(), conn, msg); err != nil {
				r.logger.Infow("error handling message", "peer_id", conn.id, "type", msg.Type, "error", err)
				r.sendError(conn, err.Error())
			}

		case <-pingTicker.C:
			conn.writeMu.Lock()
			conn.ws.SetWriteDeadline(time.Now().Add(r.writeTimeout))
			err := conn.ws.WriteMessage(websocket.PingMessage, nil)
			conn.writeMu.Unlock()
			if err != nil {
				r.logger.Infow("ping failed", "peer_id", conn.id, "error", err)
				r.dropConnection(conn)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				r.logger.Infow("read error", "peer_id", conn.id, "error", err)
			}
			r.dropConnection(conn)
			return
		}
	}
}

// dropConnection removes the connection map entry and performs the same
// room cleanup as an explicit leave.
func (r *Relay) dropConnection(conn *connection) {
	r.mu.Lock()
	delete(r.connections, conn.id)
	r.mu.Unlock()

	r.leaveCurrentRoom(context.Background(), conn)
	r.logger.Infow("peer disconnected", "peer_id", conn.id)
}

func (r *Relay) handleMessage(ctx context.Context, conn *connection, msg domain.Message) error {
	switch msg.Type {
	case domain.EventJoinRoom:
		return r.handleJoinRoom(ctx, conn, msg.Payload)
	case domain.EventLeaveRoom:
		return r.handleLeaveRoom(ctx, conn, msg.Payload)
	case domain.EventSignal:
		return r.handleSignal(ctx, conn, msg.Payload)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (r *Relay) handleJoinRoom(ctx context.Context, conn *connection, payload json.RawMessage) error {
	started := time.Now()

	var req domain.JoinRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("invalid join-room payload: %w", err)
	}
	if req.RoomID == "" {
		return domain.ErrMissingRoomID
	}
	if err := validation.ValidateRoomID(string(req.RoomID)); err != nil {
		return fmt.Errorf("invalid room id: %w", err)
	}

	// Display names render on every participant's screen; scrub them here
	// so no client has to.
	req.Name = utils.TruncateString(utils.SanitizeString(req.Name), validation.MaxDisplayNameLength)

	ctx, span := tracing.TraceSignalEvent(ctx, domain.EventJoinRoom, string(conn.id))
	defer span.End()
	span.SetAttributes(
		tracing.RoomIDKey.String(string(req.RoomID)),
		attribute.Bool("peer.is_streamer", req.IsStreamer),
	)

	// Joining while joined elsewhere implicitly leaves the prior room
	// first, before the new room's lock is taken.
	conn.stateMu.Lock()
	prior := conn.room
	conn.stateMu.Unlock()
	if prior != "" && prior != req.RoomID {
		r.leaveCurrentRoom(ctx, conn)
	}
	rejoin := prior == req.RoomID

	role := domain.RoleViewer
	if req.IsStreamer {
		role = domain.RoleStreamer
	}
	peer := &domain.Peer{
		ID:          conn.id,
		DisplayName: req.Name,
		Role:        role,
		RoomID:      req.RoomID,
		JoinedAt:    time.Now(),
	}

	lock := r.lockRoom(req.RoomID)

	existing, err := r.registry.Join(ctx, req.RoomID, peer)
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("registry join failed: %w", err)
	}
	createdRoom := len(existing) == 0

	conn.stateMu.Lock()
	conn.room = req.RoomID
	conn.peer = peer
	conn.stateMu.Unlock()

	// Snapshot reply goes out before the broadcast, under the room lock,
	// so later joiners cannot be announced to this peer first.
	snapshot := domain.PeersInRoomPayload{Peers: make([]domain.PeerInfo, 0, len(existing))}
	for _, p := range existing {
		snapshot.Peers = append(snapshot.Peers, domain.PeerInfoOf(p))
	}
	if err := conn.send(r.writeTimeout, domain.NewMessage(domain.EventPeersInRoom, snapshot)); err != nil {
		r.logger.Warnw("failed to send peers-in-room", "peer_id", conn.id, "error", err)
	}

	// A same-room rejoin only refreshes the roster; the others already
	// know this peer.
	if !rejoin {
		joined := domain.NewMessage(domain.EventPeerJoined, domain.PeerJoinedPayload{
			PeerID:     peer.ID,
			Name:       peer.DisplayName,
			IsStreamer: role.IsStreamer(),
		})
		r.broadcast(existing, joined)
	}
	lock.Unlock()

	if !rejoin {
		r.metrics.RecordPeerJoined(role, createdRoom, time.Since(started))
	}
	r.logger.Infow("peer joined room",
		"peer_id", peer.ID,
		"room_id", req.RoomID,
		"role", role,
		"existing_peers", len(existing),
	)

	if r.mirror != nil {
		if err := r.mirror.PeerJoined(ctx, peer); err != nil {
			r.logger.Warnw("presence mirror join failed", "peer_id", peer.ID, "error", err)
		}
	}
	if r.directory != nil && role.IsStreamer() && !rejoin {
		go func() {
			if err := r.directory.CreateStream(context.Background(), req.RoomID, peer.DisplayName, "", "live", 0); err != nil {
				r.logger.Warnw("stream directory create failed", "room_id", req.RoomID, "error", err)
			}
		}()
	}
	return nil
}

func (r *Relay) handleLeaveRoom(ctx context.Context, conn *connection, payload json.RawMessage) error {
	var req domain.LeaveRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("invalid leave-room payload: %w", err)
	}

	conn.stateMu.Lock()
	current := conn.room
	conn.stateMu.Unlock()
	if current == "" || (req.RoomID != "" && req.RoomID != current) {
		// Leave for a room the peer is not in; routine race, not an error.
		return nil
	}

	r.leaveCurrentRoom(ctx, conn)
	return nil
}

// leaveCurrentRoom removes the peer from its room, broadcasts peer-left to
// the remaining members and clears the connection's joined state. Safe to
// call for unjoined connections.
func (r *Relay) leaveCurrentRoom(ctx context.Context, conn *connection) {
	conn.stateMu.Lock()
	roomID := conn.room
	peer := conn.peer
	conn.room = ""
	conn.peer = nil
	conn.stateMu.Unlock()

	if roomID == "" || peer == nil {
		return
	}

	lock := r.lockRoom(roomID)

	remaining, err := r.registry.Leave(ctx, roomID, peer.ID)
	if err != nil {
		r.logger.Warnw("registry leave failed", "peer_id", peer.ID, "room_id", roomID, "error", err)
	}

	if remaining > 0 {
		if peers, err := r.registry.PeersOf(ctx, roomID); err == nil {
			r.broadcast(peers, domain.NewMessage(domain.EventPeerLeft, domain.PeerLeftPayload{PeerID: peer.ID}))
		}
	}

	closedRoom := remaining == 0
	if closedRoom {
		r.retireRoomLock(roomID)
	}
	lock.Unlock()

	r.metrics.RecordPeerLeft(peer.Role, closedRoom)
	r.logger.Infow("peer left room",
		"peer_id", peer.ID,
		"room_id", roomID,
		"remaining", remaining,
	)

	if r.mirror != nil {
		if err := r.mirror.PeerLeft(ctx, roomID, peer.ID); err != nil {
			r.logger.Warnw("presence mirror leave failed", "peer_id", peer.ID, "error", err)
		}
		if closedRoom {
			if err := r.mirror.RoomClosed(ctx, roomID); err != nil {
				r.logger.Warnw("presence mirror room close failed", "room_id", roomID, "error", err)
			}
		}
	}
	if r.directory != nil && peer.Role.IsStreamer() {
		id := roomID
		go func() {
			if err := r.directory.EndStream(context.Background(), id); err != nil {
				r.logger.Warnw("stream directory end failed", "room_id", id, "error", err)
			}
		}()
	}
}

// handleSignal forwards an opaque payload to one room member. Every miss
// is a silent drop: the sender gets no error, only metrics move.
func (r *Relay) handleSignal(ctx context.Context, conn *connection, payload json.RawMessage) error {
	var req domain.SignalPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("invalid signal payload: %w", err)
	}

	conn.stateMu.Lock()
	current := conn.room
	conn.stateMu.Unlock()

	if current == "" {
		r.metrics.RecordSignalDropped(dropReasonNotJoined)
		r.logger.Debugw("dropping signal from unjoined peer", "peer_id", conn.id)
		return nil
	}
	if req.RoomID != current || !r.registry.Member(ctx, req.RoomID, conn.id) {
		// Forged or stale room reference; dropped for consistency with the
		// other miss cases.
		r.metrics.RecordSignalDropped(dropReasonSenderNotMember)
		r.logger.Debugw("dropping signal for foreign room", "peer_id", conn.id, "room_id", req.RoomID)
		return nil
	}
	if !r.registry.Member(ctx, req.RoomID, req.TargetID) {
		r.metrics.RecordSignalDropped(dropReasonTargetNotMember)
		r.logger.Debugw("dropping signal for non-member target",
			"peer_id", conn.id,
			"target_id", req.TargetID,
			"room_id", req.RoomID,
		)
		return nil
	}

	r.mu.RLock()
	target, ok := r.connections[req.TargetID]
	r.mu.RUnlock()
	if !ok {
		r.metrics.RecordSignalDropped(dropReasonTargetGone)
		return nil
	}

	forward := domain.NewMessage(domain.EventSignal, domain.SignalPayload{
		From: conn.id,
		Data: req.Data,
	})
	if err := target.send(r.writeTimeout, forward); err != nil {
		r.metrics.RecordSignalDropped(dropReasonTargetGone)
		r.logger.Debugw("signal write failed", "target_id", req.TargetID, "error", err)
		return nil
	}

	r.metrics.RecordSignalRelayed()
	return nil
}

// broadcast sends msg to every given peer that still has a live
// connection. Delivery is best effort.
func (r *Relay) broadcast(peers []*domain.Peer, msg domain.Message) {
	sent := 0
	for _, p := range peers {
		r.mu.RLock()
		target, ok := r.connections[p.ID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if err := target.send(r.writeTimeout, msg); err != nil {
			r.logger.Debugw("broadcast write failed", "peer_id", p.ID, "error", err)
			continue
		}
		sent++
	}
	r.metrics.RecordBroadcast(sent)
}

// lockRoom returns the room's ordering mutex already locked. Retired
// locks are detected by re-checking the map after the block: if a leave
// emptied the room while we waited, the mutex we hold is no longer the
// mapped one and a fresh acquire is needed, otherwise two joiners could
// run the mutate-reply-broadcast sequence under different locks.
func (r *Relay) lockRoom(roomID domain.RoomID) *sync.Mutex {
	for {
		r.roomMu.Lock()
		lock, ok := r.roomLocks[roomID]
		if !ok {
			lock = &sync.Mutex{}
			r.roomLocks[roomID] = lock
		}
		r.roomMu.Unlock()

		lock.Lock()

		r.roomMu.Lock()
		current := r.roomLocks[roomID] == lock
		r.roomMu.Unlock()
		if current {
			return lock
		}
		lock.Unlock()
	}
}

// retireRoomLock must be called while still holding the room lock, so
// waiters blocked on it fail the lockRoom re-check instead of proceeding
// on an orphaned mutex.
func (r *Relay) retireRoomLock(roomID domain.RoomID) {
	r.roomMu.Lock()
	delete(r.roomLocks, roomID)
	r.roomMu.Unlock()
}

func (c *connection) send(timeout time.Duration, msg domain.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteJSON(msg)
}

func (r *Relay) sendError(conn *connection, message string) {
	if err := conn.send(r.writeTimeout, domain.NewMessage(domain.EventError, domain.ErrorPayload{Message: message})); err != nil {
		r.logger.Debugw("error write failed", "peer_id", conn.id, "error", err)
	}
}

// ConnectedPeers returns the ids of every live websocket connection.
func (r *Relay) ConnectedPeers() []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(r.connections))
	for id := range r.connections {
		peers = append(peers, id)
	}
	return peers
}

func (r *Relay) IsPeerConnected(peerID domain.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.connections[peerID]
	return ok
}
