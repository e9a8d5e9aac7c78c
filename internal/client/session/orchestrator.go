package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"streamcast/internal/core/domain"
	"streamcast/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Orchestrator owns the client side of a broadcast session: exactly one
// PeerEntry per known remote peer, driven through negotiation over the
// signaling transport. All state lives on a single event loop; transport
// and connection callbacks post onto it, so handlers never need locks and
// must stay short. The transport is an explicit handle so tests control
// its lifecycle.
type Orchestrator struct {
	transport ports.SignalTransport
	factory   ports.PeerConnectionFactory
	media     ports.MediaSource
	logger    *zap.SugaredLogger

	isStreamer  bool
	displayName string

	loop chan func()
	done chan struct{}
	once sync.Once

	// Loop-confined state below.
	selfID      domain.PeerID
	roomID      domain.RoomID
	entries     map[domain.PeerID]*PeerEntry
	localTracks []webrtc.TrackLocal
	onChange    func([]EntryInfo)

	welcomed chan struct{}
}

type Config struct {
	Transport   ports.SignalTransport
	Factory     ports.PeerConnectionFactory
	Media       ports.MediaSource // required only for streamers
	IsStreamer  bool
	DisplayName string
	Logger      *zap.SugaredLogger
}

func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		transport:   cfg.Transport,
		factory:     cfg.Factory,
		media:       cfg.Media,
		logger:      cfg.Logger,
		isStreamer:  cfg.IsStreamer,
		displayName: cfg.DisplayName,
		loop:        make(chan func(), 256),
		done:        make(chan struct{}),
		entries:     make(map[domain.PeerID]*PeerEntry),
		welcomed:    make(chan struct{}),
	}
}

// Run processes the event loop until ctx is cancelled or Close is called.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case fn := <-o.loop:
			fn()
		}
	}
}

func (o *Orchestrator) post(fn func()) {
	select {
	case o.loop <- fn:
	case <-o.done:
	}
}

// SetOnChange registers the rendering collaborator's callback; it fires
// on the loop whenever the entry set or an entry's state changes. Call
// before Run.
func (o *Orchestrator) SetOnChange(fn func([]EntryInfo)) {
	o.onChange = fn
}

func (o *Orchestrator) notifyChange() {
	if o.onChange != nil {
		o.onChange(o.snapshotLocked())
	}
}

func (o *Orchestrator) snapshotLocked() []EntryInfo {
	infos := make([]EntryInfo, 0, len(o.entries))
	for _, e := range o.entries {
		infos = append(infos, e.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].PeerID < infos[j].PeerID })
	return infos
}

// Entries returns a snapshot of the tracked peers, serialized through the
// loop.
func (o *Orchestrator) Entries() []EntryInfo {
	reply := make(chan []EntryInfo, 1)
	o.post(func() { reply <- o.snapshotLocked() })
	select {
	case infos := <-reply:
		return infos
	case <-o.done:
		return nil
	}
}

// JoinRoom acquires the capture device when local role is streamer, then
// announces the join. Device acquisition happens on the caller's
// goroutine, it is the one suspending operation of the session; a
// DeviceUnavailable failure means the join is never attempted.
func (o *Orchestrator) JoinRoom(ctx context.Context, roomID domain.RoomID) error {
	if roomID == "" {
		return domain.ErrMissingRoomID
	}

	var tracks []webrtc.TrackLocal
	if o.isStreamer {
		if o.media == nil {
			return fmt.Errorf("streamer session has no media source")
		}
		acquired, err := o.media.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire capture device: %w", err)
		}
		tracks = acquired
	}

	errc := make(chan error, 1)
	o.post(func() {
		if o.roomID != "" && o.roomID != roomID {
			o.teardownAll()
			if err := o.transport.SendLeaveRoom(o.roomID); err != nil {
				o.logger.Warnw("leave of prior room failed", "room_id", o.roomID, "error", err)
			}
		}
		o.roomID = roomID
		o.localTracks = tracks
		errc <- o.transport.SendJoinRoom(roomID, o.displayName, o.isStreamer)
	})

	select {
	case err := <-errc:
		return err
	case <-o.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LeaveRoom tears down every entry synchronously, releases the capture
// device and announces the departure.
func (o *Orchestrator) LeaveRoom() error {
	errc := make(chan error, 1)
	o.post(func() {
		if o.roomID == "" {
			errc <- nil
			return
		}
		roomID := o.roomID
		o.teardownAll()
		o.roomID = ""
		o.localTracks = nil
		if o.media != nil {
			o.media.Release()
		}
		errc <- o.transport.SendLeaveRoom(roomID)
	})

	select {
	case err := <-errc:
		return err
	case <-o.done:
		return domain.ErrSessionClosed
	}
}

// Close ends the session: leaves the room, stops the loop and closes the
// transport.
func (o *Orchestrator) Close() error {
	_ = o.LeaveRoom()
	o.once.Do(func() { close(o.done) })
	return o.transport.Close()
}

// SelfID blocks until the relay has assigned this session a peer id.
func (o *Orchestrator) SelfID(ctx context.Context) (domain.PeerID, error) {
	select {
	case <-o.welcomed:
		return o.selfID, nil
	case <-o.done:
		return "", domain.ErrSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// --- ports.TransportHandler ---

func (o *Orchestrator) OnWelcome(peerID domain.PeerID) {
	o.post(func() {
		o.selfID = peerID
		select {
		case <-o.welcomed:
		default:
			close(o.welcomed)
		}
	})
}

func (o *Orchestrator) OnPeersInRoom(peers []domain.PeerInfo) {
	o.post(func() {
		for _, info := range peers {
			o.addPeer(info)
		}
	})
}

func (o *Orchestrator) OnPeerJoined(info domain.PeerInfo) {
	o.post(func() { o.addPeer(info) })
}

func (o *Orchestrator) OnPeerLeft(peerID domain.PeerID) {
	o.post(func() { o.removePeer(peerID, nil) })
}

func (o *Orchestrator) OnSignal(from domain.PeerID, data json.RawMessage) {
	o.post(func() {
		entry, ok := o.entries[from]
		if !ok {
			// Signal racing a join or leave; tolerated, not fatal.
			o.logger.Warnw("dropping signal for untracked peer", "from", from)
			return
		}
		if err := entry.conn.HandleSignal(data); err != nil {
			o.logger.Warnw("connection rejected signal", "from", from, "error", err)
		}
	})
}

func (o *Orchestrator) OnDisconnect(err error) {
	// The loop stops from inside the posted closure, so the teardown is
	// guaranteed to run before Run observes the closed channel.
	o.post(func() {
		if err != nil {
			o.logger.Warnw("signaling transport lost", "error", err)
		}
		o.teardownAll()
		o.roomID = ""
		if o.media != nil {
			o.media.Release()
		}
		o.once.Do(func() { close(o.done) })
	})
}

// --- loop-confined internals ---

// addPeer is idempotent: a duplicate peer-joined for a tracked peer never
// creates a second connection object.
func (o *Orchestrator) addPeer(info domain.PeerInfo) {
	if _, ok := o.entries[info.ID]; ok {
		o.logger.Debugw("duplicate peer announcement ignored", "peer_id", info.ID)
		return
	}

	remoteRole := domain.RoleViewer
	if info.IsStreamer {
		remoteRole = domain.RoleStreamer
	}
	localRole := domain.RoleViewer
	if o.isStreamer {
		localRole = domain.RoleStreamer
	}
	initiator := domain.Initiates(localRole, remoteRole)

	entry := &PeerEntry{
		RemotePeerID: info.ID,
		DisplayName:  info.Name,
		Initiator:    initiator,
		state:        StateCreated,
	}

	peerID := info.ID
	roomID := o.roomID
	var tracks []webrtc.TrackLocal
	if o.isStreamer {
		tracks = o.localTracks
	}

	conn, err := o.factory.New(context.Background(), initiator, tracks, ports.PeerConnectionCallbacks{
		OnSignal: func(data json.RawMessage) {
			if err := o.transport.SendSignal(roomID, peerID, data); err != nil {
				o.logger.Debugw("signal send failed", "target", peerID, "error", err)
			}
		},
		OnMedia: func(stream *ports.RemoteStream) {
			o.post(func() { o.mediaArrived(peerID, stream) })
		},
		OnClose: func(err error) {
			o.post(func() { o.removePeer(peerID, err) })
		},
	})
	if err != nil {
		o.logger.Errorw("failed to create peer connection", "peer_id", peerID, "error", err)
		return
	}

	entry.conn = conn
	if err := entry.transition(StateNegotiating); err != nil {
		o.logger.Errorw("entry state error", "error", err)
	}
	o.entries[peerID] = entry

	o.logger.Infow("tracking remote peer",
		"peer_id", peerID,
		"name", info.Name,
		"initiator", initiator,
	)
	o.notifyChange()
}

func (o *Orchestrator) mediaArrived(peerID domain.PeerID, stream *ports.RemoteStream) {
	entry, ok := o.entries[peerID]
	if !ok || entry.state == StateClosed {
		return
	}
	if entry.state != StateConnected {
		if err := entry.transition(StateConnected); err != nil {
			o.logger.Debugw("media before negotiation ignored", "peer_id", peerID, "error", err)
			return
		}
	}
	stream.PeerID = peerID
	entry.media = stream
	o.logger.Infow("remote media arrived", "peer_id", peerID, "tracks", len(stream.Tracks))
	o.notifyChange()
}

func (o *Orchestrator) removePeer(peerID domain.PeerID, cause error) {
	entry, ok := o.entries[peerID]
	if !ok {
		return
	}
	delete(o.entries, peerID)
	_ = entry.transition(StateClosed)
	if err := entry.conn.Close(); err != nil {
		o.logger.Debugw("connection close failed", "peer_id", peerID, "error", err)
	}

	if cause != nil {
		o.logger.Infow("peer connection failed", "peer_id", peerID, "error", cause)
	} else {
		o.logger.Infow("peer removed", "peer_id", peerID)
	}
	o.notifyChange()
}

func (o *Orchestrator) teardownAll() {
	for id := range o.entries {
		o.removePeer(id, nil)
	}
}
