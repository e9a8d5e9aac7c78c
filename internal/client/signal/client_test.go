package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"streamcast/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingHandler buffers every dispatched event so tests can wait on them.
type recordingHandler struct {
	welcomes    chan domain.PeerID
	rosters     chan []domain.PeerInfo
	joins       chan domain.PeerInfo
	leaves      chan domain.PeerID
	signals     chan domain.SignalPayload
	disconnects chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		welcomes:    make(chan domain.PeerID, 4),
		rosters:     make(chan []domain.PeerInfo, 4),
		joins:       make(chan domain.PeerInfo, 4),
		leaves:      make(chan domain.PeerID, 4),
		signals:     make(chan domain.SignalPayload, 4),
		disconnects: make(chan error, 4),
	}
}

func (h *recordingHandler) OnWelcome(id domain.PeerID)             { h.welcomes <- id }
func (h *recordingHandler) OnPeersInRoom(peers []domain.PeerInfo)  { h.rosters <- peers }
func (h *recordingHandler) OnPeerJoined(peer domain.PeerInfo)      { h.joins <- peer }
func (h *recordingHandler) OnPeerLeft(id domain.PeerID)            { h.leaves <- id }
func (h *recordingHandler) OnSignal(from domain.PeerID, data json.RawMessage) {
	h.signals <- domain.SignalPayload{From: from, Data: data}
}
func (h *recordingHandler) OnDisconnect(err error) { h.disconnects <- err }

// scriptedRelay accepts one websocket connection, records every envelope
// the client sends, and lets the test push envelopes back.
type scriptedRelay struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	ready    chan struct{}
	received chan domain.Message
}

func newScriptedRelay(t *testing.T) *scriptedRelay {
	r := &scriptedRelay{
		t:        t,
		ready:    make(chan struct{}),
		received: make(chan domain.Message, 16),
	}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
		close(r.ready)
		for {
			var msg domain.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			r.received <- msg
		}
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *scriptedRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *scriptedRelay) push(t *testing.T, msg domain.Message) {
	select {
	case <-r.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NoError(t, r.conn.WriteJSON(msg))
}

func (r *scriptedRelay) dropConnection(t *testing.T) {
	select {
	case <-r.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NoError(t, r.conn.Close())
}

func dialTestClient(t *testing.T, relay *scriptedRelay) (*Client, *recordingHandler) {
	t.Helper()
	client, err := Dial(context.Background(), relay.url(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	handler := newRecordingHandler()
	client.Start(handler)
	return client, handler
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestWelcomeDispatchedAfterStart(t *testing.T) {
	relay := newScriptedRelay(t)
	_, handler := dialTestClient(t, relay)

	relay.push(t, domain.NewMessage(domain.EventWelcome, domain.WelcomePayload{PeerID: "p1"}))

	assert.Equal(t, domain.PeerID("p1"), waitFor(t, handler.welcomes, "welcome"))
}

func TestSendJoinRoomEnvelope(t *testing.T) {
	relay := newScriptedRelay(t)
	client, _ := dialTestClient(t, relay)

	require.NoError(t, client.SendJoinRoom("room_a", "alice", true))

	msg := waitFor(t, relay.received, "join-room")
	assert.Equal(t, domain.EventJoinRoom, msg.Type)

	var p domain.JoinRoomPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, domain.RoomID("room_a"), p.RoomID)
	assert.Equal(t, "alice", p.Name)
	assert.True(t, p.IsStreamer)
}

func TestSendSignalCarriesTarget(t *testing.T) {
	relay := newScriptedRelay(t)
	client, _ := dialTestClient(t, relay)

	blob := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, client.SendSignal("room_a", "viewer-1", blob))

	msg := waitFor(t, relay.received, "signal")
	require.Equal(t, domain.EventSignal, msg.Type)

	var p domain.SignalPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, domain.PeerID("viewer-1"), p.TargetID)
	assert.JSONEq(t, string(blob), string(p.Data))
}

func TestInboundRosterAndSignalDispatch(t *testing.T) {
	relay := newScriptedRelay(t)
	_, handler := dialTestClient(t, relay)

	relay.push(t, domain.NewMessage(domain.EventPeersInRoom, domain.PeersInRoomPayload{
		Peers: []domain.PeerInfo{{ID: "s1", Name: "bob", IsStreamer: true}},
	}))
	roster := waitFor(t, handler.rosters, "peers-in-room")
	require.Len(t, roster, 1)
	assert.Equal(t, domain.PeerID("s1"), roster[0].ID)
	assert.True(t, roster[0].IsStreamer)

	relay.push(t, domain.NewMessage(domain.EventSignal, domain.SignalPayload{
		From: "s1",
		Data: json.RawMessage(`{"type":"offer"}`),
	}))
	sig := waitFor(t, handler.signals, "signal")
	assert.Equal(t, domain.PeerID("s1"), sig.From)
}

func TestMalformedPayloadIsSkipped(t *testing.T) {
	relay := newScriptedRelay(t)
	_, handler := dialTestClient(t, relay)

	relay.push(t, domain.Message{Type: domain.EventPeerJoined, Payload: json.RawMessage(`"not an object"`)})
	relay.push(t, domain.NewMessage(domain.EventPeerLeft, domain.PeerLeftPayload{PeerID: "p9"}))

	// The bad peer-joined must not kill the read loop.
	assert.Equal(t, domain.PeerID("p9"), waitFor(t, handler.leaves, "peer-left"))
	assert.Empty(t, handler.joins)
}

func TestServerDropReportsDisconnectError(t *testing.T) {
	relay := newScriptedRelay(t)
	_, handler := dialTestClient(t, relay)

	relay.dropConnection(t)

	err := waitFor(t, handler.disconnects, "disconnect")
	assert.Error(t, err)
}

func TestSendAfterCloseFails(t *testing.T) {
	relay := newScriptedRelay(t)
	client, _ := dialTestClient(t, relay)

	require.NoError(t, client.Close())

	err := client.SendLeaveRoom("room_a")
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}
