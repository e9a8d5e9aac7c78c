package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamcast/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRegistry struct {
	rooms map[domain.RoomID][]*domain.Peer
}

func (s *stubRegistry) Join(ctx context.Context, roomID domain.RoomID, peer *domain.Peer) ([]*domain.Peer, error) {
	return nil, nil
}

func (s *stubRegistry) Leave(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) (int, error) {
	return 0, nil
}

func (s *stubRegistry) Member(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) bool {
	return false
}

func (s *stubRegistry) PeersOf(ctx context.Context, roomID domain.RoomID) ([]*domain.Peer, error) {
	peers, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return peers, nil
}

func (s *stubRegistry) Rooms(ctx context.Context) ([]*domain.Room, error) {
	var rooms []*domain.Room
	for id, peers := range s.rooms {
		rooms = append(rooms, &domain.Room{ID: id, CreatedAt: time.Now(), Peers: peers})
	}
	return rooms, nil
}

type stubReporter struct {
	connected map[domain.PeerID]bool
}

func (s *stubReporter) IsPeerConnected(peerID domain.PeerID) bool {
	return s.connected[peerID]
}

func setupRouter(registry *stubRegistry, reporter ConnectionReporter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewRoomHandler(registry, reporter).SetupRoutes(router)
	return router
}

func TestListRoomsCountsStreamers(t *testing.T) {
	registry := &stubRegistry{rooms: map[domain.RoomID][]*domain.Peer{
		"r1": {
			{ID: "s", DisplayName: "alice", Role: domain.RoleStreamer},
			{ID: "v", DisplayName: "bob", Role: domain.RoleViewer},
		},
	}}
	router := setupRouter(registry, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Rooms []roomSummary `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "r1", resp.Rooms[0].ID)
	assert.Equal(t, 2, resp.Rooms[0].PeerCount)
	assert.Equal(t, 1, resp.Rooms[0].Streamers)
}

func TestGetRoomReportsConnectionState(t *testing.T) {
	registry := &stubRegistry{rooms: map[domain.RoomID][]*domain.Peer{
		"r1": {
			{ID: "s", DisplayName: "alice", Role: domain.RoleStreamer, JoinedAt: time.Now()},
			{ID: "v", DisplayName: "bob", Role: domain.RoleViewer, JoinedAt: time.Now().Add(time.Second)},
		},
	}}
	reporter := &stubReporter{connected: map[domain.PeerID]bool{"s": true}}
	router := setupRouter(registry, reporter)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/r1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		RoomID string       `json:"room_id"`
		Peers  []peerDetail `json:"peers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Peers, 2)
	assert.True(t, resp.Peers[0].Connected)
	assert.False(t, resp.Peers[1].Connected)
}

func TestGetUnknownRoomIs404(t *testing.T) {
	router := setupRouter(&stubRegistry{rooms: map[domain.RoomID][]*domain.Peer{}}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/ghost", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
