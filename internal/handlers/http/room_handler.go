package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"streamcast/internal/core/domain"
	"streamcast/internal/core/ports"
	"streamcast/pkg/cache"
	apperrors "streamcast/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ConnectionReporter exposes relay connection facts for diagnostics.
type ConnectionReporter interface {
	IsPeerConnected(peerID domain.PeerID) bool
}

// snapshotTTL bounds how stale the rooms listing may be; dashboards poll
// it, the registry shouldn't pay for every poll.
const snapshotTTL = 2 * time.Second

// RoomHandler serves read-only diagnostics over the room registry. It is
// an operator surface; clients never call it.
type RoomHandler struct {
	registry ports.RoomRegistry
	reporter ConnectionReporter
	cache    *cache.CacheWithFallback
}

func NewRoomHandler(registry ports.RoomRegistry, reporter ConnectionReporter) *RoomHandler {
	return &RoomHandler{
		registry: registry,
		reporter: reporter,
		cache:    cache.NewCacheWithFallback(snapshotTTL),
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
	}
}

type roomSummary struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	PeerCount int    `json:"peer_count"`
	Streamers int    `json:"streamers"`
}

type peerDetail struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	JoinedAt  string `json:"joined_at"`
	Connected bool   `json:"connected"`
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	value, err := h.cache.GetOrSet(c.Request.Context(), "rooms:list", func(ctx context.Context) (interface{}, error) {
		rooms, err := h.registry.Rooms(ctx)
		if err != nil {
			return nil, err
		}

		summaries := make([]roomSummary, 0, len(rooms))
		for _, room := range rooms {
			summary := roomSummary{
				ID:        string(room.ID),
				CreatedAt: room.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
				PeerCount: len(room.Peers),
			}
			for _, peer := range room.Peers {
				if peer.Role.IsStreamer() {
					summary.Streamers++
				}
			}
			summaries = append(summaries, summary)
		}
		sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
		return summaries, nil
	}, snapshotTTL)
	if err != nil {
		h.renderError(c, apperrors.NewInternalError("failed to list rooms"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": value})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	peers, err := h.registry.PeersOf(c.Request.Context(), roomID)
	if err != nil {
		if err == domain.ErrRoomNotFound {
			h.renderError(c, apperrors.NewNotFoundError("room"))
			return
		}
		h.renderError(c, apperrors.NewInternalError("failed to read room"))
		return
	}

	details := make([]peerDetail, 0, len(peers))
	for _, peer := range peers {
		connected := true
		if h.reporter != nil {
			connected = h.reporter.IsPeerConnected(peer.ID)
		}
		details = append(details, peerDetail{
			ID:        string(peer.ID),
			Name:      peer.DisplayName,
			Role:      string(peer.Role),
			JoinedAt:  peer.JoinedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Connected: connected,
		})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].JoinedAt < details[j].JoinedAt })

	c.JSON(http.StatusOK, gin.H{
		"room_id": string(roomID),
		"peers":   details,
	})
}

func (h *RoomHandler) renderError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.HTTPStatus, gin.H{
		"error": appErr.Message,
		"code":  appErr.Code,
	})
}
