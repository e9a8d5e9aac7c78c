package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"streamcast/internal/core/domain"
	"streamcast/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const pingInterval = 25 * time.Second

// Client is the websocket transport between a participant and the relay.
// Inbound events are decoded and handed to the TransportHandler one at a
// time from the read loop; Send methods are safe for concurrent use.
type Client struct {
	conn    *websocket.Conn
	handler ports.TransportHandler
	logger  *zap.SugaredLogger

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// Dial connects to the relay. Nothing is read until Start is called, so
// the caller can finish wiring the handler first; the relay's welcome
// waits in the socket buffer meanwhile.
func Dial(ctx context.Context, url string, logger *zap.SugaredLogger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	return &Client{
		conn:   conn,
		logger: logger,
		closed: make(chan struct{}),
	}, nil
}

// Start attaches the handler and begins the read and ping loops. Call
// exactly once.
func (c *Client) Start(handler ports.TransportHandler) {
	c.handler = handler
	go c.readLoop()
	go c.pingLoop()
}

func (c *Client) SendJoinRoom(roomID domain.RoomID, name string, isStreamer bool) error {
	return c.send(domain.NewMessage(domain.EventJoinRoom, domain.JoinRoomPayload{
		RoomID:     roomID,
		Name:       name,
		IsStreamer: isStreamer,
	}))
}

func (c *Client) SendLeaveRoom(roomID domain.RoomID) error {
	return c.send(domain.NewMessage(domain.EventLeaveRoom, domain.LeaveRoomPayload{RoomID: roomID}))
}

func (c *Client) SendSignal(roomID domain.RoomID, targetID domain.PeerID, data json.RawMessage) error {
	return c.send(domain.NewMessage(domain.EventSignal, domain.SignalPayload{
		RoomID:   roomID,
		TargetID: targetID,
		Data:     data,
	}))
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.conn.Close()
}

func (c *Client) send(msg domain.Message) error {
	select {
	case <-c.closed:
		return domain.ErrSessionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	for {
		var msg domain.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.closed:
				c.handler.OnDisconnect(nil)
			default:
				c.logger.Infow("signal connection lost", "error", err)
				c.handler.OnDisconnect(err)
			}
			c.Close()
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg domain.Message) {
	switch msg.Type {
	case domain.EventWelcome:
		var p domain.WelcomePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warnw("bad welcome payload", "error", err)
			return
		}
		c.handler.OnWelcome(p.PeerID)

	case domain.EventPeersInRoom:
		var p domain.PeersInRoomPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warnw("bad peers-in-room payload", "error", err)
			return
		}
		c.handler.OnPeersInRoom(p.Peers)

	case domain.EventPeerJoined:
		var p domain.PeerJoinedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warnw("bad peer-joined payload", "error", err)
			return
		}
		c.handler.OnPeerJoined(domain.PeerInfo{ID: p.PeerID, Name: p.Name, IsStreamer: p.IsStreamer})

	case domain.EventPeerLeft:
		var p domain.PeerLeftPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warnw("bad peer-left payload", "error", err)
			return
		}
		c.handler.OnPeerLeft(p.PeerID)

	case domain.EventSignal:
		var p domain.SignalPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warnw("bad signal payload", "error", err)
			return
		}
		c.handler.OnSignal(p.From, p.Data)

	case domain.EventError:
		var p domain.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			c.logger.Warnw("relay reported error", "message", p.Message)
		}

	default:
		c.logger.Debugw("unhandled event", "type", msg.Type)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.logger.Debugw("ping failed", "error", err)
				}
				return
			}
		}
	}
}
