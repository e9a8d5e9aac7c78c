package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"streamcast/internal/core/domain"
	"streamcast/pkg/circuitbreaker"
	"streamcast/pkg/retry"

	"go.uber.org/zap"
)

// Client writes broadcast metadata to the stream directory service. The
// directory is informational: every failure here is logged and absorbed,
// a room works the same whether or not the directory heard about it.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
	logger  *zap.SugaredLogger
}

type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	Retry          retry.Config
	Breaker        circuitbreaker.Config
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	breaker := circuitbreaker.New(cfg.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("directory circuit state changed", "from", from.String(), "to", to.String())
	})

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		retry:   cfg.Retry,
		logger:  logger,
	}
}

type createStreamRequest struct {
	RoomID       string `json:"room_id"`
	StreamerName string `json:"streamer_name"`
	Title        string `json:"title"`
	Kind         string `json:"kind"`
	Price        int    `json:"price"`
}

// CreateStream registers a broadcast in the directory.
func (c *Client) CreateStream(ctx context.Context, roomID domain.RoomID, streamerName, title, kind string, price int) error {
	body, err := json.Marshal(createStreamRequest{
		RoomID:       string(roomID),
		StreamerName: streamerName,
		Title:        title,
		Kind:         kind,
		Price:        price,
	})
	if err != nil {
		return fmt.Errorf("encode stream: %w", err)
	}

	return c.breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, c.retry, func() error {
			return c.post(ctx, c.baseURL+"/api/v1/streams", body)
		})
	})
}

// EndStream marks a broadcast as finished.
func (c *Client) EndStream(ctx context.Context, roomID domain.RoomID) error {
	url := fmt.Sprintf("%s/api/v1/streams/%s/end", c.baseURL, roomID)
	return c.breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, c.retry, func() error {
			return c.post(ctx, url, nil)
		})
	})
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("directory returned %d", resp.StatusCode)
	}
	return nil
}
