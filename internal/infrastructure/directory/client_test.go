package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"streamcast/pkg/circuitbreaker"
	"streamcast/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastRetry() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestCreateStreamPostsMetadata(t *testing.T) {
	var got createStreamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/streams", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL: srv.URL,
		Retry:   fastRetry(),
		Breaker: circuitbreaker.DefaultConfig(),
	}, zap.NewNop().Sugar())

	err := c.CreateStream(context.Background(), "room-1", "alice", "morning show", "webcam", 0)
	require.NoError(t, err)
	assert.Equal(t, "room-1", got.RoomID)
	assert.Equal(t, "alice", got.StreamerName)
}

func TestEndStreamHitsEndEndpoint(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL: srv.URL,
		Retry:   fastRetry(),
		Breaker: circuitbreaker.DefaultConfig(),
	}, zap.NewNop().Sugar())

	require.NoError(t, c.EndStream(context.Background(), "room-7"))
	assert.Equal(t, "/api/v1/streams/room-7/end", path.Load())
}

func TestTransientFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL: srv.URL,
		Retry:   fastRetry(),
		Breaker: circuitbreaker.DefaultConfig(),
	}, zap.NewNop().Sugar())

	require.NoError(t, c.EndStream(context.Background(), "room-1"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL: srv.URL,
		Retry:   retry.Config{Enabled: false},
		Breaker: circuitbreaker.Config{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
			MaxProbes:        1,
		},
	}, zap.NewNop().Sugar())

	for i := 0; i < 2; i++ {
		require.Error(t, c.EndStream(context.Background(), "room-1"))
	}

	// Circuit is open now; the request never reaches the server.
	err := c.EndStream(context.Background(), "room-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}
