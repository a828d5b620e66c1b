package websocket

import (
	"chat-hub/domain/event"
	"chat-hub/errors"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestClient_Send_Never_Blocks(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	client := NewClient(nil, logs.GetLoggerFromLevel(slog.LevelDebug), "test", Config{SendBufferSize: 1})
	env := event.New(event.TestEvent, event.TestEventPayload{Message: "ping"})

	// Given a buffer of one event
	req.NoError(client.Send(ctx, env))

	// When the client does not drain it
	err := client.Send(ctx, env)

	// Then the event is dropped as a delivery failure
	req.ErrorIs(err, errors.ErrSinkFull)
	req.Equal(errors.KindDelivery, errors.KindOf(err))
	req.Len(client.send, 1)
}

func TestClient_Send_After_Stop(t *testing.T) {
	req := require.New(t)
	client := NewClient(nil, logs.GetLoggerFromLevel(slog.LevelDebug), "test", Config{SendBufferSize: 4})

	client.Stop()
	client.Stop()

	err := client.Send(context.Background(), event.New(event.TestEvent, nil))
	req.ErrorIs(err, errors.ErrTransportStopped)
	req.Equal(errors.KindDelivery, errors.KindOf(err))
}

func TestClient_Send_Canceled_Context(t *testing.T) {
	req := require.New(t)
	client := NewClient(nil, logs.GetLoggerFromLevel(slog.LevelDebug), "test", Config{SendBufferSize: 4})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Send(ctx, event.New(event.TestEvent, nil))
	req.ErrorIs(err, context.Canceled)
	req.Empty(client.send)
}

func TestRateLimiter_Refill(t *testing.T) {
	req := require.New(t)
	limiter := newRateLimiter(2, time.Second)
	now := time.Now()

	// Given a full burst of two events
	req.True(limiter.AllowN(now, 1))
	req.True(limiter.AllowN(now, 1))
	req.False(limiter.AllowN(now, 1))

	// When half the interval elapses
	now = now.Add(500 * time.Millisecond)

	// Then one event is allowed again
	req.True(limiter.AllowN(now, 1))
	req.False(limiter.AllowN(now, 1))

	// Never more than the burst
	now = now.Add(time.Hour)
	req.True(limiter.AllowN(now, 1))
	req.True(limiter.AllowN(now, 1))
	req.False(limiter.AllowN(now, 1))
}

func TestRateLimiter_Defaults(t *testing.T) {
	req := require.New(t)
	limiter := newRateLimiter(0, 0)

	req.Equal(1, limiter.Burst())
	req.Equal(rate.Every(time.Second), limiter.Limit())
}

func TestEventName(t *testing.T) {
	req := require.New(t)
	req.Equal("join", eventName([]byte(`{"event":"join","data":{}}`)))
	req.Equal("", eventName([]byte(`not json`)))
}
