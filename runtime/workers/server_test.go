package workers

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerWorker_Serves_Until_Canceled(t *testing.T) {
	req := require.New(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "ok") })
	var shutdownCalled atomic.Bool
	worker := NewServerWorker(slog.Default(), &http.Server{Handler: mux}, time.Second, func() { shutdownCalled.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Serve(ctx, listener) }()

	// Given a running server
	resp, err := http.Get("http://" + listener.Addr().String() + "/ws")
	req.NoError(err)
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	_ = resp.Body.Close()
	req.Equal("ok", string(body))

	// When the context is canceled
	cancel()

	// Then the worker returns cleanly
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		req.Fail("server worker did not stop")
	}
	req.True(shutdownCalled.Load())
}

func TestServerWorker_Listen_Failure(t *testing.T) {
	req := require.New(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	defer busy.Close()

	worker := NewServerWorker(slog.Default(), &http.Server{Addr: busy.Addr().String()}, time.Second, nil)

	err = worker.Run(context.Background())
	req.Error(err)
}
