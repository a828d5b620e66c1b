package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ServerWorker serves HTTP until its context is canceled, then shuts down gracefully.
// onShutdown runs before the server drains, to stop connections it cannot see
// (hijacked websockets).
type ServerWorker struct {
	log             *slog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
	onShutdown      func()
}

func NewServerWorker(log *slog.Logger, server *http.Server, shutdownTimeout time.Duration, onShutdown func()) *ServerWorker {
	return &ServerWorker{log: log, server: server, shutdownTimeout: shutdownTimeout, onShutdown: onShutdown}
}

func (w *ServerWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.server.Addr, err)
	}
	return w.Serve(ctx, listener)
}

// Serve is Run on an already bound listener.
func (w *ServerWorker) Serve(ctx context.Context, listener net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting websocket server", "address", listener.Addr().String(), "at", time.Now().UTC())
		if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("websocket server error: %w", err)
	case <-ctx.Done():
	}

	w.log.Info("Shutting down websocket server...")
	if w.onShutdown != nil {
		w.onShutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.shutdownTimeout)
	defer cancel()
	if err := w.server.Shutdown(shutdownCtx); err != nil {
		w.log.Warn("Websocket server shutdown error", "error", err)
	}
	w.log.Info("Websocket server stopped")
	return nil
}
