package websocket

import (
	"chat-hub/dispatcher"
	"chat-hub/errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type Config struct {
	MaxMessageSize    int64
	SendBufferSize    int
	RateLimitBurst    int
	RateLimitInterval time.Duration
	AllowedOrigins    []string
}

// Handler authenticates a connection attempt, upgrades it and runs its pumps.
// The credential is read from the Authorization header, or the "token" query
// parameter for browsers which cannot set headers on a websocket.
type Handler struct {
	log        *slog.Logger
	dispatcher *dispatcher.Dispatcher
	config     Config
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewHandler(log *slog.Logger, d *dispatcher.Dispatcher, config Config) *Handler {
	origins := newOriginPolicy(config.AllowedOrigins, log)
	return &Handler{
		log:        log,
		dispatcher: d,
		config:     config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeHTTP blocks for the lifetime of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	conn := h.dispatcher.NewConnection()
	identity, err := conn.Authenticate(ctx, credentialFrom(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request
		h.log.Info("Websocket upgrade failed", "user_id", identity.ID, "error", err)
		conn.Close(ctx)
		return
	}

	client := NewClient(ws, h.log, r.RemoteAddr, h.config)
	session, err := conn.Activate(client)
	if err != nil {
		h.log.Warn("Connection activation failed", "user_id", identity.ID, "error", err)
		client.Stop()
		_ = ws.Close()
		return
	}
	h.track(client)
	defer h.untrack(client)
	h.log.Info("Session connected", "session_id", session.ID, "user_id", identity.ID, "addr", r.RemoteAddr)

	go client.writePump()
	client.readPump(ctx, conn)

	conn.Close(ctx)
	h.log.Info("Session disconnected", "session_id", session.ID, "user_id", identity.ID)
}

// Shutdown stops every live client. Hijacked connections are not closed by http.Server.Shutdown.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Stop()
	}
	h.log.Info("Websocket clients stopped", "count", len(h.clients))
}

func (h *Handler) track(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Handler) untrack(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func credentialFrom(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return header
	}
	return r.URL.Query().Get("token")
}

// NewServer creates an HTTP server exposing the handler on /ws.
func NewServer(address string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	return &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, syscall.EPIPE) ||
		strings.Contains(err.Error(), "broken pipe")
}
