package websocket

import (
	"chat-hub/auth"
	"chat-hub/cache"
	"chat-hub/dispatcher"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/mocks"
	"chat-hub/runtime"
	"chat-hub/services"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type frame struct {
	Event event.Name      `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type hub struct {
	server   *httptest.Server
	verifier *auth.JWTVerifier
	store    *mocks.MockMessageStore
	registry *runtime.Registry
}

func newHub(t *testing.T, config Config) hub {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	verifier := auth.NewJWTVerifier("test-secret", "chat-hub")

	registry := runtime.NewRegistry(runtime.Multiplexed)
	router := runtime.NewRouter(log, registry)
	history := cache.NewHistoryCache(store, time.Minute, log)
	t.Cleanup(history.Close)
	chat := services.NewChatService(log, registry, router, history, store, nil, time.Second)
	reactions := services.NewReactionService(log, router, history, store, time.Second)
	d := dispatcher.NewDispatcher(log, auth.NewGate(verifier, log), chat, reactions, registry, dispatcher.NewDecoder(0))

	handler := NewHandler(log, d, config)
	server := httptest.NewServer(NewServer("", handler).Handler)
	t.Cleanup(func() {
		handler.Shutdown()
		server.Close()
	})
	return hub{server: server, verifier: verifier, store: store, registry: registry}
}

func defaultConfig() Config {
	return Config{
		MaxMessageSize:    4096,
		SendBufferSize:    64,
		RateLimitBurst:    100,
		RateLimitInterval: time.Second,
	}
}

func (h hub) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
}

func (h hub) token(t *testing.T, userID string) string {
	token, err := h.verifier.GenerateToken(userID, strings.ToUpper(userID), nil, time.Hour)
	require.NoError(t, err)
	return token
}

func (h hub) dial(t *testing.T, header http.Header) (*websocket.Conn, *http.Response, error) {
	ws, resp, err := websocket.DefaultDialer.Dial(h.url(), header)
	if err == nil {
		t.Cleanup(func() { _ = ws.Close() })
	}
	return ws, resp, err
}

func (h hub) connect(t *testing.T, userID string) *websocket.Conn {
	ws, _, err := h.dial(t, http.Header{"Authorization": {"Bearer " + h.token(t, userID)}})
	require.NoError(t, err)
	return ws
}

func send(t *testing.T, ws *websocket.Conn, name string, data any) {
	raw, err := json.Marshal(map[string]any{"event": name, "data": data})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

// next reads frames until one named name arrives.
func next(t *testing.T, ws *websocket.Conn, name event.Name) frame {
	req := require.New(t)
	req.NoError(ws.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for {
		_, raw, err := ws.ReadMessage()
		req.NoError(err, "waiting for %s", name)
		var f frame
		req.NoError(json.Unmarshal(raw, &f))
		if f.Event == name {
			return f
		}
	}
}

func errorOf(t *testing.T, f frame) event.ErrorPayload {
	var payload event.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	return payload
}

func TestHandler_Rejects_Missing_Or_Invalid_Credential(t *testing.T) {
	req := require.New(t)
	h := newHub(t, defaultConfig())

	_, resp, err := h.dial(t, nil)
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = h.dial(t, http.Header{"Authorization": {"Bearer forged"}})
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	req.Zero(h.registry.Len())
}

func TestHandler_Token_Query_Parameter(t *testing.T) {
	req := require.New(t)
	h := newHub(t, defaultConfig())

	ws, _, err := websocket.DefaultDialer.Dial(h.url()+"?token="+h.token(t, "alice"), nil)
	req.NoError(err)
	defer ws.Close()

	req.Eventually(func() bool { return h.registry.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandler_Rejects_Disallowed_Origin(t *testing.T) {
	req := require.New(t)
	config := defaultConfig()
	config.AllowedOrigins = []string{"https://chat.example.com"}
	h := newHub(t, config)
	authorization := "Bearer " + h.token(t, "alice")

	_, resp, err := h.dial(t, http.Header{"Authorization": {authorization}, "Origin": {"https://evil.example.com"}})
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusForbidden, resp.StatusCode)

	_, _, err = h.dial(t, http.Header{"Authorization": {authorization}, "Origin": {"https://CHAT.example.com"}})
	req.NoError(err)
}

func TestHandler_Chat_Over_The_Wire(t *testing.T) {
	req := require.New(t)
	h := newHub(t, defaultConfig())
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), domain.ChannelID("c1")).Return([]domain.Message{}, nil).AnyTimes()
	h.store.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, draft domain.MessageDraft) (domain.Message, error) {
			return domain.Message{ID: "m1", ChannelID: draft.ChannelID, SenderID: draft.SenderID,
				Content: draft.Content, CreatedAt: draft.CreatedAt}, nil
		})

	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	// Given both users in channel c1
	send(t, alice, "join", map[string]string{"channelId": "c1"})
	next(t, alice, event.ChannelHistory)
	send(t, bob, "join", map[string]string{"channelId": "c1"})
	next(t, bob, event.ChannelHistory)
	joined := next(t, alice, event.UserJoined)
	req.Contains(string(joined.Data), `"bob"`)

	// When alice posts
	send(t, alice, "send-message", map[string]string{"channelId": "c1", "content": "hi"})

	// Then bob receives it and alice gets the acknowledgement
	var message domain.Message
	req.NoError(json.Unmarshal(next(t, bob, event.MessagePosted).Data, &message))
	req.Equal("m1", message.ID)
	req.Equal("alice", message.SenderID)
	req.Equal("hi", message.Content)
	var sent event.MessageSentPayload
	req.NoError(json.Unmarshal(next(t, alice, event.MessageSent).Data, &sent))
	req.Equal(event.StatusDelivered, sent.Status)

	// When bob disconnects, alice is told he left
	req.NoError(bob.Close())
	left := next(t, alice, event.UserLeft)
	req.Contains(string(left.Data), `"bob"`)
	req.Eventually(func() bool { return h.registry.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandler_Invalid_Event_Is_Reported_To_Sender(t *testing.T) {
	req := require.New(t)
	h := newHub(t, defaultConfig())
	alice := h.connect(t, "alice")

	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte(`{"event":`)))
	payload := errorOf(t, next(t, alice, event.Error))
	req.Equal("validation", payload.Type)

	send(t, alice, "typing", map[string]any{"channelId": "c1", "isTyping": true})
	payload = errorOf(t, next(t, alice, event.Error))
	req.Equal("typing", payload.Event)
	req.Equal("validation", payload.Type)
}

func TestHandler_Rate_Limit(t *testing.T) {
	req := require.New(t)
	config := defaultConfig()
	config.RateLimitBurst = 2
	config.RateLimitInterval = time.Hour
	h := newHub(t, config)
	alice := h.connect(t, "alice")

	// Given three frames in a row with a burst of two
	for range 3 {
		send(t, alice, "dance", map[string]string{})
	}

	// Then the first two are handled and the third one dropped
	req.Equal("validation", errorOf(t, next(t, alice, event.Error)).Type)
	req.Equal("validation", errorOf(t, next(t, alice, event.Error)).Type)
	limited := errorOf(t, next(t, alice, event.Error))
	req.Equal(event.TypeRateLimited, limited.Type)
	req.Equal("dance", limited.Event)
}

func TestHandler_Oversized_Frame_Closes_Connection(t *testing.T) {
	req := require.New(t)
	config := defaultConfig()
	config.MaxMessageSize = 64
	h := newHub(t, config)
	alice := h.connect(t, "alice")
	req.Eventually(func() bool { return h.registry.Len() == 1 }, time.Second, 10*time.Millisecond)

	send(t, alice, "send-message", map[string]string{"channelId": "c1", "content": strings.Repeat("x", 128)})

	req.Eventually(func() bool { return h.registry.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandler_Method_Not_Allowed(t *testing.T) {
	req := require.New(t)
	h := newHub(t, defaultConfig())

	resp, err := http.Post(h.server.URL+"/ws", "application/json", nil)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
}
