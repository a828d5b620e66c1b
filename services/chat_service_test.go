package services

import (
	"chat-hub/cache"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/mocks"
	"chat-hub/moderation"
	"chat-hub/runtime"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// recorder is a transport keeping every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []event.Envelope
}

func (r *recorder) Send(_ context.Context, env event.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
	return nil
}

func (r *recorder) all() []event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Envelope(nil), r.events...)
}

func (r *recorder) names() []event.Name {
	return lo.Map(r.all(), func(e event.Envelope, _ int) event.Name { return e.Event })
}

func (r *recorder) ofType(name event.Name) []event.Envelope {
	return lo.Filter(r.all(), func(e event.Envelope, _ int) bool { return e.Event == name })
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	store     *mocks.MockMessageStore
	registry  *runtime.Registry
	cache     *cache.HistoryCache
	chat      *ChatService
	reactions *ReactionService
}

func newHarness(t *testing.T, policy runtime.MembershipPolicy, moderator *moderation.Moderator) harness {
	return newHarnessWithTTL(t, policy, moderator, time.Minute)
}

func newHarnessWithTTL(t *testing.T, policy runtime.MembershipPolicy, moderator *moderation.Moderator, ttl time.Duration) harness {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	registry := runtime.NewRegistry(policy)
	router := runtime.NewRouter(log, registry)
	history := cache.NewHistoryCache(store, ttl, log)
	t.Cleanup(history.Close)
	return harness{
		store:     store,
		registry:  registry,
		cache:     history,
		chat:      NewChatService(log, registry, router, history, store, moderator, time.Second),
		reactions: NewReactionService(log, router, history, store, time.Second),
	}
}

func (h harness) connect(id string) (*runtime.Session, *recorder) {
	rec := &recorder{}
	return h.chat.Connect(domain.Identity{ID: id, DisplayName: id}, rec), rec
}

func TestChatService_Join_Scenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)

	// Given an empty store, fetched once for the whole test
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), domain.ChannelID("c1")).Return(nil, nil).Times(1)
	a, recA := h.connect("A")
	b, recB := h.connect("B")

	// When A joins c1
	req.NoError(h.chat.Join(ctx, a, "c1"))

	// Then A receives its presence and the empty history
	req.Equal([]event.Name{event.ChannelJoined, event.ChannelHistory}, recA.names())
	events := recA.all()
	req.Equal(event.ChannelJoinedPayload{ChannelID: "c1", ActiveUsers: []string{"A"}}, events[0].Data)
	req.Equal(event.ChannelHistoryPayload{ChannelID: "c1", Messages: []domain.Message{}}, events[1].Data)
	recA.reset()

	// When B joins c1
	req.NoError(h.chat.Join(ctx, b, "c1"))

	// Then A is told, B is not told about itself
	joined := recA.ofType(event.UserJoined)
	req.Len(joined, 1)
	presence := joined[0].Data.(event.PresencePayload)
	req.Equal(domain.ChannelID("c1"), presence.ChannelID)
	req.Equal("B", presence.User.ID)
	req.Empty(recB.ofType(event.UserJoined))
	req.Equal(event.ChannelJoinedPayload{ChannelID: "c1", ActiveUsers: []string{"A", "B"}},
		recB.ofType(event.ChannelJoined)[0].Data)
}

func TestChatService_Join_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)
	a, _ := h.connect("A")
	b, recB := h.connect("B")
	req.NoError(h.chat.Join(ctx, b, "c1"))
	recB.reset()

	req.NoError(h.chat.Join(ctx, a, "c1"))
	req.NoError(h.chat.Join(ctx, a, "c1"))

	req.Len(recB.ofType(event.UserJoined), 1)
	req.Equal([]string{"A", "B"}, h.registry.MembersOf("c1"))
}

func TestChatService_Join_Store_Failure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("timeout")).Times(1)
	a, recA := h.connect("A")

	err := h.chat.Join(ctx, a, "c1")

	// Then the session is left exactly where it was
	req.Error(err)
	req.Equal(errors.KindCollaborator, errors.KindOf(err))
	req.False(h.registry.IsJoined(a.ID, "c1"))
	req.False(h.registry.HasChannel("c1"))
	req.Empty(recA.all())
}

func TestChatService_Join_Exclusive_Leaves_Previous_Channels(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Exclusive, nil)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
	a, _ := h.connect("A")
	b, recB := h.connect("B")
	req.NoError(h.chat.Join(ctx, b, "c1"))
	req.NoError(h.chat.Join(ctx, a, "c1"))
	recB.reset()

	// When A joins c2
	req.NoError(h.chat.Join(ctx, a, "c2"))

	// Then B, still in c1, sees A leave
	left := recB.ofType(event.UserLeft)
	req.Len(left, 1)
	req.Equal(domain.ChannelID("c1"), left[0].Data.(event.PresencePayload).ChannelID)
	req.Equal([]domain.ChannelID{"c2"}, h.registry.ChannelsOf(a.ID))
}

func TestChatService_Leave(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)
	a, recA := h.connect("A")
	b, recB := h.connect("B")
	req.NoError(h.chat.Join(ctx, a, "c1"))
	req.NoError(h.chat.Join(ctx, b, "c1"))
	recA.reset()
	recB.reset()

	// When B leaves
	req.NoError(h.chat.Leave(ctx, b, "c1"))

	// Then A is told, B gets nothing
	req.Len(recA.ofType(event.UserLeft), 1)
	req.Empty(recB.all())
	req.Equal([]string{"A"}, h.registry.MembersOf("c1"))

	// When B leaves again
	err := h.chat.Leave(ctx, b, "c1")

	// Then it is a validation error without broadcast
	req.ErrorIs(err, errors.ErrNotChannelMember)
	req.Equal(errors.KindValidation, errors.KindOf(err))
	req.Len(recA.ofType(event.UserLeft), 1)
}

func TestChatService_Disconnect_Announces_Once_Per_Joined_Channel(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
	a, recA := h.connect("A")
	b, _ := h.connect("B")
	_, recD := h.connect("D")

	req.NoError(h.chat.Join(ctx, a, "c1"))
	req.NoError(h.chat.Join(ctx, b, "c1"))
	req.NoError(h.chat.Join(ctx, b, "c2"))
	recA.reset()

	// When B disconnects while in c1 and c2
	h.chat.Disconnect(ctx, b)

	// Then A receives exactly one user-left, for c1
	left := recA.ofType(event.UserLeft)
	req.Len(left, 1)
	req.Equal(domain.ChannelID("c1"), left[0].Data.(event.PresencePayload).ChannelID)
	// And nobody outside c2 hears about c2
	req.Empty(recD.all())
	// And the emptied c2 no longer exists
	req.False(h.registry.HasChannel("c2"))
	req.Equal(2, h.registry.Len())
}

func TestChatService_Disconnect_Other_Session_Of_Same_Identity_Remains(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)
	a, recA := h.connect("A")
	phone, _ := h.connect("B")
	laptop, _ := h.connect("B")
	req.NoError(h.chat.Join(ctx, a, "c1"))
	req.NoError(h.chat.Join(ctx, phone, "c1"))
	req.NoError(h.chat.Join(ctx, laptop, "c1"))

	// Then the second session of B is not announced
	req.Len(recA.ofType(event.UserJoined), 1)

	// When one of the two sessions of B disconnects
	h.chat.Disconnect(ctx, phone)

	// Then B is still a member and nothing is announced
	req.Empty(recA.ofType(event.UserLeft))
	req.Equal([]string{"A", "B"}, h.registry.MembersOf("c1"))

	h.chat.Disconnect(ctx, laptop)
	req.Len(recA.ofType(event.UserLeft), 1)
}

func TestChatService_SendMessage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), domain.ChannelID("c1")).Return(nil, nil).Times(1)
	h.store.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, draft domain.MessageDraft) (domain.Message, error) {
			return domain.Message{
				ID:        "m1",
				ChannelID: draft.ChannelID,
				SenderID:  draft.SenderID,
				Content:   draft.Content,
				CreatedAt: draft.CreatedAt,
			}, nil
		}).Times(1)

	a, recA := h.connect("A")
	b, recB := h.connect("B")
	req.NoError(h.chat.Join(ctx, a, "c1"))
	req.NoError(h.chat.Join(ctx, b, "c1"))
	recA.reset()
	recB.reset()

	// When A sends "hi"
	req.NoError(h.chat.SendMessage(ctx, a, domain.SendMessageCommand{ChannelID: "c1", Content: "hi"}))

	// Then both receive the message
	for _, rec := range []*recorder{recA, recB} {
		posted := rec.ofType(event.MessagePosted)
		req.Len(posted, 1)
		message := posted[0].Data.(domain.Message)
		req.Equal("hi", message.Content)
		req.Equal("A", message.SenderID)
	}
	// And only A is acknowledged
	sent := recA.ofType(event.MessageSent)
	req.Len(sent, 1)
	req.Equal(event.StatusDelivered, sent[0].Data.(event.MessageSentPayload).Status)
	req.Equal("m1", sent[0].Data.(event.MessageSentPayload).MessageID)
	req.Empty(recB.ofType(event.MessageSent))

	// And the live history includes it without a store round-trip
	messages, err := h.cache.Get(ctx, "c1")
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("m1", messages[0].ID)
}

func TestChatService_SendMessage_Store_Failure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)
	h.store.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Return(domain.Message{}, fmt.Errorf("unavailable"))

	a, recA := h.connect("A")
	b, recB := h.connect("B")
	req.NoError(h.chat.Join(ctx, a, "c1"))
	req.NoError(h.chat.Join(ctx, b, "c1"))
	recA.reset()
	recB.reset()

	err := h.chat.SendMessage(ctx, a, domain.SendMessageCommand{ChannelID: "c1", Content: "hi"})

	req.Error(err)
	req.Equal(errors.KindCollaborator, errors.KindOf(err))
	req.Empty(recA.all())
	req.Empty(recB.all())
	messages, err := h.cache.Get(ctx, "c1")
	req.NoError(err)
	req.Empty(messages)
}

func TestChatService_SendMessage_Censored(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	moderator, err := moderation.NewModerator([]string{"badger"}, '*', logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)
	h := newHarness(t, runtime.Multiplexed, moderator)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)

	// Then the store only sees the sanitized content
	h.store.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, draft domain.MessageDraft) (domain.Message, error) {
			req.Equal("a ****** here", draft.Content)
			return domain.Message{ID: "m1", ChannelID: draft.ChannelID, SenderID: draft.SenderID, Content: draft.Content}, nil
		})

	a, _ := h.connect("A")
	req.NoError(h.chat.Join(ctx, a, "c1"))
	req.NoError(h.chat.SendMessage(ctx, a, domain.SendMessageCommand{ChannelID: "c1", Content: "a badger here"}))
}

func TestChatService_Typing_Excludes_Sender(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)
	h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)
	a, recA := h.connect("A")
	b, recB := h.connect("B")
	req.NoError(h.chat.Join(ctx, a, "c1"))
	req.NoError(h.chat.Join(ctx, b, "c1"))
	recA.reset()
	recB.reset()

	req.NoError(h.chat.Typing(ctx, a, domain.TypingCommand{ChannelID: "c1", IsTyping: lo.ToPtr(true)}))

	req.Empty(recA.all())
	typing := recB.ofType(event.UserTyping)
	req.Len(typing, 1)
	payload := typing[0].Data.(event.UserTypingPayload)
	req.True(payload.IsTyping)
	req.Equal("A", payload.User.ID)
}

func TestChatService_Refresh(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t, runtime.Multiplexed, nil)
	fresh := []domain.Message{{ID: "m9", ChannelID: "c1"}}
	gomock.InOrder(
		h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1),
		h.store.EXPECT().FetchChannelMessages(gomock.Any(), gomock.Any()).Return(fresh, nil).Times(1),
	)
	a, recA := h.connect("A")
	req.NoError(h.chat.Join(ctx, a, "c1"))
	recA.reset()

	req.NoError(h.chat.Refresh(ctx, a, "c1"))

	history := recA.ofType(event.ChannelHistory)
	req.Len(history, 1)
	req.Equal(fresh, history[0].Data.(event.ChannelHistoryPayload).Messages)
}

func TestChatService_BroadcastTest_Reaches_Every_Session(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, runtime.Multiplexed, nil)
	admin, recAdmin := h.connect("admin")
	_, recB := h.connect("B")

	req.NoError(h.chat.BroadcastTest(context.Background(), admin, "ping"))

	for _, rec := range []*recorder{recAdmin, recB} {
		events := rec.ofType(event.TestEvent)
		req.Len(events, 1)
		req.Equal("ping", events[0].Data.(event.TestEventPayload).Message)
		req.Equal("admin", events[0].Data.(event.TestEventPayload).From.ID)
	}
}
