package services

import (
	"chat-hub/cache"
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/moderation"
	"chat-hub/runtime"
	"context"
	"fmt"
	"log/slog"
	"time"
)

type IChatService interface {
	Connect(identity domain.Identity, transport contract.Transport) *runtime.Session
	Disconnect(ctx context.Context, s *runtime.Session)
	Join(ctx context.Context, s *runtime.Session, channelID domain.ChannelID) error
	Leave(ctx context.Context, s *runtime.Session, channelID domain.ChannelID) error
	SendMessage(ctx context.Context, s *runtime.Session, cmd domain.SendMessageCommand) error
	Typing(ctx context.Context, s *runtime.Session, cmd domain.TypingCommand) error
	Refresh(ctx context.Context, s *runtime.Session, channelID domain.ChannelID) error
	BroadcastTest(ctx context.Context, s *runtime.Session, message string) error
}

// ChatService turns validated commands into registry, cache and store
// mutations, then asks the Router to fan out the results.
// Every returned error is meant for the initiating session only.
type ChatService struct {
	log          *slog.Logger
	registry     *runtime.Registry
	router       *runtime.Router
	cache        *cache.HistoryCache
	store        contract.MessageStore
	moderator    *moderation.Moderator
	storeTimeout time.Duration
	now          func() time.Time
}

// NewChatService builds the service. A nil moderator disables censoring,
// a zero storeTimeout leaves store calls bounded by the caller context only.
func NewChatService(
	log *slog.Logger,
	registry *runtime.Registry,
	router *runtime.Router,
	cache *cache.HistoryCache,
	store contract.MessageStore,
	moderator *moderation.Moderator,
	storeTimeout time.Duration,
) *ChatService {
	return &ChatService{
		log:          log,
		registry:     registry,
		router:       router,
		cache:        cache,
		store:        store,
		moderator:    moderator,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// Connect registers a session for an authenticated identity.
func (s *ChatService) Connect(identity domain.Identity, transport contract.Transport) *runtime.Session {
	session := s.registry.Register(identity, transport)
	s.log.Debug("Session registered", "session_id", session.ID, "user_id", identity.ID)
	return session
}

// Disconnect unregisters the session and announces every departure it causes.
func (s *ChatService) Disconnect(ctx context.Context, session *runtime.Session) {
	departures := s.registry.Unregister(session.ID)
	for _, d := range departures {
		s.announceDeparture(ctx, d)
	}
	s.log.Debug("Session unregistered",
		"session_id", session.ID,
		"user_id", session.Identity.ID,
		"channels", len(departures))
}

// Join makes the session a member of the channel and pushes the channel
// presence and history to it. The history is read before the membership
// changes, so a store failure leaves the session exactly where it was.
func (s *ChatService) Join(ctx context.Context, session *runtime.Session, channelID domain.ChannelID) error {
	messages, err := s.history(ctx, channelID)
	if err != nil {
		return err
	}

	result, err := s.registry.Join(session.ID, channelID)
	if err != nil {
		return err
	}
	for _, d := range result.Left {
		s.announceDeparture(ctx, d)
	}

	if result.IdentityJoined {
		s.router.ToChannel(ctx, channelID, event.New(event.UserJoined, event.PresencePayload{
			ChannelID: channelID,
			User:      session.Identity.User(),
			Timestamp: s.now().UTC(),
		}), session.ID)
	}
	s.log.Debug("Channel joined", "session_id", session.ID, "channel_id", channelID, "first_join", result.Joined)

	// Messages appended while the membership was changing are already in the live entry.
	if fresh, err := s.history(ctx, channelID); err == nil {
		messages = fresh
	}

	s.reply(ctx, session, event.New(event.ChannelJoined, event.ChannelJoinedPayload{
		ChannelID:   channelID,
		ActiveUsers: s.registry.MembersOf(channelID),
	}))
	s.reply(ctx, session, event.New(event.ChannelHistory, event.ChannelHistoryPayload{
		ChannelID: channelID,
		Messages:  messages,
	}))
	return nil
}

// Leave removes the session from the channel. Leaving a channel the session
// never joined is a validation error and changes nothing.
func (s *ChatService) Leave(ctx context.Context, session *runtime.Session, channelID domain.ChannelID) error {
	departure, ok := s.registry.Leave(session.ID, channelID)
	if !ok {
		return errors.Validation(fmt.Errorf("leave %s: %w", channelID, errors.ErrNotChannelMember))
	}
	s.announceDeparture(ctx, departure)
	return nil
}

// SendMessage persists the message, appends it to the live history and
// broadcasts it to the whole channel, sender included. The sender also
// receives a delivery acknowledgement.
func (s *ChatService) SendMessage(ctx context.Context, session *runtime.Session, cmd domain.SendMessageCommand) error {
	content := s.censor(session, cmd.ChannelID, cmd.Content)

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	message, err := s.store.CreateMessage(storeCtx, domain.MessageDraft{
		ChannelID:   cmd.ChannelID,
		SenderID:    session.Identity.ID,
		Content:     content,
		Attachments: cmd.Attachments,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		s.log.Error("Message creation failed", "channel_id", cmd.ChannelID, "user_id", session.Identity.ID, "error", err)
		return errors.Collaborator(fmt.Errorf("create message: %w", err))
	}

	s.cache.Append(cmd.ChannelID, message)
	s.router.ToChannel(ctx, cmd.ChannelID, event.New(event.MessagePosted, message), "")
	s.reply(ctx, session, event.New(event.MessageSent, event.MessageSentPayload{
		MessageID: message.ID,
		Status:    event.StatusDelivered,
		Timestamp: s.now().UTC(),
	}))
	return nil
}

// Typing is ephemeral: broadcast to the channel except the sender, no state change.
func (s *ChatService) Typing(ctx context.Context, session *runtime.Session, cmd domain.TypingCommand) error {
	s.router.ToChannel(ctx, cmd.ChannelID, event.New(event.UserTyping, event.UserTypingPayload{
		ChannelID: cmd.ChannelID,
		User:      session.Identity.User(),
		IsTyping:  *cmd.IsTyping,
		Timestamp: s.now().UTC(),
	}), session.ID)
	return nil
}

// Refresh drops the cached history and pushes a fresh copy to the session.
func (s *ChatService) Refresh(ctx context.Context, session *runtime.Session, channelID domain.ChannelID) error {
	s.cache.Invalidate(channelID)
	messages, err := s.history(ctx, channelID)
	if err != nil {
		return err
	}
	s.reply(ctx, session, event.New(event.ChannelHistory, event.ChannelHistoryPayload{
		ChannelID: channelID,
		Messages:  messages,
	}))
	return nil
}

// BroadcastTest reaches every registered session, joined or not.
func (s *ChatService) BroadcastTest(ctx context.Context, session *runtime.Session, message string) error {
	delivered := s.router.ToAll(ctx, event.New(event.TestEvent, event.TestEventPayload{
		Message:   message,
		From:      session.Identity.User(),
		Timestamp: s.now().UTC(),
	}))
	s.log.Info("Test event broadcast", "user_id", session.Identity.ID, "delivered", delivered)
	return nil
}

func (s *ChatService) history(ctx context.Context, channelID domain.ChannelID) ([]domain.Message, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	messages, err := s.cache.Get(storeCtx, channelID)
	if err != nil {
		s.log.Error("History fetch failed", "channel_id", channelID, "error", err)
		return nil, errors.Collaborator(err)
	}
	return messages, nil
}

func (s *ChatService) announceDeparture(ctx context.Context, d runtime.Departure) {
	s.log.Debug("Channel left", "session_id", d.SessionID, "channel_id", d.ChannelID, "last_session", d.IdentityLeft)
	if !d.IdentityLeft {
		return
	}
	s.router.ToChannel(ctx, d.ChannelID, event.New(event.UserLeft, event.PresencePayload{
		ChannelID: d.ChannelID,
		User:      d.User,
		Timestamp: s.now().UTC(),
	}), d.SessionID)
}

func (s *ChatService) censor(session *runtime.Session, channelID domain.ChannelID, content string) string {
	if s.moderator == nil || content == "" {
		return content
	}
	sanitized, words := s.moderator.Censor(content)
	if len(words) > 0 {
		s.log.Info("Message censored",
			"channel_id", channelID,
			"user_id", session.Identity.ID,
			"lang", s.moderator.Language(content),
			"count", len(words))
	}
	return sanitized
}

// reply sends a caller-directed event. A delivery failure is logged, never returned.
func (s *ChatService) reply(ctx context.Context, session *runtime.Session, env event.Envelope) {
	if err := s.router.ToSession(ctx, session, env); err != nil {
		s.log.Warn("Reply delivery failed", "session_id", session.ID, "event", env.Event, "error", err)
	}
}

func (s *ChatService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.storeTimeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
