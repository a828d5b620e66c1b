package services

import (
	"chat-hub/cache"
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/runtime"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
)

type IReactionService interface {
	Toggle(ctx context.Context, s *runtime.Session, cmd domain.AddReactionCommand) (domain.ReactionAction, error)
	Remove(ctx context.Context, s *runtime.Session, cmd domain.RemoveReactionCommand) error
}

// ReactionService applies toggle semantics to reactions.
//
// The existing-reaction check reads the cached shadow copy, reloaded from the
// store when the channel entry has expired. Two concurrent toggles of the same
// user may both take the add branch. The store is the tie-breaker: whatever it
// answers is applied and broadcast, nothing is assumed.
// A failed store call changes neither the cache nor the channel.
type ReactionService struct {
	log          *slog.Logger
	router       *runtime.Router
	cache        *cache.HistoryCache
	store        contract.MessageStore
	storeTimeout time.Duration
}

func NewReactionService(
	log *slog.Logger,
	router *runtime.Router,
	cache *cache.HistoryCache,
	store contract.MessageStore,
	storeTimeout time.Duration,
) *ReactionService {
	return &ReactionService{
		log:          log,
		router:       router,
		cache:        cache,
		store:        store,
		storeTimeout: storeTimeout,
	}
}

// Toggle removes the reaction of the session identity when the shadow copy
// knows it, adds it otherwise. It returns the action that was broadcast.
func (s *ReactionService) Toggle(ctx context.Context, session *runtime.Session, cmd domain.AddReactionCommand) (domain.ReactionAction, error) {
	userID := session.Identity.ID

	existing, found, err := s.findReaction(ctx, cmd, userID)
	if err != nil {
		return "", err
	}
	if found {
		err := s.remove(ctx, cmd.ChannelID, existing)
		if err == nil {
			return domain.ReactionRemove, nil
		}
		if !errors.Is(err, errors.ErrReactionNotFound) {
			return "", err
		}
		// The store no longer knows it: the shadow was stale, drop it and add.
		s.log.Debug("Stale reaction in history, adding instead",
			"message_id", cmd.MessageID, "reaction_id", existing.ID)
		s.cache.ApplyReaction(cmd.ChannelID, cmd.MessageID, domain.ReactionDelta{
			Action:   domain.ReactionRemove,
			Reaction: existing,
		})
	}

	storeCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	reaction, err := s.store.AddReaction(storeCtx, cmd.MessageID, domain.ReactionDraft{
		UserID:       userID,
		ReactionType: cmd.ReactionType,
	})
	if err != nil {
		s.log.Error("Reaction add failed", "message_id", cmd.MessageID, "user_id", userID, "error", err)
		return "", errors.Collaborator(fmt.Errorf("add reaction: %w", err))
	}

	s.cache.ApplyReaction(cmd.ChannelID, cmd.MessageID, domain.ReactionDelta{
		Action:   domain.ReactionAdd,
		Reaction: reaction,
	})
	s.router.ToChannel(ctx, cmd.ChannelID, event.NewReactionUpdate(cmd.ChannelID, reaction, domain.ReactionAdd), "")
	return domain.ReactionAdd, nil
}

// findReaction looks the reaction up in the live snapshot, warming the
// channel history from the store first when its entry has expired.
func (s *ReactionService) findReaction(ctx context.Context, cmd domain.AddReactionCommand, userID string) (domain.Reaction, bool, error) {
	if existing, found := s.cache.FindReaction(cmd.ChannelID, cmd.MessageID, userID, cmd.ReactionType); found {
		return existing, true, nil
	}
	if s.cache.Has(cmd.ChannelID) {
		return domain.Reaction{}, false, nil
	}

	storeCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	messages, err := s.cache.Get(storeCtx, cmd.ChannelID)
	if err != nil {
		s.log.Error("History reload failed", "channel_id", cmd.ChannelID, "error", err)
		return domain.Reaction{}, false, errors.Collaborator(fmt.Errorf("load history: %w", err))
	}
	message, found := lo.Find(messages, func(m domain.Message) bool {
		return m.ID == cmd.MessageID
	})
	if !found {
		return domain.Reaction{}, false, nil
	}
	existing, found := message.FindReaction(userID, cmd.ReactionType)
	return existing, found, nil
}

// Remove deletes a reaction explicitly, bypassing toggle detection.
func (s *ReactionService) Remove(ctx context.Context, session *runtime.Session, cmd domain.RemoveReactionCommand) error {
	return s.remove(ctx, cmd.ChannelID, domain.Reaction{
		ID:           cmd.ReactionID,
		MessageID:    cmd.MessageID,
		UserID:       session.Identity.ID,
		ReactionType: cmd.ReactionType,
	})
}

func (s *ReactionService) remove(ctx context.Context, channelID domain.ChannelID, reaction domain.Reaction) error {
	storeCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	err := s.store.RemoveReaction(storeCtx, reaction.MessageID, reaction.ID, reaction.UserID, reaction.ReactionType)
	if err != nil {
		s.log.Error("Reaction removal failed",
			"message_id", reaction.MessageID,
			"reaction_id", reaction.ID,
			"user_id", reaction.UserID,
			"error", err)
		return errors.Collaborator(fmt.Errorf("remove reaction: %w", err))
	}

	s.cache.ApplyReaction(channelID, reaction.MessageID, domain.ReactionDelta{
		Action:   domain.ReactionRemove,
		Reaction: reaction,
	})
	s.router.ToChannel(ctx, channelID, event.NewReactionUpdate(channelID, reaction, domain.ReactionRemove), "")
	return nil
}
