package storage

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	MessagePrefix = "msg:"
	indexPrefix   = "idx:msg:"
	maxTxnRetries = 5
)

// MessageStore is the badger-backed authoritative store of messages and reactions.
//
// Messages are stored under "msg:{channel}:{timestamp_padded}:{uuid}" where the
// channel id is base64url encoded, so that a channel id holding ':' can never
// share a prefix with another one. "idx:msg:{uuid}" points back to that key.
// Reactions are kept inside the message value and every reaction change is a
// read-modify-write transaction, retried on conflict.
type MessageStore struct {
	db           *badger.DB
	log          *slog.Logger
	historyLimit int
	now          func() time.Time
}

// NewMessageStore returns a store serving at most historyLimit messages per
// channel, the most recent ones. Zero means no limit.
func NewMessageStore(db *badger.DB, log *slog.Logger, historyLimit int) *MessageStore {
	return &MessageStore{db: db, log: log, historyLimit: historyLimit, now: time.Now}
}

// FetchChannelMessages returns the channel history, oldest first.
// Thanks to the padded timestamp in the key, messages are naturally sorted by time.
func (s *MessageStore) FetchChannelMessages(ctx context.Context, channelID domain.ChannelID) ([]domain.Message, error) {
	var values [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := channelPrefix(channelID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Reverse iteration starts from the greatest key of the channel
		for it.Seek(append(slices.Clone(prefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if s.historyLimit > 0 && len(values) == s.historyLimit {
				s.log.Debug(fmt.Sprintf("Maximum of %d message reached", s.historyLimit), "channel_id", channelID)
				break
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch messages of %s: %w", channelID, err)
	}

	messages := make([]domain.Message, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		message, err := DecodeMessage(values[i])
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// CreateMessage persists a new message and its id index in one transaction.
func (s *MessageStore) CreateMessage(ctx context.Context, draft domain.MessageDraft) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	message := domain.Message{
		ID:          uuid.NewString(),
		ChannelID:   draft.ChannelID,
		SenderID:    draft.SenderID,
		Content:     draft.Content,
		Attachments: draft.Attachments,
		CreatedAt:   createdAt.UTC(),
		Reactions:   []domain.Reaction{},
	}
	value, err := json.Marshal(message)
	if err != nil {
		return domain.Message{}, err
	}
	key := messageKey(message)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(message.ID), key)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("create message in %s: %w", draft.ChannelID, err)
	}
	return message, nil
}

// AddReaction is the tie-breaker of record: adding a (user, type) pair that is
// already active returns the existing reaction instead of a duplicate.
func (s *MessageStore) AddReaction(ctx context.Context, messageID string, draft domain.ReactionDraft) (domain.Reaction, error) {
	var result domain.Reaction
	err := s.updateMessage(ctx, messageID, func(message *domain.Message) (bool, error) {
		if existing, found := message.FindReaction(draft.UserID, draft.ReactionType); found {
			result = existing
			return false, nil
		}
		result = domain.Reaction{
			ID:           uuid.NewString(),
			MessageID:    messageID,
			UserID:       draft.UserID,
			ReactionType: draft.ReactionType,
		}
		message.Reactions = append(message.Reactions, result)
		return true, nil
	})
	if err != nil {
		return domain.Reaction{}, err
	}
	return result, nil
}

// RemoveReaction removes the reaction only if it belongs to userID with reactionType.
// An empty reactionID matches by (user, type).
func (s *MessageStore) RemoveReaction(ctx context.Context, messageID, reactionID, userID, reactionType string) error {
	return s.updateMessage(ctx, messageID, func(message *domain.Message) (bool, error) {
		_, index, found := lo.FindIndexOf(message.Reactions, func(r domain.Reaction) bool {
			return (reactionID == "" || r.ID == reactionID) && r.Matches(userID, reactionType)
		})
		if !found {
			return false, fmt.Errorf("reaction %s on message %s: %w", reactionID, messageID, errors.ErrReactionNotFound)
		}
		message.Reactions = slices.Delete(message.Reactions, index, index+1)
		return true, nil
	})
}

// updateMessage runs mutate inside a read-write transaction and retries on conflict.
// mutate reports whether the message must be written back.
func (s *MessageStore) updateMessage(ctx context.Context, messageID string, mutate func(*domain.Message) (bool, error)) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			key, message, err := s.load(txn, messageID)
			if err != nil {
				return err
			}
			changed, err := mutate(&message)
			if err != nil || !changed {
				return err
			}
			value, err := json.Marshal(message)
			if err != nil {
				return err
			}
			return txn.Set(key, value)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("Transaction conflict, retrying", "message_id", messageID, "attempt", attempt+1)
	}
	return err
}

func (s *MessageStore) load(txn *badger.Txn, messageID string) ([]byte, domain.Message, error) {
	item, err := txn.Get(indexKey(messageID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.Message{}, fmt.Errorf("message %s: %w", messageID, errors.ErrMessageNotFound)
	}
	if err != nil {
		return nil, domain.Message{}, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, domain.Message{}, err
	}
	item, err = txn.Get(key)
	if err != nil {
		return nil, domain.Message{}, fmt.Errorf("message %s: %w", messageID, err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, domain.Message{}, err
	}
	message, err := DecodeMessage(value)
	return key, message, err
}

// DecodeMessage reads a value stored under MessagePrefix.
func DecodeMessage(value []byte) (domain.Message, error) {
	var message domain.Message
	if err := json.Unmarshal(value, &message); err != nil {
		return domain.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return message, nil
}

// DecodeChannel returns the channel id encoded in a message key.
func DecodeChannel(key []byte) (domain.ChannelID, error) {
	rest, ok := strings.CutPrefix(string(key), MessagePrefix)
	if !ok {
		return "", fmt.Errorf("not a message key: %q", key)
	}
	encoded, _, _ := strings.Cut(rest, ":")
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return domain.ChannelID(raw), nil
}

func channelPrefix(channelID domain.ChannelID) []byte {
	return []byte(MessagePrefix + base64.RawURLEncoding.EncodeToString([]byte(channelID)) + ":")
}

// messageKey uses 19-digit zero padding for chronological sorting and the
// uuid to tell apart two messages created at the same nanosecond.
func messageKey(message domain.Message) []byte {
	return fmt.Appendf(channelPrefix(message.ChannelID), "%019d:%s", message.CreatedAt.UnixNano(), message.ID)
}

func indexKey(messageID string) []byte {
	return []byte(indexPrefix + messageID)
}
