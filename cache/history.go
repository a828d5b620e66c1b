// Package cache keeps short-lived shadow copies of channel histories in front
// of the MessageStore.
//
// The cache is an optimization layer, never a source of truth: an entry may be
// stale relative to mutations made elsewhere until it expires or is refreshed.
// Mutations initiated by this process are applied to live entries right away.
package cache

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 5 * time.Minute

// entry is a complete snapshot of one channel history.
type entry struct {
	messages  []domain.Message
	expiresAt time.Time
	timer     *time.Timer
}

// slot tracks a channel known to the cache. It outlives its entry while a
// fetch is in flight so that the version can still be compared.
type slot struct {
	entry    *entry
	version  uint64
	inflight int
}

// HistoryCache is a read-through, time-bounded cache of channel histories.
//
// Every helper that reads and then replaces an entry does so under one lock
// acquisition, with no store call in between. A fetch whose channel was
// mutated or invalidated while it was in flight is returned to its callers
// but not installed, so a stale snapshot never overwrites local knowledge.
type HistoryCache struct {
	mu    sync.Mutex
	slots map[domain.ChannelID]*slot
	store contract.MessageStore
	ttl   time.Duration
	group singleflight.Group
	log   *slog.Logger
	now   func() time.Time
}

func NewHistoryCache(store contract.MessageStore, ttl time.Duration, log *slog.Logger) *HistoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &HistoryCache{
		slots: make(map[domain.ChannelID]*slot),
		store: store,
		ttl:   ttl,
		log:   log,
		now:   time.Now,
	}
}

// Get returns the live snapshot of the channel or fetches it from the store.
// Concurrent misses for the same channel share a single store call.
func (c *HistoryCache) Get(ctx context.Context, channelID domain.ChannelID) ([]domain.Message, error) {
	c.mu.Lock()
	s := c.slots[channelID]
	if s != nil && c.isLive(s.entry) {
		messages := cloneMessages(s.entry.messages)
		c.mu.Unlock()
		return messages, nil
	}
	if s == nil {
		s = &slot{}
		c.slots[channelID] = s
	}
	version := s.version
	s.inflight++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		s.inflight--
		c.releaseLocked(channelID, s)
		c.mu.Unlock()
	}()

	key := fmt.Sprintf("%s#%d", channelID, version)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetch(ctx, channelID, version)
	})
	if err != nil {
		return nil, err
	}
	return cloneMessages(v.([]domain.Message)), nil
}

func (c *HistoryCache) fetch(ctx context.Context, channelID domain.ChannelID, version uint64) ([]domain.Message, error) {
	// A caller that queued behind a completed fetch of the same version reuses its result.
	c.mu.Lock()
	if s, ok := c.slots[channelID]; ok && s.version == version && c.isLive(s.entry) {
		messages := s.entry.messages
		c.mu.Unlock()
		return messages, nil
	}
	c.mu.Unlock()

	messages, err := c.store.FetchChannelMessages(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("fetch history of channel %s: %w", channelID, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[channelID]
	if !ok || s.version != version {
		c.log.Debug("Channel changed during fetch, snapshot not cached", "channel_id", channelID)
		return messages, nil
	}
	c.installLocked(channelID, s, cloneMessages(messages))
	return messages, nil
}

// installLocked replaces the entry of the slot and schedules its expiry.
func (c *HistoryCache) installLocked(channelID domain.ChannelID, s *slot, messages []domain.Message) {
	if s.entry != nil {
		s.entry.timer.Stop()
	}
	e := &entry{messages: messages, expiresAt: c.now().Add(c.ttl)}
	e.timer = time.AfterFunc(c.ttl, func() { c.expire(channelID, e) })
	s.entry = e
}

// expire runs when the timer scheduled at insertion fires. It only deletes the
// entry it was scheduled for, never a newer one installed after an invalidation.
func (c *HistoryCache) expire(channelID domain.ChannelID, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[channelID]
	if !ok || s.entry != e {
		return
	}
	s.entry = nil
	c.releaseLocked(channelID, s)
	c.log.Debug("History entry expired", "channel_id", channelID)
}

// Append adds a message to the live entry without touching its expiry.
// Without a live entry it does nothing: the next Get reads it from the store.
func (c *HistoryCache) Append(channelID domain.ChannelID, message domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[channelID]
	if !ok {
		return
	}
	s.version++
	if !c.isLive(s.entry) {
		return
	}
	message = message.Clone()
	_, index, found := lo.FindIndexOf(s.entry.messages, func(m domain.Message) bool {
		return m.ID == message.ID
	})
	if found {
		s.entry.messages[index] = message
		return
	}
	s.entry.messages = append(s.entry.messages, message)
}

// ApplyReaction replaces the reaction list of one cached message according to delta.
// It does nothing without a live entry or when the message is not in the snapshot.
func (c *HistoryCache) ApplyReaction(channelID domain.ChannelID, messageID string, delta domain.ReactionDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[channelID]
	if !ok {
		return
	}
	s.version++
	if !c.isLive(s.entry) {
		return
	}
	_, index, found := lo.FindIndexOf(s.entry.messages, func(m domain.Message) bool {
		return m.ID == messageID
	})
	if !found {
		return
	}
	s.entry.messages[index].Reactions = s.entry.messages[index].Apply(delta)
}

// FindReaction looks the reaction of userID with reactionType up in the live
// snapshot only. It never calls the store.
func (c *HistoryCache) FindReaction(channelID domain.ChannelID, messageID, userID, reactionType string) (domain.Reaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[channelID]
	if !ok || !c.isLive(s.entry) {
		return domain.Reaction{}, false
	}
	message, found := lo.Find(s.entry.messages, func(m domain.Message) bool {
		return m.ID == messageID
	})
	if !found {
		return domain.Reaction{}, false
	}
	return message.FindReaction(userID, reactionType)
}

// Invalidate drops the entry immediately and cancels its expiry timer.
// A fetch in flight for the channel will not be installed.
func (c *HistoryCache) Invalidate(channelID domain.ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[channelID]
	if !ok {
		return
	}
	s.version++
	if s.entry != nil {
		s.entry.timer.Stop()
		s.entry = nil
	}
	c.releaseLocked(channelID, s)
}

// Has reports whether the channel has a live entry.
func (c *HistoryCache) Has(channelID domain.ChannelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[channelID]
	return ok && c.isLive(s.entry)
}

// Len returns the number of channels with a live entry.
func (c *HistoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.CountBy(lo.Values(c.slots), func(s *slot) bool { return c.isLive(s.entry) })
}

// Close stops every pending expiry timer.
func (c *HistoryCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for channelID, s := range c.slots {
		if s.entry != nil {
			s.entry.timer.Stop()
		}
		delete(c.slots, channelID)
	}
}

func (c *HistoryCache) isLive(e *entry) bool {
	return e != nil && c.now().Before(e.expiresAt)
}

// releaseLocked forgets a slot that has neither an entry nor a fetch in flight.
func (c *HistoryCache) releaseLocked(channelID domain.ChannelID, s *slot) {
	if s.entry == nil && s.inflight == 0 && c.slots[channelID] == s {
		delete(c.slots, channelID)
	}
}

func cloneMessages(messages []domain.Message) []domain.Message {
	return lo.Map(messages, func(m domain.Message, _ int) domain.Message {
		return m.Clone()
	})
}
