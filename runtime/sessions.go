package runtime

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type SessionID string

// Session is one authenticated live connection.
// The transport is not owned by the session, it is only used to push events.
type Session struct {
	ID          SessionID
	Identity    domain.Identity
	ConnectedAt time.Time
	transport   contract.Transport
	joined      map[domain.ChannelID]struct{} // guarded by Registry.mu
}

func (s *Session) Send(ctx context.Context, env event.Envelope) error {
	return s.transport.Send(ctx, env)
}

// Departure reports that a session stopped being a member of a channel.
// IdentityLeft is true when no other session of the same identity remains in it.
type Departure struct {
	ChannelID    domain.ChannelID
	SessionID    SessionID
	User         domain.User
	IdentityLeft bool
}

// Register creates a session for an authenticated identity.
// Several sessions of the same identity are tracked independently.
func (r *Registry) Register(identity domain.Identity, transport contract.Transport) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{
		ID:          SessionID(uuid.NewString()),
		Identity:    identity,
		ConnectedAt: r.now(),
		transport:   transport,
		joined:      make(map[domain.ChannelID]struct{}),
	}
	r.sessions[s.ID] = s
	if _, ok := r.byIdentity[identity.ID]; !ok {
		r.byIdentity[identity.ID] = make(map[SessionID]*Session)
	}
	r.byIdentity[identity.ID][s.ID] = s
	return s
}

// Unregister removes the session and every membership it held, in one step.
// It returns one Departure per channel the session had joined, ordered by channel.
// Unknown sessions are ignored.
func (r *Registry) Unregister(id SessionID) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}

	var departures []Departure
	for _, channelID := range sortedChannels(s.joined) {
		departures = append(departures, r.leaveLocked(s, channelID))
	}

	delete(r.sessions, id)
	if owned, ok := r.byIdentity[s.Identity.ID]; ok {
		delete(owned, id)
		// If no session is left for this identity, remove the entry entirely
		if len(owned) == 0 {
			delete(r.byIdentity, s.Identity.ID)
		}
	}
	return departures
}

// Lookup returns the most recently connected session of an identity.
func (r *Registry) Lookup(identityID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned, ok := r.byIdentity[identityID]
	if !ok || len(owned) == 0 {
		return nil, false
	}
	return lo.MaxBy(lo.Values(owned), func(a, b *Session) bool {
		return a.ConnectedAt.After(b.ConnectedAt)
	}), true
}

// SessionsOf returns every live session of an identity.
func (r *Registry) SessionsOf(identityID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedSessions(r.byIdentity[identityID])
}

// Get resolves a session by its id.
func (r *Registry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns a snapshot of every live session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedSessions(r.sessions)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func sortedSessions(m map[SessionID]*Session) []*Session {
	sessions := lo.Values(m)
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ConnectedAt.Equal(sessions[j].ConnectedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions
}

func sortedChannels(m map[domain.ChannelID]struct{}) []domain.ChannelID {
	channels := lo.Keys(m)
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}
