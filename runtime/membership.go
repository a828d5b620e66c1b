package runtime

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"sort"

	"github.com/samber/lo"
)

// JoinResult describes what a join changed.
type JoinResult struct {
	// Joined is false when the session was already a member (join is idempotent).
	Joined bool
	// IdentityJoined is true when the identity was not a member through another session.
	IdentityJoined bool
	// Left holds the channels dropped by an exclusive join.
	Left []Departure
}

// Join adds the channel to the session and the identity to the channel.
// Under the Exclusive policy, every other channel of the session is left in
// the same critical section, so no broadcast can target a channel the session
// has logically left.
func (r *Registry) Join(id SessionID, channelID domain.ChannelID) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return JoinResult{}, errors.ErrSessionNotFound
	}

	var result JoinResult
	if r.policy == Exclusive {
		for _, other := range sortedChannels(s.joined) {
			if other == channelID {
				continue
			}
			result.Left = append(result.Left, r.leaveLocked(s, other))
		}
	}

	if _, already := s.joined[channelID]; already {
		return result, nil
	}

	result.Joined = true
	result.IdentityJoined = r.members[channelID][s.Identity.ID] == 0

	s.joined[channelID] = struct{}{}
	if _, ok := r.channels[channelID]; !ok {
		r.channels[channelID] = make(map[SessionID]*Session)
		r.members[channelID] = make(map[string]int)
	}
	r.channels[channelID][s.ID] = s
	r.members[channelID][s.Identity.ID]++
	return result, nil
}

// Leave removes the session from the channel. The boolean is false when the
// session was not a member, in which case nothing changes.
func (r *Registry) Leave(id SessionID, channelID domain.ChannelID) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Departure{}, false
	}
	if _, joined := s.joined[channelID]; !joined {
		return Departure{}, false
	}
	return r.leaveLocked(s, channelID), true
}

// leaveLocked must be called with r.mu held and the session joined to channelID.
// A channel with no member left is deleted, not merely emptied.
func (r *Registry) leaveLocked(s *Session, channelID domain.ChannelID) Departure {
	delete(s.joined, channelID)

	if sessions, ok := r.channels[channelID]; ok {
		delete(sessions, s.ID)
		if len(sessions) == 0 {
			delete(r.channels, channelID)
		}
	}

	identityLeft := true
	if members, ok := r.members[channelID]; ok {
		members[s.Identity.ID]--
		if members[s.Identity.ID] > 0 {
			identityLeft = false
		} else {
			delete(members, s.Identity.ID)
		}
		if len(members) == 0 {
			delete(r.members, channelID)
		}
	}

	return Departure{
		ChannelID:    channelID,
		SessionID:    s.ID,
		User:         s.Identity.User(),
		IdentityLeft: identityLeft,
	}
}

// MembersOf returns the sorted identity ids currently joined to the channel.
func (r *Registry) MembersOf(channelID domain.ChannelID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := lo.Keys(r.members[channelID])
	sort.Strings(members)
	return members
}

// SessionsIn returns a snapshot of the sessions joined to the channel.
func (r *Registry) SessionsIn(channelID domain.ChannelID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedSessions(r.channels[channelID])
}

func (r *Registry) IsJoined(id SessionID, channelID domain.ChannelID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	_, joined := s.joined[channelID]
	return joined
}

// ChannelsOf returns the channels joined by a session, sorted.
func (r *Registry) ChannelsOf(id SessionID) []domain.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return sortedChannels(s.joined)
}

// HasChannel reports whether the channel has at least one member.
func (r *Registry) HasChannel(channelID domain.ChannelID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[channelID]
	return ok
}

// ChannelCount returns how many channels have at least one member.
func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
