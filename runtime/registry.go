// Package runtime holds the process-wide live state of the hub: which sessions
// are connected, which channels they joined, and how events reach them.
package runtime

import (
	"chat-hub/domain"
	"fmt"
	"sync"
	"time"
)

// MembershipPolicy decides what joining a channel does to the other channels of a session.
type MembershipPolicy string

const (
	// Multiplexed lets a session join and leave many channels independently.
	Multiplexed MembershipPolicy = "multiplexed"
	// Exclusive makes a join leave every channel previously joined by the session.
	Exclusive MembershipPolicy = "exclusive"
)

func ParseMembershipPolicy(s string) (MembershipPolicy, error) {
	switch MembershipPolicy(s) {
	case "", Multiplexed:
		return Multiplexed, nil
	case Exclusive:
		return Exclusive, nil
	default:
		return "", fmt.Errorf("unknown membership policy %q", s)
	}
}

// Registry owns sessions and channel membership behind a single lock, so that
// a session disappearing and its channels being cleaned up is one step for readers.
type Registry struct {
	mu     sync.RWMutex
	policy MembershipPolicy
	now    func() time.Time

	sessions   map[SessionID]*Session                      // every live session
	byIdentity map[string]map[SessionID]*Session           // identity -> its sessions
	channels   map[domain.ChannelID]map[SessionID]*Session // channel -> joined sessions
	members    map[domain.ChannelID]map[string]int         // channel -> identity -> joined sessions count
}

func NewRegistry(policy MembershipPolicy) *Registry {
	if policy == "" {
		policy = Multiplexed
	}
	return &Registry{
		policy:     policy,
		now:        time.Now,
		sessions:   make(map[SessionID]*Session),
		byIdentity: make(map[string]map[SessionID]*Session),
		channels:   make(map[domain.ChannelID]map[SessionID]*Session),
		members:    make(map[domain.ChannelID]map[string]int),
	}
}

func (r *Registry) Policy() MembershipPolicy {
	return r.policy
}
