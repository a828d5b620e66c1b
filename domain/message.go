// Package domain contains core concepts of the chat hub.
// This file defines Messages, their Reactions and the rules used to keep
// local shadow copies of them.
package domain

import (
	"time"

	"github.com/samber/lo"
)

// ChannelID scopes a channel. Its format belongs to the client contract,
// the hub only needs a comparable key.
type ChannelID string

// Message mirrors the authoritative copy held by the MessageStore.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   ChannelID    `json:"channelId"`
	SenderID    string       `json:"senderId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
	Reactions   []Reaction   `json:"reactions"`
}

type Attachment struct {
	URL      string `json:"url" validate:"required,url,max=2048"`
	Name     string `json:"name,omitempty" validate:"max=256"`
	MimeType string `json:"mimeType,omitempty" validate:"omitempty,max=128,known_mime"`
	Size     int64  `json:"size,omitempty" validate:"gte=0"`
}

type Reaction struct {
	ID           string `json:"id"`
	MessageID    string `json:"messageId"`
	UserID       string `json:"userId"`
	ReactionType string `json:"reactionType"`
}

// Matches reports whether r is the reaction of userID with reactionType.
func (r Reaction) Matches(userID, reactionType string) bool {
	return r.UserID == userID && r.ReactionType == reactionType
}

// MessageDraft is what the hub hands to the store to create a Message.
type MessageDraft struct {
	ChannelID   ChannelID
	SenderID    string
	Content     string
	Attachments []Attachment
	CreatedAt   time.Time
}

type ReactionDraft struct {
	UserID       string
	ReactionType string
}

type ReactionAction string

const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

// ReactionDelta describes one change to a message's reaction list.
type ReactionDelta struct {
	Action   ReactionAction
	Reaction Reaction
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	c := m
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	c.Reactions = append([]Reaction(nil), m.Reactions...)
	return c
}

// FindReaction returns the active reaction of userID with reactionType, if any.
func (m Message) FindReaction(userID, reactionType string) (Reaction, bool) {
	return lo.Find(m.Reactions, func(r Reaction) bool {
		return r.Matches(userID, reactionType)
	})
}

// Apply returns the reaction list of m after delta.
// Adding a reaction whose id is already present replaces it, so a store that
// answers a duplicate add with the existing reaction never produces two entries.
// Removing matches by id, or by (user, type) when the id is unknown.
func (m Message) Apply(delta ReactionDelta) []Reaction {
	r := delta.Reaction
	switch delta.Action {
	case ReactionAdd:
		out := lo.Reject(m.Reactions, func(item Reaction, _ int) bool {
			return item.ID == r.ID || item.Matches(r.UserID, r.ReactionType)
		})
		return append(out, r)
	case ReactionRemove:
		return lo.Reject(m.Reactions, func(item Reaction, _ int) bool {
			if r.ID != "" {
				return item.ID == r.ID
			}
			return item.Matches(r.UserID, r.ReactionType)
		})
	default:
		return m.Reactions
	}
}
