// Package event defines what travels between the hub and its clients:
// the Inbound frame read from a connection and the outbound Envelope with its payloads.
package event

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"encoding/json"
	"time"
)

type Name string

const (
	ChannelJoined  Name = "channel-joined"
	ChannelHistory Name = "channel-history"
	UserJoined     Name = "user-joined"
	UserLeft       Name = "user-left"
	MessagePosted  Name = "message"
	MessageSent    Name = "message-sent"
	UserTyping     Name = "user-typing"
	ReactionUpdate Name = "reaction-update"
	TestEvent      Name = "test-event"
	Error          Name = "error"
)

// Inbound is a raw client frame. Data is decoded once the event name is known.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Envelope is one outbound event pushed to a session.
type Envelope struct {
	Event Name `json:"event"`
	Data  any  `json:"data"`
}

func New(name Name, data any) Envelope {
	return Envelope{Event: name, Data: data}
}

type ChannelJoinedPayload struct {
	ChannelID   domain.ChannelID `json:"channelId"`
	ActiveUsers []string         `json:"activeUsers"`
}

type ChannelHistoryPayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
	Messages  []domain.Message `json:"messages"`
}

// PresencePayload is carried by both user-joined and user-left.
type PresencePayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
	User      domain.User      `json:"user"`
	Timestamp time.Time        `json:"timestamp"`
}

type MessageSentPayload struct {
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

const StatusDelivered = "delivered"

type UserTypingPayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
	User      domain.User      `json:"user"`
	IsTyping  bool             `json:"isTyping"`
	Timestamp time.Time        `json:"timestamp"`
}

type ReactionUpdatePayload struct {
	ID           string                `json:"id"`
	MessageID    string                `json:"messageId"`
	UserID       string                `json:"userId"`
	ChannelID    domain.ChannelID      `json:"channelId"`
	ReactionType string                `json:"reactionType"`
	Action       domain.ReactionAction `json:"action"`
}

type TestEventPayload struct {
	Message   string      `json:"message"`
	From      domain.User `json:"from"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorPayload struct {
	Type    string `json:"type,omitempty"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

func NewReactionUpdate(channelID domain.ChannelID, r domain.Reaction, action domain.ReactionAction) Envelope {
	return New(ReactionUpdate, ReactionUpdatePayload{
		ID:           r.ID,
		MessageID:    r.MessageID,
		UserID:       r.UserID,
		ChannelID:    channelID,
		ReactionType: r.ReactionType,
		Action:       action,
	})
}

// TypeRateLimited is reported instead of the Kind when an event was dropped by the rate limiter.
const TypeRateLimited = "rate-limited"

// NewError builds the error event sent to the connection that issued inbound.
// Collaborator and internal failures carry a fixed message, their detail stays in the logs.
func NewError(inbound string, err error) Envelope {
	if errors.Is(err, errors.ErrRateLimited) {
		return New(Error, ErrorPayload{Type: TypeRateLimited, Event: inbound, Message: err.Error()})
	}
	kind := errors.KindOf(err)
	message := err.Error()
	switch kind {
	case errors.KindCollaborator:
		message = "service temporarily unavailable"
	case errors.KindInternal:
		message = "internal error"
	}
	return New(Error, ErrorPayload{Type: string(kind), Event: inbound, Message: message})
}
