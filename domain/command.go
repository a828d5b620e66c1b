package domain

// Command is one inbound client action, decoded and validated.
// The dispatcher switches on the concrete type.
type Command interface {
	EventName() string
}

// ChannelScoped commands may only be issued by sessions joined to the channel.
type ChannelScoped interface {
	Command
	Channel() ChannelID
}

type JoinCommand struct {
	ChannelID ChannelID `json:"channelId" validate:"required,max=256"`
}

type LeaveCommand struct {
	ChannelID ChannelID `json:"channelId" validate:"required,max=256"`
}

type SendMessageCommand struct {
	ChannelID   ChannelID    `json:"channelId" validate:"required,max=256"`
	Content     string       `json:"content" validate:"required_without=Attachments"`
	Attachments []Attachment `json:"attachments,omitempty" validate:"max=10,dive"`
}

type TypingCommand struct {
	ChannelID ChannelID `json:"channelId" validate:"required,max=256"`
	IsTyping  *bool     `json:"isTyping" validate:"required"`
}

type AddReactionCommand struct {
	MessageID    string    `json:"messageId" validate:"required,max=256"`
	ChannelID    ChannelID `json:"channelId" validate:"required,max=256"`
	ReactionType string    `json:"reactionType" validate:"required,max=64"`
}

type RemoveReactionCommand struct {
	MessageID    string    `json:"messageId" validate:"required,max=256"`
	ReactionID   string    `json:"reactionId" validate:"required,max=256"`
	ChannelID    ChannelID `json:"channelId" validate:"required,max=256"`
	ReactionType string    `json:"reactionType" validate:"required,max=64"`
}

type RefreshCommand struct {
	ChannelID ChannelID `json:"channelId" validate:"required,max=256"`
}

// BroadcastTestCommand reaches every connected session. Admin only.
type BroadcastTestCommand struct {
	Message string `json:"message" validate:"required,max=1024"`
}

const (
	EventJoin           = "join"
	EventLeave          = "leave"
	EventSendMessage    = "send-message"
	EventTyping         = "typing"
	EventAddReaction    = "add-reaction"
	EventRemoveReaction = "remove-reaction"
	EventRefresh        = "refresh"
	EventBroadcastTest  = "broadcast-test"
)

func (JoinCommand) EventName() string           { return EventJoin }
func (LeaveCommand) EventName() string          { return EventLeave }
func (SendMessageCommand) EventName() string    { return EventSendMessage }
func (TypingCommand) EventName() string         { return EventTyping }
func (AddReactionCommand) EventName() string    { return EventAddReaction }
func (RemoveReactionCommand) EventName() string { return EventRemoveReaction }
func (RefreshCommand) EventName() string        { return EventRefresh }
func (BroadcastTestCommand) EventName() string  { return EventBroadcastTest }

func (c SendMessageCommand) Channel() ChannelID    { return c.ChannelID }
func (c TypingCommand) Channel() ChannelID         { return c.ChannelID }
func (c AddReactionCommand) Channel() ChannelID    { return c.ChannelID }
func (c RemoveReactionCommand) Channel() ChannelID { return c.ChannelID }
func (c RefreshCommand) Channel() ChannelID        { return c.ChannelID }
