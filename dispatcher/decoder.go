package dispatcher

import (
	"bytes"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxContentLength bounds the content of a chat message, in runes.
const DefaultMaxContentLength = 4000

// Decoder turns a raw client frame into a validated domain.Command.
type Decoder struct {
	validate         *validator.Validate
	maxContentLength int
}

func NewDecoder(maxContentLength int) *Decoder {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	validate := validator.New()
	// Declared attachment types must be known MIME types.
	_ = validate.RegisterValidation("known_mime", func(fl validator.FieldLevel) bool {
		return mimetype.Lookup(fl.Field().String()) != nil
	})
	return &Decoder{validate: validate, maxContentLength: maxContentLength}
}

// Decode returns the inbound event name, even on failure when it could be read,
// so that the error event can name it.
func (d *Decoder) Decode(raw []byte) (string, domain.Command, error) {
	var inbound event.Inbound
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return "", nil, errors.Validation(fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
	}

	var cmd domain.Command
	var err error
	switch inbound.Event {
	case domain.EventJoin:
		cmd, err = decodeInto[domain.JoinCommand](d, inbound.Data)
	case domain.EventLeave:
		cmd, err = decodeInto[domain.LeaveCommand](d, inbound.Data)
	case domain.EventSendMessage:
		cmd, err = decodeInto[domain.SendMessageCommand](d, inbound.Data)
		if err == nil {
			err = d.checkContent(cmd.(domain.SendMessageCommand))
		}
	case domain.EventTyping:
		cmd, err = decodeInto[domain.TypingCommand](d, inbound.Data)
	case domain.EventAddReaction:
		cmd, err = decodeInto[domain.AddReactionCommand](d, inbound.Data)
	case domain.EventRemoveReaction:
		cmd, err = decodeInto[domain.RemoveReactionCommand](d, inbound.Data)
	case domain.EventRefresh:
		cmd, err = decodeInto[domain.RefreshCommand](d, inbound.Data)
	case domain.EventBroadcastTest:
		cmd, err = decodeInto[domain.BroadcastTestCommand](d, inbound.Data)
	default:
		return inbound.Event, nil, errors.Validation(fmt.Errorf("%w: %q", errors.ErrUnknownEvent, inbound.Event))
	}
	if err != nil {
		return inbound.Event, nil, err
	}
	return inbound.Event, cmd, nil
}

func decodeInto[T domain.Command](d *Decoder, data json.RawMessage) (domain.Command, error) {
	var cmd T
	// A missing payload is decoded as an empty one so that required fields are reported.
	if len(bytes.TrimSpace(data)) > 0 && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, errors.Validation(fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
		}
	}
	if err := d.validate.Struct(cmd); err != nil {
		return nil, errors.Validation(fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
	}
	return cmd, nil
}

func (d *Decoder) checkContent(cmd domain.SendMessageCommand) error {
	// An empty attachments array satisfies required_without, so blank content is checked here.
	if strings.TrimSpace(cmd.Content) == "" && len(cmd.Attachments) == 0 {
		return errors.Validation(fmt.Errorf("%w: message has neither content nor attachments", errors.ErrInvalidPayload))
	}
	if n := utf8.RuneCountInString(cmd.Content); n > d.maxContentLength {
		return errors.Validation(fmt.Errorf("%w: content has %d characters, at most %d allowed",
			errors.ErrInvalidPayload, n, d.maxContentLength))
	}
	return nil
}
