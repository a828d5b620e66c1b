// Package dispatcher is the per-connection entry point of the hub: it drives
// the connection state machine and routes every validated inbound event to the
// service owning it.
package dispatcher

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/runtime"
	"chat-hub/services"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type State int

const (
	Connecting State = iota
	Authenticated
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (domain.Identity, error)
}

// MembershipChecker answers whether a session may act on a channel.
type MembershipChecker interface {
	IsJoined(id runtime.SessionID, channelID domain.ChannelID) bool
}

// Dispatcher holds what every connection shares.
type Dispatcher struct {
	log       *slog.Logger
	gate      Authenticator
	chat      services.IChatService
	reactions services.IReactionService
	members   MembershipChecker
	decoder   *Decoder
}

func NewDispatcher(
	log *slog.Logger,
	gate Authenticator,
	chat services.IChatService,
	reactions services.IReactionService,
	members MembershipChecker,
	decoder *Decoder,
) *Dispatcher {
	return &Dispatcher{
		log:       log,
		gate:      gate,
		chat:      chat,
		reactions: reactions,
		members:   members,
		decoder:   decoder,
	}
}

// NewConnection starts a connection in the Connecting state.
func (d *Dispatcher) NewConnection() *Connection {
	return &Connection{d: d, state: Connecting}
}

// Connection follows Connecting -> Authenticated -> Active -> Closed.
// Auth failure goes straight from Connecting to Closed, and Closed is terminal.
//
// Handle is expected to be called by a single reader per connection; events
// of other connections interleave freely.
type Connection struct {
	d        *Dispatcher
	mu       sync.Mutex
	state    State
	identity domain.Identity
	session  *runtime.Session
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session is nil until the connection is Active.
func (c *Connection) Session() *runtime.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Authenticate runs the credential through the gate. Any failure closes the connection.
func (c *Connection) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connecting {
		return domain.Identity{}, fmt.Errorf("authenticate in state %s: %w", c.state, errors.ErrConnectionClosed)
	}
	identity, err := c.d.gate.Authenticate(ctx, credential)
	if err != nil {
		c.state = Closed
		c.d.log.Info("Connection rejected", "error", err)
		return domain.Identity{}, err
	}
	c.identity = identity
	c.state = Authenticated
	return identity, nil
}

// Activate registers the session right after authentication.
func (c *Connection) Activate(transport contract.Transport) (*runtime.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Authenticated {
		return nil, fmt.Errorf("activate in state %s: %w", c.state, errors.ErrNotAuthenticated)
	}
	c.session = c.d.chat.Connect(c.identity, transport)
	c.state = Active
	return c.session, nil
}

// Handle decodes, authorizes and dispatches one inbound frame.
// A failure is reported to this connection only as an error event and
// returned; shared state is left untouched.
func (c *Connection) Handle(ctx context.Context, raw []byte) error {
	session := c.activeSession()
	if session == nil {
		return errors.ErrConnectionClosed
	}

	name, cmd, err := c.d.decoder.Decode(raw)
	if err == nil {
		err = c.authorize(session, cmd)
	}
	if err == nil {
		err = c.dispatch(ctx, session, cmd)
	}
	if err != nil {
		c.Fail(ctx, name, err)
		return err
	}
	return nil
}

// Fail reports err to this connection only.
func (c *Connection) Fail(ctx context.Context, inbound string, err error) {
	session := c.activeSession()
	if session == nil {
		return
	}
	kind := errors.KindOf(err)
	if (kind == errors.KindCollaborator || kind == errors.KindInternal) && !errors.Is(err, errors.ErrRateLimited) {
		c.d.log.Warn("Event failed", "session_id", session.ID, "event", inbound, "kind", kind, "error", err)
	} else {
		c.d.log.Debug("Event rejected", "session_id", session.ID, "event", inbound, "kind", kind, "error", err)
	}
	if sendErr := session.Send(ctx, event.NewError(inbound, err)); sendErr != nil {
		c.d.log.Warn("Error event delivery failed", "session_id", session.ID, "error", sendErr)
	}
}

// Close unregisters the session, if any. Calling it twice is harmless.
func (c *Connection) Close(ctx context.Context) {
	c.mu.Lock()
	session := c.session
	wasActive := c.state == Active
	c.state = Closed
	c.session = nil
	c.mu.Unlock()

	if wasActive && session != nil {
		c.d.chat.Disconnect(ctx, session)
	}
}

func (c *Connection) activeSession() *runtime.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil
	}
	return c.session
}

func (c *Connection) authorize(session *runtime.Session, cmd domain.Command) error {
	if _, ok := cmd.(domain.BroadcastTestCommand); ok && !session.Identity.HasRole(domain.RoleAdmin) {
		return errors.Validation(fmt.Errorf("%s: %w", cmd.EventName(), errors.ErrForbidden))
	}
	if scoped, ok := cmd.(domain.ChannelScoped); ok && !c.d.members.IsJoined(session.ID, scoped.Channel()) {
		return errors.Validation(fmt.Errorf("%s on %s: %w", cmd.EventName(), scoped.Channel(), errors.ErrNotChannelMember))
	}
	return nil
}

func (c *Connection) dispatch(ctx context.Context, session *runtime.Session, cmd domain.Command) error {
	switch cmd := cmd.(type) {
	case domain.JoinCommand:
		return c.d.chat.Join(ctx, session, cmd.ChannelID)
	case domain.LeaveCommand:
		return c.d.chat.Leave(ctx, session, cmd.ChannelID)
	case domain.SendMessageCommand:
		return c.d.chat.SendMessage(ctx, session, cmd)
	case domain.TypingCommand:
		return c.d.chat.Typing(ctx, session, cmd)
	case domain.AddReactionCommand:
		_, err := c.d.reactions.Toggle(ctx, session, cmd)
		return err
	case domain.RemoveReactionCommand:
		return c.d.reactions.Remove(ctx, session, cmd)
	case domain.RefreshCommand:
		return c.d.chat.Refresh(ctx, session, cmd.ChannelID)
	case domain.BroadcastTestCommand:
		return c.d.chat.BroadcastTest(ctx, session, cmd.Message)
	default:
		return errors.Validation(fmt.Errorf("%w: %s", errors.ErrUnknownEvent, cmd.EventName()))
	}
}
