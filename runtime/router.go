package runtime

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"context"
	"fmt"
	"log/slog"
)

// Router delivers events to sessions.
//
// It provides best-effort fan-out with no guarantees regarding delivery,
// ordering across sessions, durability, or retries. The Registry is only used
// to know where to deliver; actual delivery goes through each session transport.
//
// A failure to reach one session never prevents delivery to the others and is
// never reported as a failure of the action that triggered the event.
type Router struct {
	log      *slog.Logger
	registry *Registry
}

func NewRouter(log *slog.Logger, registry *Registry) *Router {
	return &Router{log: log, registry: registry}
}

// ToChannel delivers to every session joined to the channel except exclude
// (empty for none). It returns how many sessions accepted the event.
func (r *Router) ToChannel(ctx context.Context, channelID domain.ChannelID,
	env event.Envelope, exclude SessionID) int {
	delivered := 0
	for _, s := range r.registry.SessionsIn(channelID) {
		if exclude != "" && s.ID == exclude {
			continue
		}
		if r.deliver(ctx, s, env) {
			delivered++
		}
	}
	return delivered
}

// ToAll delivers to every registered session.
// Used for diagnostic broadcasts, not for chat traffic.
func (r *Router) ToAll(ctx context.Context, env event.Envelope) int {
	delivered := 0
	for _, s := range r.registry.Sessions() {
		if r.deliver(ctx, s, env) {
			delivered++
		}
	}
	return delivered
}

// ToSession delivers a caller-directed event and returns a Delivery error on failure.
func (r *Router) ToSession(ctx context.Context, s *Session, env event.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Delivery(fmt.Errorf("%w: %v", errors.ErrTransportStopped, rec))
		}
	}()
	if err = s.Send(ctx, env); err != nil {
		return errors.Delivery(err)
	}
	return nil
}

func (r *Router) deliver(ctx context.Context, s *Session, env event.Envelope) bool {
	if err := r.ToSession(ctx, s, env); err != nil {
		r.log.Warn("Event delivery failed",
			"session_id", s.ID,
			"user_id", s.Identity.ID,
			"event", env.Event,
			"error", err)
		return false
	}
	return true
}
