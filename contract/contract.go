//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Verification is the verdict of an AuthVerifier on one credential.
// Identity fields are meaningful only when Valid is true.
type Verification struct {
	Valid       bool
	UserID      string
	DisplayName string
	Roles       []string
}

// AuthVerifier checks a credential presented by a connecting client.
// An error means the verifier itself failed, an untrusted credential is
// reported with Valid=false.
type AuthVerifier interface {
	Validate(ctx context.Context, credential string) (Verification, error)
}

// MessageStore holds the authoritative copy of messages and reactions.
// Every call may fail; the hub treats a failure as one failed action.
type MessageStore interface {
	FetchChannelMessages(ctx context.Context, channelID domain.ChannelID) ([]domain.Message, error)
	CreateMessage(ctx context.Context, draft domain.MessageDraft) (domain.Message, error)
	AddReaction(ctx context.Context, messageID string, draft domain.ReactionDraft) (domain.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, reactionID, userID, reactionType string) error
}

// Transport pushes outbound events to one connected client.
// Send must not block on a slow client.
type Transport interface {
	Send(ctx context.Context, env event.Envelope) error
}
