package errors

import (
	stderrors "errors"
)

// Kind classifies a failure by who it is reported to and whether state may change.
type Kind string

const (
	// KindAuth is fatal to the connection attempt.
	KindAuth         Kind = "auth"
	// KindValidation is a missing or malformed field, reported to the initiator only.
	KindValidation   Kind = "validation"
	// KindCollaborator is a failed AuthVerifier or MessageStore call.
	KindCollaborator Kind = "collaborator"
	// KindDelivery is a broadcast that did not reach one session. Never surfaced to the initiator.
	KindDelivery     Kind = "delivery"
	KindInternal     Kind = "internal"
)

// HubError attaches a Kind to an underlying error.
type HubError struct {
	Kind Kind
	Err  error
}

func (e *HubError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *HubError) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &HubError{Kind: kind, Err: err}
}

func Auth(err error) error {
	return wrap(KindAuth, err)
}

func Validation(err error) error {
	return wrap(KindValidation, err)
}

func Collaborator(err error) error {
	return wrap(KindCollaborator, err)
}

func Delivery(err error) error {
	return wrap(KindDelivery, err)
}

// KindOf returns the outermost Kind found in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var hubErr *HubError
	if stderrors.As(err, &hubErr) {
		return hubErr.Kind
	}
	return KindInternal
}

// Is and As re-export the standard helpers so callers importing this package
// under the name errors keep a single import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}
