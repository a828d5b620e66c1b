package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// Connection attempt
	ErrMissingCredential = fmt.Errorf("credential is missing")
	ErrInvalidCredential = fmt.Errorf("invalid or expired credential")
	ErrVerifierFailed    = fmt.Errorf("credential verification failed")
	ErrMalformedClaims   = fmt.Errorf("malformed identity claims")
	ErrConnectionClosed  = fmt.Errorf("connection is closed")
	ErrNotAuthenticated  = fmt.Errorf("connection is not authenticated")

	// Inbound events
	ErrInvalidPayload   = fmt.Errorf("invalid payload")
	ErrUnknownEvent     = fmt.Errorf("unknown event")
	ErrNotChannelMember = fmt.Errorf("session has not joined this channel")
	ErrForbidden        = fmt.Errorf("action not allowed for this identity")
	ErrRateLimited      = fmt.Errorf("too many events, slow down")

	// Store
	ErrMessageNotFound  = fmt.Errorf("message not found")
	ErrReactionNotFound = fmt.Errorf("reaction not found")

	// Delivery
	ErrSinkFull         = fmt.Errorf("outbound buffer is full")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrTransportStopped = fmt.Errorf("transport stopped")
)
