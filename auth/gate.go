// Package auth turns the credential presented by a connecting client into an Identity.
package auth

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Gate is invoked once per connection attempt, before any other event.
// Nothing is registered on failure so no partial session is ever visible.
type Gate struct {
	verifier contract.AuthVerifier
	validate *validator.Validate
	log      *slog.Logger
}

func NewGate(verifier contract.AuthVerifier, log *slog.Logger) *Gate {
	return &Gate{verifier: verifier, validate: validator.New(), log: log}
}

// Authenticate delegates verification and only then decodes the identity claims.
// Every failure is an Auth error: the connection must be rejected, never retried.
func (g *Gate) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return domain.Identity{}, errors.Auth(errors.ErrMissingCredential)
	}

	verification, err := g.verifier.Validate(ctx, credential)
	if err != nil {
		g.log.Error("Credential verifier failed", "error", err)
		return domain.Identity{}, errors.Auth(fmt.Errorf("%w: %v", errors.ErrVerifierFailed, err))
	}
	if !verification.Valid {
		return domain.Identity{}, errors.Auth(errors.ErrInvalidCredential)
	}

	identity := domain.Identity{
		ID:          verification.UserID,
		DisplayName: verification.DisplayName,
		Roles:       verification.Roles,
	}
	if err = g.validate.Struct(identity); err != nil {
		g.log.Warn("Verified credential carries malformed claims", "error", err)
		return domain.Identity{}, errors.Auth(fmt.Errorf("%w: %v", errors.ErrMalformedClaims, err))
	}
	if identity.DisplayName == "" {
		identity.DisplayName = identity.ID
	}
	return identity, nil
}
