package rp

import (
	"context"
	"errors"
)

// ErrAuthnRequestNotFound is returned by storages when no pending
// authentication request exists for a state.
var ErrAuthnRequestNotFound = errors.New("authentication request not found")

// AuthnRequestStorage persists pending authentication requests between the
// authorization redirect and the provider callback, keyed by state. The core
// assumes at-least-once durability; it never requires transactions.
type AuthnRequestStorage interface {
	Read(ctx context.Context, state string) (AuthnRequest, error)
	Write(ctx context.Context, req AuthnRequest) error
	Delete(ctx context.Context, state string) error
}

// AuditLogger receives token material that must be retained for the
// federation's regulatory period. It is called exactly once per successful
// token exchange, before any post-processing of the response.
type AuditLogger func(record any)
