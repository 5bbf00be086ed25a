// Package auth provides the authorization predicate the ingestion and read
// paths consult, plus an HS256 JWT implementation of it with a static
// credential login counterpart.
//
// The pipeline core never inspects tokens itself; it holds an Authorizer and
// asks. AllowAll exists for development and for tests that exercise the
// pipeline without a token round-trip.
package auth

import (
	"context"
)

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Role    string
}

// Authorizer is the injected "is this caller allowed" predicate. The token
// is the raw credential presented by the caller, already stripped of any
// transport framing such as the Bearer prefix.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (Identity, error)
}

// AllowAll authorizes every caller with an anonymous identity.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, string) (Identity, error) {
	return Identity{Subject: "anonymous", Role: "producer"}, nil
}
