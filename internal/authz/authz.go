// Package authz defines the shape of an authorization decision the core
// consumes before serving any request. Policy engines, token formats,
// and ACL storage are external collaborators (spec.md §1); this package
// only specifies the interface the core calls against, plus a
// permissive implementation for local/dev wiring and tests.
package authz

import "context"

// Decision is the outcome of authenticating and authorizing one request.
type Decision struct {
	Allowed bool
	Subject string
	Reason  string
}

// Request is the minimal information an Authenticator needs to decide:
// enough to implement a path-containment ACL (grounded on
// original_source's path_container.h) without the core depending on any
// particular policy representation.
type Request struct {
	RootPath string
	Document string
	Action   string // "get" | "update" | "watch" | "trace" | "gc"
	Token    string
}

// Authenticator is called once per request before any namespace lookup.
type Authenticator interface {
	Authenticate(ctx context.Context, req Request) (Decision, error)
}

// AllowAllAuthenticator allows every request; it is the default for
// local development and the wiring tests use to bypass policy entirely.
type AllowAllAuthenticator struct{}

func (AllowAllAuthenticator) Authenticate(context.Context, Request) (Decision, error) {
	return Decision{Allowed: true, Subject: "anonymous"}, nil
}
