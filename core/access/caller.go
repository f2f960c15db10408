// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package access provides the caller identity and the access policy.

A Caller is the authenticated user on whose behalf a request runs. It carries the
user's identifier, which is the owner scope of every record, and the bearer token,
which is forwarded to the remote record store.

Callers are added to a request context with

	ctx = caller.ContextWithCaller(ctx)

and retrieved with

	caller := access.CallerFromContext(ctx)

The JWT middleware adds them for requests with an "Authorization: Bearer" header.
*/
package access

import (
	"context"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyCaller contextKey = "_caller_"

// Caller is the authenticated user of a request
type Caller struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Token string `json:"-"`
}

// IsAuthenticated returns true if the caller has an identifier
func (c *Caller) IsAuthenticated() bool {
	return c != nil && c.ID != ""
}

// ContextWithCaller returns a new context with this caller added to it
func (c *Caller) ContextWithCaller(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyCaller, c)
}

// CallerFromContext retrieves the caller from the context, or nil
func CallerFromContext(ctx context.Context) *Caller {
	c, ok := ctx.Value(contextKeyCaller).(*Caller)
	if ok {
		return c
	}
	return nil
}

// CanAccess is the ownership policy: a record may be read, updated or deleted only by
// the user who owns it. An empty owner never matches.
func CanAccess(ownerID string, caller *Caller) bool {
	return caller.IsAuthenticated() && ownerID != "" && ownerID == caller.ID
}
