// Package requestid carries the inbound request id through contexts so
// outbound calls and log lines can be correlated.
package requestid

import "context"

// Header is the HTTP header the id travels in
const Header = "X-Request-ID"

type ctxKey struct{}

// With returns a copy of ctx carrying id
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the id stored in ctx, or ""
func From(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
