package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/server"
)

// StdioIdentity is charged when a call carries no transport identity and no
// session, which only happens on a single-client stdio connection.
const StdioIdentity = "stdio"

type identityKey struct{}

// WithIdentity attaches the caller identity resolved by an HTTP transport.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// identityFromCtx prefers a transport-supplied identity, then the MCP
// session id.
func identityFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey{}).(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if session := server.ClientSessionFromContext(ctx); session != nil && session.SessionID() != "" {
		return session.SessionID()
	}
	return StdioIdentity
}
