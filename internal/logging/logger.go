// Package logging is the structured logger used by the server. Components
// depend on the Logger interface; SlogLogger is the production
// implementation.
package logging

import "context"

// Logger takes alternating key/value pairs after the message:
//
//	logger.Warn(ctx, "recipient not found", "to_user_id", id, "policy", "fallback")
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a logger that adds args to every record.
	With(args ...any) Logger
}
