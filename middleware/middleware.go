// Package middleware wraps item handlers the way the host sees them: a
// Request in, a Result out, never a panic or a nil.
package middleware

import (
	"context"

	"vpoller-module/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Result

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
