package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"vpoller-module/message"
)

const MsgRateLimited = "rate limit exceeded"

// RateLimitMiddleware fails items beyond r per second (burst b) before they
// reach vPoller. r <= 0 disables the limit.
func RateLimitMiddleware(r float64, burst int) Middleware {
	if r <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(r), max(burst, 1))
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Result {
			if !limiter.Allow() {
				return message.Failure(MsgRateLimited)
			}
			return next(ctx, req)
		}
	}
}
