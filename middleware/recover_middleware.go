package middleware

import (
	"context"

	"go.uber.org/zap"

	"vpoller-module/message"
)

const MsgInternalError = "Internal error in vPoller module"

// RecoverMiddleware turns a panic, or a handler that returns nil, into a
// failed item instead of taking down the host process.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (result *message.Result) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("item handler panicked",
						zap.String("key", req.Key),
						zap.String("request_id", req.ID),
						zap.Any("panic", r),
						zap.StackSkip("stack", 1))
					result = message.Failure(MsgInternalError)
				}
			}()

			result = next(ctx, req)
			if result == nil {
				result = message.Failure(MsgInternalError)
			}
			return result
		}
	}
}
