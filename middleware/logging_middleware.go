package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vpoller-module/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Result {
			start := time.Now()
			result := next(ctx, req)

			fields := []zap.Field{
				zap.String("key", req.Key),
				zap.String("request_id", req.ID),
				zap.Int("params", len(req.Params)),
				zap.Duration("duration", time.Since(start)),
			}
			if !result.OK {
				logger.Info("item failed", append(fields, zap.String("error", result.Message))...)
				return result
			}
			logger.Debug("item done", fields...)
			return result
		}
	}
}
