package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/durable/invocation"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *invocation.Invocation, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("invocation handler panicked",
					slog.String("invocation_id", inv.ID.String()),
					slog.String("service", inv.Service),
					slog.String("method", inv.Method),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in %s/%s: %v", inv.Service, inv.Method, r)
			}
		}()
		return next(ctx)
	}
}
