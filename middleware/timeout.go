package middleware

import (
	"context"
	"time"

	"github.com/xraph/durable/invocation"
)

// Timeout returns middleware that bounds the wall time of one attempt.
// When the deadline is exceeded the context is cancelled; the session
// observes the cancellation and winds the attempt down. The invocation
// itself stays resumable — only the attempt is cut short.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, inv *invocation.Invocation, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
