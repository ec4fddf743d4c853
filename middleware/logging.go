package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/durable/invocation"
)

// Logging returns middleware that logs invocation start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *invocation.Invocation, next Handler) error {
		logger.Info("invocation started",
			slog.String("invocation_id", inv.ID.String()),
			slog.String("service", inv.Service),
			slog.String("method", inv.Method),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("invocation attempt failed",
				slog.String("invocation_id", inv.ID.String()),
				slog.String("service", inv.Service),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("invocation attempt finished",
				slog.String("invocation_id", inv.ID.String()),
				slog.String("service", inv.Service),
				slog.String("state", string(inv.State)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
