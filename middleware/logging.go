package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lakakaku/alpha-sub015/job"
)

// Logging returns middleware that logs compilation start and settlement.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("compilation started",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("tenant_id", j.TenantID),
			slog.Int("attempt", j.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("compilation failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", string(j.Type)),
				slog.String("tenant_id", j.TenantID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("compilation completed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", string(j.Type)),
				slog.String("tenant_id", j.TenantID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
