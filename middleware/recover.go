package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Lakakaku/alpha-sub015/job"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace,
// so a panicking compilation follows the normal retry path.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("compilation panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("job_type", string(j.Type)),
					slog.String("tenant_id", j.TenantID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in %s compilation: %v", j.Type, r)
			}
		}()
		return next(ctx)
	}
}
