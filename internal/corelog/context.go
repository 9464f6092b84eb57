package corelog

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const loggerKey ctxKey = "corelog_logger"

// WithContext attaches logger to ctx so FromContext can retrieve it.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger attached to ctx, or the base logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
			return l
		}
	}
	return Base()
}
