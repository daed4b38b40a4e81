package observability

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// SentryReporter forwards unexpected errors to Sentry and logs them.
// With an empty DSN it only logs.
type SentryReporter struct {
	enabled bool
	logger  *zap.Logger
}

// NewSentryReporter initializes the Sentry SDK when dsn is set.
func NewSentryReporter(dsn, environment string, logger *zap.Logger) (*SentryReporter, error) {
	r := &SentryReporter{logger: logger}
	if dsn == "" {
		return r, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return nil, err
	}
	r.enabled = true
	return r, nil
}

// Report captures err with tags.
func (r *SentryReporter) Report(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	fields := make([]zap.Field, 0, len(tags)+1)
	for k, v := range tags {
		fields = append(fields, zap.String(k, v))
	}
	r.logger.Error("reported error", append(fields, zap.Error(err))...)

	if !r.enabled {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) {
	if r.enabled {
		sentry.Flush(timeout)
	}
}
