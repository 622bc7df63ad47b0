// Package exceptions reports provider and pipeline failures to an
// external tracker.
package exceptions

import (
	"time"

	"github.com/getsentry/sentry-go"
)

const flushTimeout = time.Second * 5

// Reporter sends exceptions to an external source
type Reporter interface {
	ReportException(err error)
}

// NoopReporter is a no-op exception reporter
type NoopReporter struct{}

// ReportException does nothing
func (r *NoopReporter) ReportException(_ error) {}

// SentryReporter sends error information to Sentry
type SentryReporter struct{}

// NewSentryReporter initializes the sentry client for the given
// environment and returns a reporter backed by it.
func NewSentryReporter(dsn, env string) (*SentryReporter, error) {
	err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: env})
	if err != nil {
		return nil, err
	}
	return &SentryReporter{}, nil
}

// ReportException captures the error and flushes so that reports
// survive a crash-looping process.
func (r *SentryReporter) ReportException(err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "video-orchestrator")
		sentry.CaptureException(err)
	})
	sentry.Flush(flushTimeout)
}
