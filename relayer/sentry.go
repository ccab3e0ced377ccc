package relayer

import (
	"os"

	"github.com/getsentry/sentry-go"

	"github.com/mintrelay/mintrelay/version"
)

func (r *Relayer) initSentry() {
	sentryDSN := os.Getenv("SENTRY_DSN")
	if sentryDSN == "" {
		r.logger.Info("SENTRY_DSN not found, Sentry integration is disabled")
		return
	}

	sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
	if sentryEnv == "" {
		sentryEnv = r.config.Environment
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              sentryDSN,
		Release:          version.Get() + "@" + version.Commit(),
		Environment:      sentryEnv,
		AttachStacktrace: true,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		r.logger.Errorf("Sentry initialization failed: %v", err)
		return
	}
	r.logger.Infof("Sentry initialized for environment: %s", sentryEnv)
}
