package relayer

import (
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mintrelay/mintrelay/core/account"
	"github.com/mintrelay/mintrelay/core/config"
	"github.com/mintrelay/mintrelay/pkg/erc4337/bundler"
)

const (
	InternalError = "Internal Error"
)

// httpStatusFor maps pipeline errors onto API status codes. Caller mistakes
// and fixable configuration gaps are 400s, everything downstream is a 500.
func httpStatusFor(err error) int {
	var missingCfg *config.MissingConfigError
	if errors.As(err, &missingCfg) {
		return http.StatusBadRequest
	}

	var rejection *bundler.RejectionError
	if errors.As(err, &rejection) {
		return http.StatusBadRequest
	}

	var resolution *account.ResolutionError
	if errors.As(err, &resolution) {
		return http.StatusInternalServerError
	}

	return http.StatusInternalServerError
}

// goSafe runs a function in a goroutine-like wrapper that recovers panics and
// reports them before re-raising, so background task crashes are not silently
// lost.
func goSafe(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				sentryRecover(r)
				panic(r)
			}
		}()
		fn()
	}()
}

// sentryRecover reports a recovered panic when the SDK is initialized,
// otherwise it is a no-op.
func sentryRecover(rec interface{}) {
	sentry.CurrentHub().Recover(rec)
}

// sentryFlushSafely flushes Sentry with a timeout if Sentry is present; otherwise no-op.
func sentryFlushSafely(timeout time.Duration) {
	_ = sentry.Flush(timeout)
}
