package premium

import "errors"

// Sentinel errors for common failure scenarios.
var (
	// Engine lifecycle errors
	ErrEngineClosed  = errors.New("premium: engine stopped")
	ErrAlreadyActive = errors.New("premium: engine already started")

	// Trigger errors
	ErrRefreshThrottled = errors.New("premium: refresh rate-limited")
	ErrRestoreFailed    = errors.New("premium: restore could not verify entitlement")

	// Local entitlement errors
	ErrVerificationFailed = errors.New("premium: transaction verification failed")

	// Remote ledger errors
	ErrLedgerUnavailable = errors.New("premium: remote ledger unavailable")
)

// IsThrottled returns true if the error is the refresh rate limit.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrRefreshThrottled)
}

// IsInconclusive returns true if the error means entitlement could not be
// determined rather than being absent. Callers should offer a retry, not a
// paywall.
func IsInconclusive(err error) bool {
	return errors.Is(err, ErrRestoreFailed) ||
		errors.Is(err, ErrLedgerUnavailable)
}
