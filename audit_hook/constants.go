package audithook

// Action constants for audit events.
const (
	// Resolution actions
	ActionStateResolved     = "state.resolved"
	ActionStateInconclusive = "state.inconclusive"

	// Local entitlement actions
	ActionLocalChanged        = "entitlement.local_changed"
	ActionTransactionVerified = "transaction.verified"
	ActionVerificationFailed  = "transaction.verification_failed"

	// Ledger actions
	ActionLedgerPushFailed = "ledger.push_failed"
	ActionRecordExpired    = "ledger.record_expired"
)

// Resource constants for audit events.
const (
	ResourceState       = "resolved_state"
	ResourceEntitlement = "entitlement"
	ResourceTransaction = "transaction"
	ResourceLedger      = "ledger"
)

// Category constants for audit events.
const (
	CategoryAccess  = "access"
	CategoryBilling = "billing"
	CategorySync    = "sync"
)

// Severity constants for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
