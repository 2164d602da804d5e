// Package audithook bridges premium engine lifecycle events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit backend. Callers inject a RecorderFunc adapter that
// bridges to their trail at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xinyao/wuxing-premium/entitlement"
	"github.com/xinyao/wuxing-premium/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnStateResolved       = (*Extension)(nil)
	_ plugin.OnLocalChanged        = (*Extension)(nil)
	_ plugin.OnTransactionVerified = (*Extension)(nil)
	_ plugin.OnVerificationFailed  = (*Extension)(nil)
	_ plugin.OnLedgerPushFailed    = (*Extension)(nil)
	_ plugin.OnRecordExpired       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges engine lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Resolution hooks
// ──────────────────────────────────────────────────

// OnStateResolved implements plugin.OnStateResolved.
func (e *Extension) OnStateResolved(ctx context.Context, state entitlement.ResolvedState) error {
	action := ActionStateResolved
	severity := SeverityInfo
	if !state.Conclusive() {
		action = ActionStateInconclusive
		severity = SeverityWarning
	}

	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceState, "", CategoryAccess, nil,
		"is_premium", state.IsPremium,
		"staleness", string(state.Staleness),
	)
}

// ──────────────────────────────────────────────────
// Local entitlement hooks
// ──────────────────────────────────────────────────

// OnLocalChanged implements plugin.OnLocalChanged.
func (e *Extension) OnLocalChanged(ctx context.Context, active []entitlement.Entitlement) error {
	return e.record(ctx, ActionLocalChanged, SeverityInfo, OutcomeSuccess,
		ResourceEntitlement, "", CategoryBilling, nil,
		"active_count", len(active),
	)
}

// OnTransactionVerified implements plugin.OnTransactionVerified.
func (e *Extension) OnTransactionVerified(ctx context.Context, ent entitlement.Entitlement) error {
	return e.record(ctx, ActionTransactionVerified, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, ent.TransactionID, CategoryBilling, nil,
		"product_id", ent.ProductID,
		"product_type", string(ent.ProductType),
	)
}

// OnVerificationFailed implements plugin.OnVerificationFailed.
func (e *Extension) OnVerificationFailed(ctx context.Context, transactionID string) error {
	return e.record(ctx, ActionVerificationFailed, SeverityCritical, OutcomeFailure,
		ResourceTransaction, transactionID, CategoryBilling, nil,
		"transaction_id", transactionID,
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnLedgerPushFailed implements plugin.OnLedgerPushFailed.
func (e *Extension) OnLedgerPushFailed(ctx context.Context, transactionID string, pushErr error) error {
	return e.record(ctx, ActionLedgerPushFailed, SeverityWarning, OutcomeFailure,
		ResourceLedger, transactionID, CategorySync, pushErr,
		"transaction_id", transactionID,
	)
}

// OnRecordExpired implements plugin.OnRecordExpired.
func (e *Extension) OnRecordExpired(ctx context.Context, transactionID string) error {
	return e.record(ctx, ActionRecordExpired, SeverityInfo, OutcomeSuccess,
		ResourceLedger, transactionID, CategorySync, nil,
		"transaction_id", transactionID,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
