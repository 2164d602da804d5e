// Package plugin provides an extensible hook system for the premium
// engine. Plugins observe entitlement lifecycle events: resolution,
// local changes, verification failures, and ledger activity.
package plugin

import (
	"context"

	"github.com/xinyao/wuxing-premium/entitlement"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Resolution hooks
// ──────────────────────────────────────────────────

// OnStateResolved is called every time a resolution commits, even when the
// value is unchanged.
type OnStateResolved interface {
	Plugin
	OnStateResolved(ctx context.Context, state entitlement.ResolvedState) error
}

// ──────────────────────────────────────────────────
// Local entitlement hooks
// ──────────────────────────────────────────────────

// OnLocalChanged is called when the locally-held entitlement set changes.
type OnLocalChanged interface {
	Plugin
	OnLocalChanged(ctx context.Context, active []entitlement.Entitlement) error
}

// OnTransactionVerified is called for each transaction that passes the
// platform trust check.
type OnTransactionVerified interface {
	Plugin
	OnTransactionVerified(ctx context.Context, ent entitlement.Entitlement) error
}

// OnVerificationFailed is called when a delivered transaction fails the
// platform trust check and is distrusted.
type OnVerificationFailed interface {
	Plugin
	OnVerificationFailed(ctx context.Context, transactionID string) error
}

// ──────────────────────────────────────────────────
// Remote ledger hooks
// ──────────────────────────────────────────────────

// OnLedgerPushFailed is called when a best-effort push to the remote
// ledger gives up.
type OnLedgerPushFailed interface {
	Plugin
	OnLedgerPushFailed(ctx context.Context, transactionID string, pushErr error) error
}

// OnRecordExpired is called when a stale active ledger record is observed
// and marked expired.
type OnRecordExpired interface {
	Plugin
	OnRecordExpired(ctx context.Context, transactionID string) error
}
