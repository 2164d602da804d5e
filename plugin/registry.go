package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xinyao/wuxing-premium/entitlement"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting an event touches only the
// plugins that implement its hook.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onStateResolved       []OnStateResolved
	onLocalChanged        []OnLocalChanged
	onTransactionVerified []OnTransactionVerified
	onVerificationFailed  []OnVerificationFailed
	onLedgerPushFailed    []OnLedgerPushFailed
	onRecordExpired       []OnRecordExpired
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnStateResolved); ok {
		r.onStateResolved = append(r.onStateResolved, v)
	}
	if v, ok := p.(OnLocalChanged); ok {
		r.onLocalChanged = append(r.onLocalChanged, v)
	}
	if v, ok := p.(OnTransactionVerified); ok {
		r.onTransactionVerified = append(r.onTransactionVerified, v)
	}
	if v, ok := p.(OnVerificationFailed); ok {
		r.onVerificationFailed = append(r.onVerificationFailed, v)
	}
	if v, ok := p.(OnLedgerPushFailed); ok {
		r.onLedgerPushFailed = append(r.onLedgerPushFailed, v)
	}
	if v, ok := p.(OnRecordExpired); ok {
		r.onRecordExpired = append(r.onRecordExpired, v)
	}

	r.logger.Info("plugin registered", "name", p.Name())

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitStateResolved emits a committed resolution.
func (r *Registry) EmitStateResolved(ctx context.Context, state entitlement.ResolvedState) {
	r.mu.RLock()
	plugins := r.onStateResolved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnStateResolved(ctx, state)
		}); err != nil {
			r.logger.Warn("plugin OnStateResolved failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitLocalChanged emits a local entitlement set change.
func (r *Registry) EmitLocalChanged(ctx context.Context, active []entitlement.Entitlement) {
	r.mu.RLock()
	plugins := r.onLocalChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnLocalChanged(ctx, active)
		}); err != nil {
			r.logger.Warn("plugin OnLocalChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTransactionVerified emits a successfully verified transaction.
func (r *Registry) EmitTransactionVerified(ctx context.Context, ent entitlement.Entitlement) {
	r.mu.RLock()
	plugins := r.onTransactionVerified
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionVerified(ctx, ent)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionVerified failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitVerificationFailed emits a distrusted transaction.
func (r *Registry) EmitVerificationFailed(ctx context.Context, transactionID string) {
	r.mu.RLock()
	plugins := r.onVerificationFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnVerificationFailed(ctx, transactionID)
		}); err != nil {
			r.logger.Warn("plugin OnVerificationFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitLedgerPushFailed emits an abandoned ledger push.
func (r *Registry) EmitLedgerPushFailed(ctx context.Context, transactionID string, pushErr error) {
	r.mu.RLock()
	plugins := r.onLedgerPushFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnLedgerPushFailed(ctx, transactionID, pushErr)
		}); err != nil {
			r.logger.Warn("plugin OnLedgerPushFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRecordExpired emits a ledger record observed stale and marked
// expired.
func (r *Registry) EmitRecordExpired(ctx context.Context, transactionID string) {
	r.mu.RLock()
	plugins := r.onRecordExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRecordExpired(ctx, transactionID)
		}); err != nil {
			r.logger.Warn("plugin OnRecordExpired failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout bounds a plugin callback so a misbehaving plugin cannot
// stall the engine.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
