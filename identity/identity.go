// Package identity produces and persists the stable pseudo-anonymous
// device identifier used as the reconciliation key against the remote
// ledger.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/xinyao/wuxing-premium/id"
	"github.com/xinyao/wuxing-premium/store"
)

// Key is where the generated identifier lives in the KV store. The value
// survives for the life of the install and is regenerated only by an
// explicit Reset.
const Key = "device_unique_id"

// Provider yields the device identity.
type Provider interface {
	Identity(ctx context.Context) (string, error)
}

// TokenFunc returns a stable cross-reinstall identifier supplied by the
// platform (e.g. a cloud-account-scoped token), if one is available.
type TokenFunc func(ctx context.Context) (string, bool)

// Manager owns the device identity. Resolution order: cached value,
// platform token, persisted value, freshly generated ID. If the generated
// ID cannot be persisted the manager degrades to an in-memory identity for
// the current process, which silently breaks cross-device sync.
type Manager struct {
	kv       store.KV
	platform TokenFunc
	logger   *slog.Logger

	mu        sync.Mutex
	cached    string
	ephemeral bool
}

// New creates an identity manager backed by kv.
func New(kv store.KV, opts ...Option) *Manager {
	m := &Manager{
		kv:     kv,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Option configures a Manager.
type Option func(*Manager)

// WithPlatformToken supplies the platform's cross-reinstall identifier.
func WithPlatformToken(fn TokenFunc) Option {
	return func(m *Manager) {
		m.platform = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Identity implements Provider. It is idempotent: the same value is
// returned across calls within a process, and across restarts when
// persistence is healthy.
func (m *Manager) Identity(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != "" {
		return m.cached, nil
	}

	if m.platform != nil {
		if token, ok := m.platform(ctx); ok && token != "" {
			m.cached = token
			return m.cached, nil
		}
	}

	saved, err := m.kv.Get(ctx, Key)
	if err == nil {
		m.cached = saved
		return m.cached, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("identity store read failed", "error", err)
	}

	generated := id.NewDeviceID().String()
	if err := m.kv.Put(ctx, Key, generated); err != nil {
		m.ephemeral = true
		m.logger.Error("device identity not persisted; cross-device sync degraded to this session",
			"error", err,
		)
	}

	m.cached = generated
	return m.cached, nil
}

// Ephemeral reports whether the identity is in-memory only for this
// process because persistence failed.
func (m *Manager) Ephemeral() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ephemeral
}

// Reset discards the persisted identity so the next Identity call
// regenerates it. Developer/debug use only.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cached = ""
	m.ephemeral = false
	return m.kv.Delete(ctx, Key)
}
