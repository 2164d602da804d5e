package premium

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xinyao/wuxing-premium/billing"
	"github.com/xinyao/wuxing-premium/entitlement"
	"github.com/xinyao/wuxing-premium/identity"
	"github.com/xinyao/wuxing-premium/ledger"
	"github.com/xinyao/wuxing-premium/plugin"
	"github.com/xinyao/wuxing-premium/types"
)

// RemoteLedger is the cross-device authority consulted when no local
// entitlement is held. *ledger.Client implements it; tests substitute
// fakes.
type RemoteLedger interface {
	Push(ctx context.Context, rec ledger.Record) error
	Query(ctx context.Context, deviceID string) (*ledger.Record, error)
	MarkExpired(ctx context.Context, transactionID string) error
}

var _ RemoteLedger = (*ledger.Client)(nil)

// Engine reconciles the local entitlement store with the remote ledger
// into a single ResolvedState and republishes it on every relevant
// change. It is the only writer of the resolved state.
type Engine struct {
	local   *LocalStore
	remote  RemoteLedger // nil = local-only mode
	ident   identity.Provider
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   types.Clock

	refreshMinInterval time.Duration
	periodicRefresh    time.Duration

	// epoch is the resolution sequence number. Each trigger takes the next
	// value; only the result carrying the latest value commits, so a slow
	// remote response can never overwrite a newer resolution.
	epoch atomic.Uint64

	mu             sync.Mutex
	state          entitlement.ResolvedState
	lastRefresh    time.Time
	markedExpired  map[string]bool
	inflightCancel context.CancelFunc
	subscribers    map[uint64]chan entitlement.ResolvedState
	nextSubID      uint64

	runCancel context.CancelFunc
	started   atomic.Bool
	stopped   atomic.Bool
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates an Engine over the platform feed, the remote ledger (nil
// for local-only operation) and the device identity provider.
func New(feed billing.Feed, remote RemoteLedger, ident identity.Provider, opts ...Option) *Engine {
	e := &Engine{
		local:              NewLocalStore(feed),
		remote:             remote,
		ident:              ident,
		plugins:            plugin.NewRegistry(),
		logger:             slog.Default(),
		clock:              types.SystemClock{},
		refreshMinInterval: 30 * time.Second,
		markedExpired:      make(map[string]bool),
		subscribers:        make(map[uint64]chan entitlement.ResolvedState),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.local.logger = e.logger
	e.local.plugins = e.plugins
	e.local.push = e.pushToLedger
	e.local.clock = e.clock

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		if err := e.plugins.Register(p); err != nil {
			e.logger.Warn("plugin registration failed", "plugin", p.Name(), "error", err)
		}
	}
}

// WithClock sets the time source. Tests pin it.
func WithClock(clock types.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithRefreshMinInterval bounds how often explicit Refresh calls reach
// the remote ledger.
func WithRefreshMinInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.refreshMinInterval = d
	}
}

// WithPeriodicRefresh enables a bounded background refresh at the given
// interval. Zero (the default) disables it; apps usually refresh on
// foreground instead.
func WithPeriodicRefresh(d time.Duration) Option {
	return func(e *Engine) {
		e.periodicRefresh = d
	}
}

// WithResubscribeDelay sets the pause before re-subscribing after a feed
// reset.
func WithResubscribeDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.local.resubscribeDelay = d
	}
}

// Start begins the feed-consumption task and resolves the initial state.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyActive
	}

	rctx, cancel := context.WithCancel(ctx)
	e.runCancel = cancel

	e.plugins.EmitInit(rctx, e)

	// Subscribe before returning so a transaction delivered right after
	// Start lands in the subscription instead of a gap. Failure is not
	// fatal; the run loop retries.
	updates, err := e.local.subscribe(rctx)
	if err != nil {
		e.logger.Warn("billing feed subscription failed at startup", "error", err)
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.local.Run(rctx, updates)
	}()
	go func() {
		defer e.wg.Done()
		e.watchLocal(rctx)
	}()

	if e.periodicRefresh > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.refreshWorker(rctx)
		}()
	}

	// Initial resolution off the startup path; subscribers see it arrive.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.resolve(rctx, "start")
	}()

	e.logger.Info("premium engine started",
		"remote_ledger", e.remote != nil,
		"periodic_refresh", e.periodicRefresh,
	)

	return nil
}

// Stop cancels the background tasks exactly once and closes all
// subscriber channels.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		if e.runCancel != nil {
			e.runCancel()
		}
		e.wg.Wait()

		e.plugins.EmitShutdown(context.Background())

		e.mu.Lock()
		for id, ch := range e.subscribers {
			close(ch)
			delete(e.subscribers, id)
		}
		e.mu.Unlock()

		e.logger.Info("premium engine stopped")
	})

	return nil
}

// State returns the latest resolved state. Before the first resolution
// commits it is the zero value: not premium, never resolved.
func (e *Engine) State() entitlement.ResolvedState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// IsPremium reports the latest resolved premium flag. Safe to call from
// rendering code.
func (e *Engine) IsPremium() bool {
	return e.State().IsPremium
}

// LocalEntitlements returns the entitlements currently verified on this
// device.
func (e *Engine) LocalEntitlements() []entitlement.Entitlement {
	return e.local.Active(e.clock.Now())
}

// Subscribe registers for resolved-state broadcasts. Every committed
// resolution is delivered, even when unchanged; consumers diff on
// IsPremium to skip redundant work. The returned func unsubscribes.
func (e *Engine) Subscribe() (<-chan entitlement.ResolvedState, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSubID
	e.nextSubID++

	ch := make(chan entitlement.ResolvedState, 8)
	e.subscribers[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if sub, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(sub)
		}
	}
}

// Refresh re-evaluates entitlement on demand, rate-limited so foreground
// churn cannot hammer the remote ledger.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.stopped.Load() {
		return ErrEngineClosed
	}

	now := e.clock.Now()

	e.mu.Lock()
	if !e.lastRefresh.IsZero() && now.Sub(e.lastRefresh) < e.refreshMinInterval {
		e.mu.Unlock()
		return ErrRefreshThrottled
	}
	e.lastRefresh = now
	e.mu.Unlock()

	e.resolve(ctx, "refresh")
	return nil
}

// Restore handles the explicit "restore purchases" user action: resync
// with the platform store, then re-resolve. This is the one trigger that
// surfaces an error, and only when both local and remote checks fail
// outright.
func (e *Engine) Restore(ctx context.Context) error {
	if e.stopped.Load() {
		return ErrEngineClosed
	}

	if r, ok := e.local.feed.(billing.Restorer); ok {
		if err := r.Restore(ctx); err != nil {
			e.logger.Warn("platform store sync failed", "error", err)
		}
		e.local.refresh(ctx)
	}

	st := e.resolve(ctx, "restore")
	if !st.IsPremium && st.Staleness == entitlement.StalenessNetworkError {
		return ErrRestoreFailed
	}

	return nil
}

// watchLocal turns local entitlement changes into resolution triggers.
func (e *Engine) watchLocal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-e.local.Changes():
			if !ok {
				return
			}
			e.resolve(ctx, "local-change")
		}
	}
}

// refreshWorker is the bounded periodic refresh.
func (e *Engine) refreshWorker(ctx context.Context) {
	ticker := time.NewTicker(e.periodicRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.resolve(ctx, "periodic")
		}
	}
}

// resolve runs one reconciliation pass. Precedence: a locally-verified
// active entitlement always wins and the remote ledger is never consulted
// to downgrade it; otherwise the remote ledger decides; a failed remote
// query resolves to not-premium marked inconclusive.
func (e *Engine) resolve(ctx context.Context, reason string) entitlement.ResolvedState {
	epoch := e.epoch.Add(1)

	// A newer trigger supersedes any in-flight remote call.
	e.mu.Lock()
	if e.inflightCancel != nil {
		e.inflightCancel()
	}
	rctx, cancel := context.WithCancel(ctx)
	e.inflightCancel = cancel
	e.mu.Unlock()
	defer cancel()

	now := e.clock.Now()

	if locals := e.local.Active(now); len(locals) > 0 {
		return e.commit(ctx, epoch, reason, entitlement.ResolvedState{
			IsPremium:  true,
			Backing:    &locals[0],
			ResolvedAt: now,
			Staleness:  entitlement.StalenessFresh,
		})
	}

	if e.remote == nil {
		return e.commit(ctx, epoch, reason, entitlement.ResolvedState{
			ResolvedAt: now,
			Staleness:  entitlement.StalenessLocalOnly,
		})
	}

	deviceID, err := e.ident.Identity(rctx)
	if err != nil {
		e.logger.Warn("device identity unavailable, skipping remote check", "error", err)
		return e.commit(ctx, epoch, reason, entitlement.ResolvedState{
			ResolvedAt: now,
			Staleness:  entitlement.StalenessLocalOnly,
		})
	}

	rec, err := e.remote.Query(rctx, deviceID)

	var st entitlement.ResolvedState
	switch {
	case err != nil:
		// Inconclusive: absence of information, not absence of entitlement.
		e.logger.Warn("remote ledger query failed", "reason", reason, "error", err)
		st = entitlement.ResolvedState{
			ResolvedAt: now,
			Staleness:  entitlement.StalenessNetworkError,
		}

	case rec == nil:
		st = entitlement.ResolvedState{
			ResolvedAt: now,
			Staleness:  entitlement.StalenessFresh,
		}

	case rec.Expired(e.clock.Now()):
		st = entitlement.ResolvedState{
			ResolvedAt: now,
			Staleness:  entitlement.StalenessFresh,
		}
		e.expireRemote(rec.TransactionID)

	default:
		ent := rec.Entitlement()
		st = entitlement.ResolvedState{
			IsPremium:  true,
			Backing:    &ent,
			ResolvedAt: now,
			Staleness:  entitlement.StalenessFresh,
		}
	}

	return e.commit(ctx, epoch, reason, st)
}

// commit publishes st if, and only if, this resolution is still the
// newest. Two gates apply: the epoch compare, and a re-check that no
// local entitlement arrived while a remote-path result was in flight.
func (e *Engine) commit(ctx context.Context, epoch uint64, reason string, st entitlement.ResolvedState) entitlement.ResolvedState {
	e.mu.Lock()

	if epoch != e.epoch.Load() {
		prior := e.state
		e.mu.Unlock()
		e.logger.Debug("discarding superseded resolution", "reason", reason, "epoch", epoch)
		return prior
	}

	if !st.IsPremium {
		// Re-check before apply: a just-verified local transaction outranks
		// whatever the remote path concluded.
		if locals := e.local.Active(e.clock.Now()); len(locals) > 0 {
			prior := e.state
			e.mu.Unlock()
			e.logger.Debug("discarding resolution, local entitlement arrived", "reason", reason)
			return prior
		}
	}

	e.state = st
	subs := make([]chan entitlement.ResolvedState, 0, len(e.subscribers))
	for _, ch := range e.subscribers {
		subs = append(subs, ch)
	}
	e.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- st:
		default:
			// Slow subscriber; it can always read State().
		}
	}

	e.plugins.EmitStateResolved(ctx, st)

	e.logger.Debug("entitlement resolved",
		"reason", reason,
		"is_premium", st.IsPremium,
		"staleness", st.Staleness,
		"epoch", epoch,
	)

	return st
}

// expireRemote marks a stale active ledger record inactive, fire and
// forget, at most once per transaction per session.
func (e *Engine) expireRemote(transactionID string) {
	e.mu.Lock()
	if e.markedExpired[transactionID] {
		e.mu.Unlock()
		return
	}
	e.markedExpired[transactionID] = true
	e.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := e.remote.MarkExpired(ctx, transactionID); err != nil {
			e.logger.Warn("mark expired failed", "transaction_id", transactionID, "error", err)
			return
		}
		e.plugins.EmitRecordExpired(ctx, transactionID)
	}()
}

// pushToLedger forwards a verified local entitlement to the remote
// ledger, best-effort.
func (e *Engine) pushToLedger(ctx context.Context, ent entitlement.Entitlement) {
	if e.remote == nil {
		return
	}

	deviceID, err := e.ident.Identity(ctx)
	if err != nil {
		e.logger.Warn("ledger push skipped, identity unavailable", "error", err)
		e.plugins.EmitLedgerPushFailed(ctx, ent.TransactionID, err)
		return
	}

	if err := e.remote.Push(ctx, ledger.NewRecord(deviceID, ent)); err != nil {
		e.logger.Warn("ledger push failed",
			"transaction_id", ent.TransactionID,
			"error", err,
		)
		e.plugins.EmitLedgerPushFailed(ctx, ent.TransactionID, err)
	}
}
