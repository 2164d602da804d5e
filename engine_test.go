package premium_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	premium "github.com/xinyao/wuxing-premium"
	"github.com/xinyao/wuxing-premium/billing/memory"
	"github.com/xinyao/wuxing-premium/entitlement"
	"github.com/xinyao/wuxing-premium/identity"
	"github.com/xinyao/wuxing-premium/ledger"
	storememory "github.com/xinyao/wuxing-premium/store/memory"
	"github.com/xinyao/wuxing-premium/types"
)

// fakeRemote is an in-memory RemoteLedger with controllable latency and
// failure modes.
type fakeRemote struct {
	mu         sync.Mutex
	record     *ledger.Record
	queryErr   error
	queryDelay time.Duration
	firstDelay time.Duration // applies to the first query only
	pushed     []ledger.Record
	expired    []string
	queries    int
}

func (f *fakeRemote) Push(_ context.Context, rec ledger.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushed = append(f.pushed, rec)
	return nil
}

func (f *fakeRemote) Query(ctx context.Context, _ string) (*ledger.Record, error) {
	f.mu.Lock()
	delay := f.queryDelay
	if f.queries == 0 && f.firstDelay > 0 {
		delay = f.firstDelay
	}
	rec := f.record
	err := f.queryErr
	f.queries++
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (f *fakeRemote) MarkExpired(_ context.Context, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.expired = append(f.expired, transactionID)
	return nil
}

func (f *fakeRemote) expiredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.expired)
}

func (f *fakeRemote) pushedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.pushed)
}

func newTestEngine(t *testing.T, feed *memory.Feed, remote premium.RemoteLedger, opts ...premium.Option) *premium.Engine {
	t.Helper()

	ident := identity.New(storememory.New())
	opts = append(opts, premium.WithRefreshMinInterval(0))
	e := premium.New(feed, remote, ident, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = e.Stop()
	})

	return e
}

func waitFor(t *testing.T, e *premium.Engine, cond func(entitlement.ResolvedState) bool) entitlement.ResolvedState {
	t.Helper()

	var last entitlement.ResolvedState
	require.Eventually(t, func() bool {
		last = e.State()
		return cond(last)
	}, 2*time.Second, 10*time.Millisecond)

	return last
}

func TestLocalPurchaseGrantsPremium(t *testing.T) {
	feed := memory.New()
	e := newTestEngine(t, feed, &fakeRemote{})

	exp := time.Now().Add(30 * 24 * time.Hour)
	u := feed.Purchase(entitlement.ProductIDMonthly, &exp)

	st := waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	require.NotNil(t, st.Backing)
	assert.Equal(t, entitlement.SourceLocal, st.Backing.Source)
	assert.Equal(t, entitlement.ProductIDMonthly, st.Backing.ProductID)
	assert.Equal(t, entitlement.StalenessFresh, st.Staleness)

	// Verified transactions are acknowledged back to the platform feed.
	assert.Eventually(t, func() bool {
		return feed.Finished(u.Transaction.TransactionID) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocalPurchasePushedToLedger(t *testing.T) {
	feed := memory.New()
	remote := &fakeRemote{}
	e := newTestEngine(t, feed, remote)

	feed.Purchase(entitlement.ProductIDLifetime, nil)
	waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	assert.Eventually(t, func() bool {
		return remote.pushedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	remote.mu.Lock()
	rec := remote.pushed[0]
	remote.mu.Unlock()

	assert.Equal(t, entitlement.ProductIDLifetime, rec.ProductID)
	assert.Nil(t, rec.ExpirationDate)
	assert.True(t, rec.IsActive)
}

func TestSnapshotCatchUpFinishesAndPushes(t *testing.T) {
	feed := memory.New()

	// Purchased before the engine exists; only the snapshot can surface it.
	exp := time.Now().Add(24 * time.Hour)
	u := feed.Purchase(entitlement.ProductIDMonthly, &exp)

	remote := &fakeRemote{}
	e := newTestEngine(t, feed, remote)

	waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	// Recovery through the snapshot still acknowledges and syncs, exactly
	// once.
	assert.Eventually(t, func() bool {
		return feed.Finished(u.Transaction.TransactionID) == 1 && remote.pushedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, feed.Finished(u.Transaction.TransactionID))
	assert.Equal(t, 1, remote.pushedCount())
}

func TestFeedResetResubscribes(t *testing.T) {
	feed := memory.New()
	e := newTestEngine(t, feed, &fakeRemote{},
		premium.WithResubscribeDelay(10*time.Millisecond),
	)

	exp := time.Now().Add(24 * time.Hour)
	feed.Purchase(entitlement.ProductIDMonthly, &exp)
	waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	feed.Reset()

	// A purchase on the fresh subscription must be recognized and finished.
	u := feed.Purchase(entitlement.ProductIDYearly, &exp)

	assert.Eventually(t, func() bool {
		for _, ent := range e.LocalEntitlements() {
			if ent.TransactionID == u.Transaction.TransactionID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return feed.Finished(u.Transaction.TransactionID) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLifetimePurchaseNeverExpires(t *testing.T) {
	feed := memory.New()
	e := newTestEngine(t, feed, &fakeRemote{})

	feed.Purchase(entitlement.ProductIDLifetime, nil)
	st := waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	require.NotNil(t, st.Backing)
	assert.Nil(t, st.Backing.ExpirationDate)
	assert.True(t, st.Backing.Active(time.Now().AddDate(50, 0, 0)))
}

func TestRemoteRecordGrantsPremiumWithoutLocal(t *testing.T) {
	feed := memory.New()
	exp := time.Now().Add(24 * time.Hour)
	remote := &fakeRemote{record: &ledger.Record{
		DeviceID:       "dev_other",
		ProductID:      entitlement.ProductIDYearly,
		TransactionID:  "txn_remote",
		PurchaseDate:   time.Now().Add(-time.Hour),
		ExpirationDate: &exp,
		IsActive:       true,
		ProductType:    string(entitlement.ProductYearly),
	}}
	e := newTestEngine(t, feed, remote)

	st := waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	require.NotNil(t, st.Backing)
	assert.Equal(t, entitlement.SourceRemote, st.Backing.Source)
	assert.Equal(t, entitlement.StalenessFresh, st.Staleness)
}

func TestRemoteFailureIsInconclusive(t *testing.T) {
	feed := memory.New()
	remote := &fakeRemote{queryErr: errors.New("connection refused")}
	e := newTestEngine(t, feed, remote)

	st := waitFor(t, e, func(st entitlement.ResolvedState) bool { return !st.ResolvedAt.IsZero() })

	assert.False(t, st.IsPremium)
	assert.Equal(t, entitlement.StalenessNetworkError, st.Staleness)
	assert.False(t, st.Conclusive())
}

func TestCleanEmptyRemoteIsConclusive(t *testing.T) {
	feed := memory.New()
	e := newTestEngine(t, feed, &fakeRemote{})

	st := waitFor(t, e, func(st entitlement.ResolvedState) bool { return !st.ResolvedAt.IsZero() })

	assert.False(t, st.IsPremium)
	assert.Equal(t, entitlement.StalenessFresh, st.Staleness)
	assert.True(t, st.Conclusive())
}

func TestLocalPrecedenceOverSlowRemote(t *testing.T) {
	feed := memory.New()

	// Remote is slow and would conclude not-premium.
	remote := &fakeRemote{queryDelay: 200 * time.Millisecond}
	e := newTestEngine(t, feed, remote)

	// Give the initial resolution time to get in flight, then purchase.
	time.Sleep(50 * time.Millisecond)
	exp := time.Now().Add(24 * time.Hour)
	feed.Purchase(entitlement.ProductIDMonthly, &exp)

	waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	// The stale remote conclusion must not land after the local one.
	time.Sleep(300 * time.Millisecond)
	assert.True(t, e.State().IsPremium)
	assert.Equal(t, entitlement.SourceLocal, e.State().Backing.Source)
}

func TestSupersededRemoteResolutionIsDiscarded(t *testing.T) {
	feed := memory.New()

	// The first query is slow and sees no record; before it completes, a
	// record appears and a second, fast query wins.
	remote := &fakeRemote{firstDelay: 300 * time.Millisecond}
	e := newTestEngine(t, feed, remote)

	time.Sleep(50 * time.Millisecond)

	exp := time.Now().Add(24 * time.Hour)
	remote.mu.Lock()
	remote.record = &ledger.Record{
		DeviceID:       "dev_other",
		ProductID:      entitlement.ProductIDMonthly,
		TransactionID:  "txn_late",
		PurchaseDate:   time.Now().Add(-time.Hour),
		ExpirationDate: &exp,
		IsActive:       true,
		ProductType:    string(entitlement.ProductMonthly),
	}
	remote.mu.Unlock()

	require.NoError(t, e.Refresh(context.Background()))
	waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	// The slow first conclusion must not land after the newer one.
	time.Sleep(400 * time.Millisecond)
	assert.True(t, e.State().IsPremium)
	require.NotNil(t, e.State().Backing)
	assert.Equal(t, "txn_late", e.State().Backing.TransactionID)
}

func TestRemoteFailureNeverRevokesLocalPremium(t *testing.T) {
	feed := memory.New()
	remote := &fakeRemote{}
	e := newTestEngine(t, feed, remote)

	exp := time.Now().Add(24 * time.Hour)
	feed.Purchase(entitlement.ProductIDMonthly, &exp)
	waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	remote.mu.Lock()
	remote.queryErr = errors.New("ledger down")
	remote.mu.Unlock()

	require.NoError(t, e.Refresh(context.Background()))

	time.Sleep(100 * time.Millisecond)
	assert.True(t, e.State().IsPremium)
	assert.Equal(t, entitlement.StalenessFresh, e.State().Staleness)
}

func TestExpiredRemoteRecordMarkedExactlyOnce(t *testing.T) {
	feed := memory.New()
	exp := time.Now().Add(-time.Hour)
	remote := &fakeRemote{record: &ledger.Record{
		DeviceID:       "dev_self",
		ProductID:      entitlement.ProductIDMonthly,
		TransactionID:  "txn_expired",
		PurchaseDate:   time.Now().Add(-31 * 24 * time.Hour),
		ExpirationDate: &exp,
		IsActive:       true,
		ProductType:    string(entitlement.ProductMonthly),
	}}
	e := newTestEngine(t, feed, remote)

	st := waitFor(t, e, func(st entitlement.ResolvedState) bool { return !st.ResolvedAt.IsZero() })
	assert.False(t, st.IsPremium)
	assert.Equal(t, entitlement.StalenessFresh, st.Staleness)

	assert.Eventually(t, func() bool {
		return remote.expiredCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Seeing the same expired record again must not mark it again.
	require.NoError(t, e.Refresh(context.Background()))
	require.NoError(t, e.Refresh(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, remote.expiredCount())
}

func TestRefreshThrottled(t *testing.T) {
	feed := memory.New()
	ident := identity.New(storememory.New())
	e := premium.New(feed, &fakeRemote{}, ident,
		premium.WithRefreshMinInterval(time.Hour),
		premium.WithClock(types.FixedClock{At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = e.Stop()
	})

	require.NoError(t, e.Refresh(ctx))

	err := e.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, premium.ErrRefreshThrottled)
	assert.True(t, premium.IsThrottled(err))
}

func TestRestoreSurfacesErrorOnlyWhenInconclusive(t *testing.T) {
	t.Run("network failure without entitlement", func(t *testing.T) {
		feed := memory.New()
		remote := &fakeRemote{queryErr: errors.New("timeout")}
		e := newTestEngine(t, feed, remote)

		err := e.Restore(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, premium.ErrRestoreFailed)
		assert.True(t, premium.IsInconclusive(err))
		assert.Equal(t, 1, feed.Restores())
	})

	t.Run("clean empty result", func(t *testing.T) {
		feed := memory.New()
		e := newTestEngine(t, feed, &fakeRemote{})

		require.NoError(t, e.Restore(context.Background()))
	})

	t.Run("local entitlement restored", func(t *testing.T) {
		feed := memory.New()
		exp := time.Now().Add(24 * time.Hour)
		feed.Purchase(entitlement.ProductIDYearly, &exp)

		remote := &fakeRemote{queryErr: errors.New("timeout")}
		e := newTestEngine(t, feed, remote)

		require.NoError(t, e.Restore(context.Background()))
		assert.True(t, e.State().IsPremium)
	})
}

func TestUnverifiedTransactionIsIgnored(t *testing.T) {
	feed := memory.New()
	e := newTestEngine(t, feed, &fakeRemote{})

	u := feed.Unverified(entitlement.ProductIDMonthly)

	// The unverified transaction is acknowledged but grants nothing.
	assert.Eventually(t, func() bool {
		return feed.Finished(u.Transaction.TransactionID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, e.IsPremium())
	assert.Empty(t, e.LocalEntitlements())
}

func TestExpirationRevokesOnRefresh(t *testing.T) {
	feed := memory.New()
	e := newTestEngine(t, feed, &fakeRemote{})

	exp := time.Now().Add(80 * time.Millisecond)
	u := feed.Purchase(entitlement.ProductIDMonthly, &exp)

	waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })

	time.Sleep(120 * time.Millisecond)
	feed.Revoke(u.Transaction.TransactionID)

	waitFor(t, e, func(st entitlement.ResolvedState) bool { return !st.IsPremium })
}

func TestSubscribeReceivesEveryCommit(t *testing.T) {
	feed := memory.New()
	e := newTestEngine(t, feed, &fakeRemote{})

	waitFor(t, e, func(st entitlement.ResolvedState) bool { return !st.ResolvedAt.IsZero() })

	states, unsub := e.Subscribe()
	defer unsub()

	// Two refreshes with an unchanged result still publish twice.
	require.NoError(t, e.Refresh(context.Background()))
	st1 := <-states
	require.NoError(t, e.Refresh(context.Background()))
	st2 := <-states

	assert.Equal(t, st1.IsPremium, st2.IsPremium)
	assert.True(t, st2.ResolvedAt.After(st1.ResolvedAt) || st2.ResolvedAt.Equal(st1.ResolvedAt))
}

func TestStopClosesSubscribers(t *testing.T) {
	feed := memory.New()
	ident := identity.New(storememory.New())
	e := premium.New(feed, &fakeRemote{}, ident)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))

	states, _ := e.Subscribe()

	cancel()
	require.NoError(t, e.Stop())

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-states:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

type captureHook struct {
	mu     sync.Mutex
	active [][]entitlement.Entitlement
}

func (c *captureHook) Name() string { return "capture" }

func (c *captureHook) OnLocalChanged(_ context.Context, active []entitlement.Entitlement) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = append(c.active, active)
	return nil
}

func TestPinnedClockGovernsLocalActivity(t *testing.T) {
	feed := memory.New()
	hook := &captureHook{}
	pinned := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	e := newTestEngine(t, feed, &fakeRemote{},
		premium.WithClock(types.FixedClock{At: pinned}),
		premium.WithPlugin(hook),
	)

	// Expired on the wall clock, active under the pinned clock.
	exp := pinned.Add(24 * time.Hour)
	feed.Purchase(entitlement.ProductIDMonthly, &exp)

	st := waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })
	assert.Equal(t, pinned, st.ResolvedAt)

	assert.Eventually(t, func() bool {
		hook.mu.Lock()
		defer hook.mu.Unlock()
		return len(hook.active) > 0 && len(hook.active[len(hook.active)-1]) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLifecycleGuards(t *testing.T) {
	feed := memory.New()
	ident := identity.New(storememory.New())
	e := premium.New(feed, &fakeRemote{}, ident)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Start(ctx), premium.ErrAlreadyActive)

	cancel()
	require.NoError(t, e.Stop())

	assert.ErrorIs(t, e.Refresh(context.Background()), premium.ErrEngineClosed)
	assert.ErrorIs(t, e.Restore(context.Background()), premium.ErrEngineClosed)
}

func TestLocalOnlyModeWithoutRemote(t *testing.T) {
	feed := memory.New()
	ident := identity.New(storememory.New())
	e := premium.New(feed, nil, ident, premium.WithRefreshMinInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = e.Stop()
	})

	st := waitFor(t, e, func(st entitlement.ResolvedState) bool { return !st.ResolvedAt.IsZero() })
	assert.False(t, st.IsPremium)
	assert.Equal(t, entitlement.StalenessLocalOnly, st.Staleness)

	exp := time.Now().Add(24 * time.Hour)
	feed.Purchase(entitlement.ProductIDMonthly, &exp)

	st = waitFor(t, e, func(st entitlement.ResolvedState) bool { return st.IsPremium })
	assert.Equal(t, entitlement.StalenessFresh, st.Staleness)
}
