// Package memory provides an in-process billing feed for tests and demos.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xinyao/wuxing-premium/billing"
)

// Feed is a fake platform billing feed. Tests script purchases,
// revocations and feed resets against it.
type Feed struct {
	mu       sync.Mutex
	current  map[string]billing.Update // keyed by transaction ID
	subs     []chan billing.Update
	finished map[string]int
	restores int
}

// New creates an empty fake feed.
func New() *Feed {
	return &Feed{
		current:  make(map[string]billing.Update),
		finished: make(map[string]int),
	}
}

// Updates implements billing.Feed.
func (f *Feed) Updates(_ context.Context) (<-chan billing.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan billing.Update, 16)
	f.subs = append(f.subs, ch)
	return ch, nil
}

// Current implements billing.Feed.
func (f *Feed) Current(_ context.Context) ([]billing.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := make([]billing.Update, 0, len(f.current))
	for _, u := range f.current {
		snapshot = append(snapshot, u)
	}
	return snapshot, nil
}

// Finish implements billing.Feed. It records the acknowledgement so tests
// can assert every delivered update was finished.
func (f *Feed) Finish(_ context.Context, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finished[transactionID]++
	return nil
}

// Restore implements billing.Restorer.
func (f *Feed) Restore(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.restores++
	return nil
}

// Purchase adds a verified purchase to the current-entitlement snapshot
// and delivers it on the stream. A nil expiration means a lifetime
// purchase.
func (f *Feed) Purchase(productID string, expiration *time.Time) billing.Update {
	u := billing.Update{
		Transaction: billing.Transaction{
			TransactionID:  uuid.NewString(),
			ProductID:      productID,
			PurchaseDate:   time.Now().UTC(),
			ExpirationDate: expiration,
		},
		State: billing.StateVerified,
	}

	f.mu.Lock()
	f.current[u.Transaction.TransactionID] = u
	f.mu.Unlock()

	f.deliver(u)
	return u
}

// Unverified delivers a transaction that fails the platform trust check.
// It never enters the current-entitlement snapshot.
func (f *Feed) Unverified(productID string) billing.Update {
	u := billing.Update{
		Transaction: billing.Transaction{
			TransactionID: uuid.NewString(),
			ProductID:     productID,
			PurchaseDate:  time.Now().UTC(),
		},
		State: billing.StateUnverified,
	}

	f.deliver(u)
	return u
}

// Revoke removes a transaction from the snapshot (refund, cancellation)
// and redelivers its update so consumers refresh.
func (f *Feed) Revoke(transactionID string) {
	f.mu.Lock()
	u, ok := f.current[transactionID]
	delete(f.current, transactionID)
	f.mu.Unlock()

	if ok {
		f.deliver(u)
	}
}

// Reset closes all update channels, simulating a platform feed reset.
// Consumers are expected to re-subscribe.
func (f *Feed) Reset() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Finished returns how many times a transaction was acknowledged.
func (f *Feed) Finished(transactionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.finished[transactionID]
}

// Restores returns how many times the store sync was requested.
func (f *Feed) Restores() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.restores
}

func (f *Feed) deliver(u billing.Update) {
	f.mu.Lock()
	subs := make([]chan billing.Update, len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- u:
		default:
			// Slow consumer; the snapshot still carries the truth.
		}
	}
}
