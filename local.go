package premium

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xinyao/wuxing-premium/billing"
	"github.com/xinyao/wuxing-premium/entitlement"
	"github.com/xinyao/wuxing-premium/plugin"
	"github.com/xinyao/wuxing-premium/types"
)

// LocalStore is the authoritative view of what this device has purchased
// and can cryptographically trust right now. It consumes the platform
// transaction feed on a single long-lived task and maintains the active
// entitlement set keyed by product ID.
type LocalStore struct {
	feed    billing.Feed
	logger  *slog.Logger
	plugins *plugin.Registry

	// push is invoked for every verified transaction, best-effort; it must
	// never block or fail local entitlement recognition.
	push func(ctx context.Context, ent entitlement.Entitlement)

	resubscribeDelay time.Duration
	clock            types.Clock

	mu        sync.RWMutex
	active    map[string]entitlement.Entitlement // keyed by product ID
	processed map[string]bool                    // txn IDs already finished and pushed
	changes   chan []entitlement.Entitlement
}

// NewLocalStore creates a store over the given feed. Run must be called
// for the store to receive updates.
func NewLocalStore(feed billing.Feed) *LocalStore {
	return &LocalStore{
		feed:             feed,
		logger:           slog.Default(),
		plugins:          plugin.NewRegistry(),
		resubscribeDelay: time.Second,
		clock:            types.SystemClock{},
		active:           make(map[string]entitlement.Entitlement),
		processed:        make(map[string]bool),
		changes:          make(chan []entitlement.Entitlement, 1),
	}
}

// subscribe opens a feed subscription and catches up on entitlements that
// arrived while unsubscribed. The subscription must be open before the
// snapshot is read, or a transaction landing between the two is lost.
func (s *LocalStore) subscribe(ctx context.Context) (<-chan billing.Update, error) {
	updates, err := s.feed.Updates(ctx)
	if err != nil {
		return nil, err
	}

	s.refresh(ctx)

	return updates, nil
}

// Run consumes the transaction feed until ctx is cancelled. A closed
// updates channel is a platform feed reset: the store re-subscribes from
// scratch rather than surfacing an error. A nil updates channel makes Run
// open its own subscription; callers that must not miss early deliveries
// subscribe first and pass the channel in.
func (s *LocalStore) Run(ctx context.Context, updates <-chan billing.Update) {
	for {
		if updates == nil {
			var err error
			updates, err = s.subscribe(ctx)
			if err != nil {
				s.logger.Warn("billing feed subscription failed", "error", err)
				if !s.sleep(ctx) {
					return
				}
				continue
			}
		}

		if !s.consume(ctx, updates) {
			return
		}
		updates = nil
		if !s.sleep(ctx) {
			return
		}

		s.logger.Info("billing feed reset, re-subscribing")
	}
}

// consume drains one subscription. Returns false when ctx ended.
func (s *LocalStore) consume(ctx context.Context, updates <-chan billing.Update) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case u, ok := <-updates:
			if !ok {
				return true
			}
			s.handle(ctx, u)
		}
	}
}

// handle processes one delivered update in delivery order.
func (s *LocalStore) handle(ctx context.Context, u billing.Update) {
	txnID := u.Transaction.TransactionID

	if !u.Verified() {
		// Fully distrusted: no entitlement, no retry. Finishing anyway keeps
		// the platform from redelivering.
		s.logger.Warn("distrusting unverified transaction",
			"transaction_id", txnID,
			"product_id", u.Transaction.ProductID,
		)
		s.plugins.EmitVerificationFailed(ctx, txnID)
		s.finish(ctx, txnID)
		return
	}

	ent := u.Transaction.Entitlement()
	s.plugins.EmitTransactionVerified(ctx, ent)

	s.refresh(ctx)
	s.acknowledge(ctx, ent)
}

// acknowledge finishes a verified transaction with the platform and kicks
// off the best-effort ledger push, at most once per transaction. Both the
// delivery path and the snapshot catch-up funnel through here, so a
// transaction recovered from the snapshot is still finished and synced.
func (s *LocalStore) acknowledge(ctx context.Context, ent entitlement.Entitlement) {
	s.mu.Lock()
	if s.processed[ent.TransactionID] {
		s.mu.Unlock()
		return
	}
	s.processed[ent.TransactionID] = true
	s.mu.Unlock()

	s.finish(ctx, ent.TransactionID)

	if s.push != nil {
		// Concurrent so a slow remote never delays recognition of the next
		// local transaction.
		go s.push(ctx, ent)
	}
}

// refresh rebuilds the active set from the platform's current-entitlement
// snapshot. Absence in the snapshot supersedes a previously held
// entitlement (expiry, refund, revocation).
func (s *LocalStore) refresh(ctx context.Context) {
	snapshot, err := s.feed.Current(ctx)
	if err != nil {
		s.logger.Warn("billing snapshot failed", "error", err)
		return
	}

	next := make(map[string]entitlement.Entitlement, len(snapshot))
	for _, u := range snapshot {
		if !u.Verified() {
			continue
		}
		next[u.Transaction.ProductID] = u.Transaction.Entitlement()
	}

	s.mu.Lock()
	var added []entitlement.Entitlement
	for _, e := range next {
		if !s.processed[e.TransactionID] {
			added = append(added, e)
		}
	}
	changed := !sameEntitlements(s.active, next)
	if changed {
		s.active = next
	}
	s.mu.Unlock()

	for _, e := range added {
		s.acknowledge(ctx, e)
	}

	if changed {
		active := s.Active(s.clock.Now())
		s.notify(active)
		s.plugins.EmitLocalChanged(ctx, active)
	}
}

func (s *LocalStore) finish(ctx context.Context, transactionID string) {
	if err := s.feed.Finish(ctx, transactionID); err != nil {
		s.logger.Warn("transaction finish failed", "transaction_id", transactionID, "error", err)
	}
}

// Active returns a snapshot of entitlements in force at the given
// instant, most recent purchase first.
func (s *LocalStore) Active(now time.Time) []entitlement.Entitlement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]entitlement.Entitlement, 0, len(s.active))
	for _, e := range s.active {
		if e.Active(now) {
			result = append(result, e)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PurchaseDate.After(result[j].PurchaseDate)
	})

	return result
}

// Changes returns the change stream: a new active-set snapshot on every
// change. The channel coalesces; only the newest snapshot is retained for
// a slow consumer.
func (s *LocalStore) Changes() <-chan []entitlement.Entitlement {
	return s.changes
}

func (s *LocalStore) notify(active []entitlement.Entitlement) {
	for {
		select {
		case s.changes <- active:
			return
		default:
			// Drop the stale pending snapshot and retry with the newest.
			select {
			case <-s.changes:
			default:
			}
		}
	}
}

// sleep waits the resubscribe delay; false when ctx ended first.
func (s *LocalStore) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.resubscribeDelay):
		return true
	}
}

func sameEntitlements(a, b map[string]entitlement.Entitlement) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av.TransactionID != bv.TransactionID {
			return false
		}
	}
	return true
}
