package billing

import "context"

// Feed is the platform's continuous transaction-update stream plus the
// snapshot and acknowledge primitives that go with it.
type Feed interface {
	// Updates subscribes to the transaction stream. The returned channel is
	// closed when the platform resets the feed; the consumer re-subscribes
	// from scratch rather than treating the close as an error.
	Updates(ctx context.Context) (<-chan Update, error)

	// Current returns a snapshot of the entitlement transactions the
	// platform currently considers held, each in its verification envelope.
	// Transactions absent from the snapshot are superseded (expired,
	// refunded, revoked).
	Current(ctx context.Context) ([]Update, error)

	// Finish acknowledges durable processing of a transaction, verified or
	// not, preventing infinite redelivery.
	Finish(ctx context.Context, transactionID string) error
}

// Restorer is an optional Feed capability: force a resync with the store,
// the platform's "restore purchases" primitive.
type Restorer interface {
	Restore(ctx context.Context) error
}
