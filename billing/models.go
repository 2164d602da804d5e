// Package billing is the boundary to the platform billing subsystem: the
// asynchronous transaction feed, the verification envelope each event
// arrives in, and the finish/acknowledge primitive.
package billing

import (
	"time"

	"github.com/xinyao/wuxing-premium/entitlement"
)

// Transaction is a single purchase event delivered by the platform.
type Transaction struct {
	TransactionID  string     `json:"transaction_id"`
	ProductID      string     `json:"product_id"`
	PurchaseDate   time.Time  `json:"purchase_date"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

// Entitlement converts a verified transaction into a local entitlement.
func (t Transaction) Entitlement() entitlement.Entitlement {
	return entitlement.Entitlement{
		ProductID:      t.ProductID,
		ProductType:    entitlement.ProductTypeForProduct(t.ProductID),
		PurchaseDate:   t.PurchaseDate,
		ExpirationDate: t.ExpirationDate,
		TransactionID:  t.TransactionID,
		Source:         entitlement.SourceLocal,
	}
}

// VerifyState is the platform's trust verdict on a delivered transaction.
type VerifyState string

const (
	// StateVerified means the payload passed the platform's cryptographic
	// trust check.
	StateVerified VerifyState = "verified"

	// StateUnverified means the trust check failed. Unverified transactions
	// are fully distrusted: they contribute no entitlement and are not
	// retried, but they are still finished to stop redelivery.
	StateUnverified VerifyState = "unverified"
)

// Update is a transaction wrapped in its verification envelope, as
// delivered by the feed.
type Update struct {
	Transaction Transaction
	State       VerifyState
}

// Verified reports whether the update passed the platform trust check.
func (u Update) Verified() bool {
	return u.State == StateVerified
}
