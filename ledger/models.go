// Package ledger is the client for the remote subscription ledger, the
// cross-device authority. Rows are keyed by transaction ID; pushes are
// idempotent upserts, and a query failure is treated as "no information",
// never as "not entitled".
package ledger

import (
	"time"

	"github.com/xinyao/wuxing-premium/entitlement"
)

// Record is one subscription row in the remote ledger.
type Record struct {
	DeviceID       string     `json:"device_id"`
	ProductID      string     `json:"product_id"`
	TransactionID  string     `json:"transaction_id"`
	PurchaseDate   time.Time  `json:"purchase_date"`
	ExpirationDate *time.Time `json:"expiration_date"`
	IsActive       bool       `json:"is_active"`
	ProductType    string     `json:"product_type"`
}

// NewRecord builds the ledger row for a locally verified entitlement.
func NewRecord(deviceID string, e entitlement.Entitlement) Record {
	return Record{
		DeviceID:       deviceID,
		ProductID:      e.ProductID,
		TransactionID:  e.TransactionID,
		PurchaseDate:   e.PurchaseDate,
		ExpirationDate: e.ExpirationDate,
		IsActive:       true,
		ProductType:    string(e.ProductType),
	}
}

// Expired reports whether the record's expiration, if any, has passed.
// Records without an expiration (lifetime purchases) never expire.
func (r Record) Expired(now time.Time) bool {
	if r.ExpirationDate == nil {
		return false
	}

	return !r.ExpirationDate.After(now)
}

// Entitlement reconstructs a remote-sourced entitlement from the record.
func (r Record) Entitlement() entitlement.Entitlement {
	return entitlement.Entitlement{
		ProductID:      r.ProductID,
		ProductType:    entitlement.ProductType(r.ProductType),
		PurchaseDate:   r.PurchaseDate,
		ExpirationDate: r.ExpirationDate,
		TransactionID:  r.TransactionID,
		Source:         entitlement.SourceRemote,
	}
}
