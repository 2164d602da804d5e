// Package entitlement defines the entitlement model and the resolved
// premium state published by the engine.
package entitlement

import (
	"strings"
	"time"
)

// Source identifies where an entitlement was established.
type Source string

const (
	// SourceLocal marks an entitlement verified from the on-device
	// transaction stream. Local entitlements always outrank remote records.
	SourceLocal Source = "local"

	// SourceRemote marks an entitlement reconstructed from the remote
	// ledger (cross-device sync).
	SourceRemote Source = "remote"
)

// ProductType classifies a purchasable product.
type ProductType string

const (
	ProductMonthly  ProductType = "monthly_subscription"
	ProductYearly   ProductType = "yearly_subscription"
	ProductLifetime ProductType = "lifetime_purchase"
)

// Store product identifiers.
const (
	ProductIDMonthly  = "com.xinyao.wuxing.monthly"
	ProductIDYearly   = "com.xinyao.wuxing.yearly"
	ProductIDLifetime = "com.xinyao.wuxing.lifetime"
)

// ProductTypeForProduct derives the product type from a store product ID.
func ProductTypeForProduct(productID string) ProductType {
	switch {
	case strings.Contains(productID, "monthly"):
		return ProductMonthly
	case strings.Contains(productID, "yearly"):
		return ProductYearly
	default:
		return ProductLifetime
	}
}

// Entitlement is a proof, local or remote, that the user currently holds a
// right to premium features. Values are immutable: a renewal is a new
// Entitlement with the same ProductID and a fresh TransactionID.
type Entitlement struct {
	ProductID      string      `json:"product_id"`
	ProductType    ProductType `json:"product_type"`
	PurchaseDate   time.Time   `json:"purchase_date"`
	ExpirationDate *time.Time  `json:"expiration_date,omitempty"` // nil = never expires
	TransactionID  string      `json:"transaction_id"`
	Source         Source      `json:"source"`
}

// Active reports whether the entitlement is in force at the given instant.
// A nil expiration date never expires (lifetime purchase).
func (e Entitlement) Active(now time.Time) bool {
	if e.ExpirationDate == nil {
		return true
	}

	return e.ExpirationDate.After(now)
}

// Staleness marks the resolved state's confidence given the freshness of
// its inputs.
type Staleness string

const (
	// StalenessFresh means the winning source answered conclusively.
	StalenessFresh Staleness = "fresh"

	// StalenessLocalOnly means the remote ledger was not consulted, so the
	// state reflects local knowledge only.
	StalenessLocalOnly Staleness = "stale-local-only"

	// StalenessNetworkError means the remote query failed; absence of
	// entitlement is inconclusive, not definitive.
	StalenessNetworkError Staleness = "stale-network-error"
)

// ResolvedState is the single authoritative premium determination. It is
// recomputed on every trigger, never mutated in place, and broadcast to
// subscribers on every committed resolution.
type ResolvedState struct {
	IsPremium  bool         `json:"is_premium"`
	Backing    *Entitlement `json:"backing,omitempty"`
	ResolvedAt time.Time    `json:"resolved_at"`
	Staleness  Staleness    `json:"staleness"`
}

// Conclusive reports whether "not premium" may be treated as definitive.
func (s ResolvedState) Conclusive() bool {
	return s.IsPremium || s.Staleness == StalenessFresh
}

// Age returns how long ago the state was resolved.
func (s ResolvedState) Age() time.Duration {
	return time.Since(s.ResolvedAt)
}

// IsStale reports whether the state was resolved longer ago than the
// given duration.
func (s ResolvedState) IsStale(staleDuration time.Duration) bool {
	return s.Age() > staleDuration
}
