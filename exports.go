package premium

import "github.com/xinyao/wuxing-premium/entitlement"

// Re-export common types for convenience so users don't have to import the
// entitlement package.

// Entitlement is re-exported from the entitlement package.
type Entitlement = entitlement.Entitlement

// ResolvedState is re-exported from the entitlement package.
type ResolvedState = entitlement.ResolvedState

// Re-export staleness markers
const (
	StalenessFresh        = entitlement.StalenessFresh
	StalenessLocalOnly    = entitlement.StalenessLocalOnly
	StalenessNetworkError = entitlement.StalenessNetworkError
)
