// Package premium reconciles paid entitlements across a local platform
// billing feed and a shared remote ledger into a single answer: does this
// device currently hold premium access?
//
// Premium is designed as a library, not a service. Import it directly into
// your application. It provides:
//
//   - A verified local entitlement cache fed by the platform billing feed
//   - A cross-device remote ledger client with idempotent pushes
//   - A reconciliation engine that resolves local and remote evidence,
//     always preferring local proof of purchase
//   - A pure feature-access policy mapping entitlement to content gates
//   - A stable per-device identity for keying ledger records
//
// # Quick Start
//
// Create an engine over your billing feed, remote ledger and device
// identity:
//
//	import (
//	    "github.com/xinyao/wuxing-premium"
//	    "github.com/xinyao/wuxing-premium/identity"
//	    "github.com/xinyao/wuxing-premium/ledger"
//	    "github.com/xinyao/wuxing-premium/store/bolt"
//	)
//
//	kv, err := bolt.New(idPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ident := identity.New(kv)
//	remote := ledger.New(baseURL, apiKey)
//
//	engine := premium.New(feed, remote, ident)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// The engine holds one ResolvedState at a time and republishes it on every
// trigger:
//
//	states, cancel := engine.Subscribe()
//	defer cancel()
//	for st := range states {
//	    render(st.IsPremium)
//	}
//
// Resolution never downgrades a locally-verified entitlement on the word
// of the network. When no local entitlement exists the remote ledger is
// consulted, and a failed query yields an inconclusive not-premium state
// rather than a conclusive one:
//
//	st := engine.State()
//	if !st.Conclusive() {
//	    // Absence of information, not absence of entitlement.
//	}
//
// Feature gating is a pure function of the resolved flag:
//
//	if policy.CanAccessModule(policy.ModuleFood, engine.IsPremium()) {
//	    showGuide()
//	}
//
// # TypeID
//
// Device and transaction identifiers use TypeID for globally unique,
// type-safe values:
//
//	dev_01h2xcejqtf2nbrexx3vqjhp41  // Device ID
//	txn_01h455vb4pex5vsknk084sn02q  // Transaction ID
//
// TypeIDs are K-sortable, giving ledger records natural time-ordering.
package premium
