package premium

import "github.com/xinyao/wuxing-premium/id"

// ID is the identifier type for devices and transactions.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
