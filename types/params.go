package types

// Params contains chain parameters the application enforces.
type Params struct {
	MaxBlockBytes uint64 `cramberry:"1"`
	MaxTxBytes    uint64 `cramberry:"2"`
}
