package types

// GenesisDoc is the raw genesis document for chain initialization.
type GenesisDoc struct {
	ChainID       string    `cramberry:"1"`
	GenesisTime   Timestamp `cramberry:"2"`
	InitialHeight uint64    `cramberry:"3"`
	Params        Params    `cramberry:"4"`
	// Application-specific genesis state (JSON, see app.GenesisState).
	AppState []byte `cramberry:"5"`
}
