package types

// HandshakeRequest is sent by the engine on every start.
type HandshakeRequest struct {
	// Last block the engine committed. Nil on a fresh chain.
	LastCommitted *BlockID `cramberry:"1"`
	// Set only on a fresh chain. Its AppState funds the genesis
	// accounts.
	Genesis *GenesisDoc `cramberry:"2"`
}

// HandshakeResponse reports the application's committed position.
type HandshakeResponse struct {
	// Last block the application committed. Nil before the first block.
	LastBlock *BlockID `cramberry:"1"`
	// State root at LastBlock, or the genesis root.
	AppHash *AppHash `cramberry:"2"`
	// Optional interfaces the application serves.
	Capabilities Capabilities `cramberry:"3"`
}
