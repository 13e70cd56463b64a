package types

// AccountMeta is a capability reference to an account passed into an
// instruction: the address plus the privileges the caller grants the
// callee for it. The callee may not read more into the account than
// these flags allow.
type AccountMeta struct {
	Pubkey     Pubkey `cramberry:"1"`
	IsSigner   bool   `cramberry:"2"`
	IsWritable bool   `cramberry:"3"`
}

// ReadOnly returns a non-signer, read-only meta.
func ReadOnly(pk Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk}
}

// Writable returns a non-signer, writable meta.
func Writable(pk Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk, IsWritable: true}
}

// Signer returns a signer meta, optionally writable.
func Signer(pk Pubkey, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pk, IsSigner: true, IsWritable: writable}
}

// Instruction is a single call into a program.
type Instruction struct {
	ProgramID Pubkey        `cramberry:"1"`
	Accounts  []AccountMeta `cramberry:"2"`
	Data      []byte        `cramberry:"3"`
}
