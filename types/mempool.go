package types

// MempoolContext says why a transaction is being checked.
type MempoolContext uint8

const (
	// MempoolFirstSeen is a transaction the engine just received, or
	// one submitted by a tool.
	MempoolFirstSeen MempoolContext = 1
	// MempoolRevalidation is a pending transaction re-checked after a
	// commit, e.g. a create whose payer has since spent its lamports.
	MempoolRevalidation MempoolContext = 2
)

// GateVerdict is the result of CheckTx.
type GateVerdict struct {
	// 0 admits the transaction. Otherwise a runtime result code.
	Code uint32 `cramberry:"1"`
	// Rejection reason, for humans only.
	Info string `cramberry:"2"`
	// Higher is ordered first. Delegation transactions all use 0.
	Priority int64 `cramberry:"3"`
	// Base58 fee payer, used for same-sender sequencing.
	Sender string `cramberry:"4"`
}

// Accepted reports whether the transaction was admitted.
func (v GateVerdict) Accepted() bool { return v.Code == 0 }
