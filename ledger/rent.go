package ledger

// AccountStorageOverhead is the per-account byte overhead charged on
// top of the data length.
const AccountStorageOverhead = 128

// Rent prices account storage. An account holding at least
// MinimumBalance is never charged and may live forever.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// DefaultRent matches the reference ledger's parameters.
var DefaultRent = Rent{
	LamportsPerByteYear: 3480,
	ExemptionYears:      2,
}

// MinimumBalance returns the rent-exempt balance for dataLen bytes.
func (r Rent) MinimumBalance(dataLen int) uint64 {
	return (AccountStorageOverhead + uint64(dataLen)) * r.LamportsPerByteYear * r.ExemptionYears
}
