package program

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/blockberries/valgov/pda"
	"github.com/blockberries/valgov/types"
)

// DelegationSeed is the fixed tag of the delegation address seeds.
const DelegationSeed = "delegation"

// RecordSize is the size of a delegation record's account data.
const RecordSize = 8 + 32 + 32 + 1

// ErrInvalidRecordData is returned when account data is not a
// delegation record.
var ErrInvalidRecordData = errors.New("invalid delegation record data")

// RecordDiscriminator tags delegation record data.
var RecordDiscriminator = discriminator("account:GovernanceDelegate")

func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte(name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// DelegationRecord binds a validator to the key allowed to vote for it.
type DelegationRecord struct {
	ValidatorIdentity types.Pubkey `json:"validatorIdentity"`
	GovernanceKey     types.Pubkey `json:"governanceKey"`
	Bump              uint8        `json:"bump"`
}

// Encode returns the record's account data.
func (r DelegationRecord) Encode() []byte {
	out := make([]byte, 0, RecordSize)
	out = append(out, RecordDiscriminator[:]...)
	out = append(out, r.ValidatorIdentity[:]...)
	out = append(out, r.GovernanceKey[:]...)
	return append(out, r.Bump)
}

// DecodeRecord parses account data written by Encode.
func DecodeRecord(data []byte) (DelegationRecord, error) {
	if len(data) < RecordSize {
		return DelegationRecord{}, fmt.Errorf("%w: %d bytes", ErrInvalidRecordData, len(data))
	}
	if [8]byte(data[:8]) != RecordDiscriminator {
		return DelegationRecord{}, fmt.Errorf("%w: discriminator mismatch", ErrInvalidRecordData)
	}
	var r DelegationRecord
	copy(r.ValidatorIdentity[:], data[8:40])
	copy(r.GovernanceKey[:], data[40:72])
	r.Bump = data[72]
	return r, nil
}

// DelegationSeeds returns the address seeds of a validator's record,
// without the bump.
func DelegationSeeds(validator types.Pubkey) [][]byte {
	return [][]byte{[]byte(DelegationSeed), validator[:]}
}

// FindDelegationAddress derives the record address of validator.
func FindDelegationAddress(programID, validator types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(DelegationSeeds(validator), programID)
}

// signerSeeds returns the seeds, bump included, that let the program
// sign as the record address.
func signerSeeds(validator types.Pubkey, bump uint8) [][]byte {
	return pda.WithBump(DelegationSeeds(validator), bump)
}
