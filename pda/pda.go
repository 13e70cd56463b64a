// Package pda derives program addresses: account addresses computed
// from seeds and a program id that lie off the ed25519 curve, so no
// private key exists for them. The owning program proves authority
// over such an address by presenting the seeds (including the bump)
// to the runtime, which re-derives the address under the caller's id.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/blockberries/valgov/types"
)

const (
	// MaxSeeds is the maximum number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLen is the maximum length of a single seed.
	MaxSeedLen = 32

	marker = "ProgramDerivedAddress"
)

var (
	// ErrMaxSeedLengthExceeded is returned for too many or too long seeds.
	ErrMaxSeedLengthExceeded = errors.New("length of the seed is too long for address generation")
	// ErrInvalidSeeds is returned when the seeds hash onto the curve.
	ErrInvalidSeeds = errors.New("provided seeds do not result in a valid address")
	// ErrNoViableBump is returned when every bump lands on the curve.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress hashes seeds with the program id. The result
// must not be a valid curve point.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedLengthExceeded
	}
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte(marker))

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr) {
		return types.Pubkey{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first
// address that is off the curve together with its bump.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return types.Pubkey{}, 0, ErrMaxSeedLengthExceeded
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}
	withBump[len(seeds)] = bump

	for b := 255; b >= 0; b-- {
		bump[0] = uint8(b)
		addr, err := CreateProgramAddress(withBump, programID)
		switch {
		case err == nil:
			return addr, uint8(b), nil
		case errors.Is(err, ErrInvalidSeeds):
			continue
		default:
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether b decodes as an ed25519 point.
func IsOnCurve(b types.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}

// WithBump returns a copy of seeds with the bump appended.
func WithBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, len(seeds)+1)
	copy(out, seeds)
	out[len(seeds)] = []byte{bump}
	return out
}

// Verify re-derives the address from seeds and bump and compares it to
// addr.
func Verify(addr types.Pubkey, seeds [][]byte, bump uint8, programID types.Pubkey) error {
	derived, err := CreateProgramAddress(WithBump(seeds, bump), programID)
	if err != nil {
		return err
	}
	if derived != addr {
		return fmt.Errorf("derived address %s does not match %s", derived, addr)
	}
	return nil
}
