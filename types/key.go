package types

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeySize is the length of an account address / ed25519 public key.
const PubkeySize = 32

// SignatureSize is the length of an ed25519 signature.
const SignatureSize = 64

// ErrInvalidPubkey is returned when a textual or binary key has the
// wrong length or encoding.
var ErrInvalidPubkey = errors.New("invalid public key")

// Pubkey is a 32-byte account address. It is either an ed25519 public
// key or a program-derived address that has no private key.
type Pubkey [PubkeySize]byte

// Signature is an ed25519 signature.
type Signature [SignatureSize]byte

// ParsePubkey decodes a base58 account address.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	b, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	if len(b) != PubkeySize {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidPubkey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// MustPubkey is ParsePubkey for compile-time constants. It panics on
// malformed input.
func MustPubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromBytes copies b into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeySize {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidPubkey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 form.
func (pk Pubkey) String() string {
	return base58.Encode(pk[:])
}

// IsZero reports whether the key is all zeroes.
func (pk Pubkey) IsZero() bool {
	return pk == Pubkey{}
}

// MarshalText implements encoding.TextMarshaler.
func (pk Pubkey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Verify checks sig over msg against this key.
func (pk Pubkey) Verify(msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig[:])
}

// String returns the base58 form.
func (s Signature) String() string {
	return base58.Encode(s[:])
}

// ParseSignature decodes a base58 signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	b, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("invalid signature: %v", err)
	}
	if len(b) != SignatureSize {
		return sig, fmt.Errorf("invalid signature: got %d bytes", len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

// Keypair is an ed25519 signing key with its address.
type Keypair struct {
	Pubkey  Pubkey
	private ed25519.PrivateKey
}

// NewKeypair wraps an ed25519 private key.
func NewKeypair(priv ed25519.PrivateKey) (Keypair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Keypair{}, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	var pk Pubkey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return Keypair{Pubkey: pk, private: priv}, nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewKeypair(ed25519.NewKeyFromSeed(seed))
}

// Sign signs msg.
func (kp Keypair) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(kp.private, msg))
	return sig
}

// Bytes returns the 64-byte private key (seed followed by public key),
// the layout used by keypair files.
func (kp Keypair) Bytes() []byte {
	out := make([]byte, len(kp.private))
	copy(out, kp.private)
	return out
}
