// Package wallet handles the files of the offline signing workflow:
// keypair files, unsigned transactions, detached signatures, and
// assembling them into a raw transaction.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/blockberries/valgov/types"
)

var (
	// ErrNotRequiredSigner is returned when signing with a key the
	// message does not ask for.
	ErrNotRequiredSigner = errors.New("key is not a required signer")
	// ErrSignatureMismatch is returned when a detached signature does
	// not belong to the message it is assembled with.
	ErrSignatureMismatch = errors.New("signature does not match message")
)

// GenerateKeypair returns a fresh random keypair.
func GenerateKeypair() (types.Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return types.Keypair{}, err
	}
	return types.NewKeypair(priv)
}

// WriteKeypair stores kp as a JSON array of the 64 private key bytes.
func WriteKeypair(path string, kp types.Keypair) error {
	raw := kp.Bytes()
	ints := make([]int, len(raw))
	for i, b := range raw {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadKeypair loads a keypair file written by WriteKeypair.
func ReadKeypair(path string) (types.Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Keypair{}, err
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return types.Keypair{}, fmt.Errorf("keypair %s: %w", path, err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return types.Keypair{}, fmt.Errorf("keypair %s: byte %d out of range", path, i)
		}
		raw[i] = byte(v)
	}
	kp, err := types.NewKeypair(ed25519.PrivateKey(raw))
	if err != nil {
		return types.Keypair{}, fmt.Errorf("keypair %s: %w", path, err)
	}
	return kp, nil
}

// UnsignedTx is a message waiting for signatures.
type UnsignedTx struct {
	// Message is the base64 of the canonical message bytes.
	Message string         `json:"message"`
	Signers []types.Pubkey `json:"signers"`
}

// NewUnsignedTx encodes msg.
func NewUnsignedTx(msg types.Message) (UnsignedTx, error) {
	raw, err := msg.Bytes()
	if err != nil {
		return UnsignedTx{}, err
	}
	return UnsignedTx{
		Message: base64.StdEncoding.EncodeToString(raw),
		Signers: msg.RequiredSigners(),
	}, nil
}

// Decode returns the message and its canonical bytes.
func (u UnsignedTx) Decode() (types.Message, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(u.Message)
	if err != nil {
		return types.Message{}, nil, fmt.Errorf("message: %w", err)
	}
	msg, err := types.DecodeMessage(raw)
	if err != nil {
		return types.Message{}, nil, err
	}
	return msg, raw, nil
}

// DetachedSignature is one signer's signature over an UnsignedTx.
type DetachedSignature struct {
	Pubkey    types.Pubkey `json:"pubkey"`
	Signature string       `json:"signature"`
}

// Sign signs u with kp, which must be a required signer.
func Sign(u UnsignedTx, kp types.Keypair) (DetachedSignature, error) {
	msg, raw, err := u.Decode()
	if err != nil {
		return DetachedSignature{}, err
	}
	required := false
	for _, pk := range msg.RequiredSigners() {
		if pk == kp.Pubkey {
			required = true
			break
		}
	}
	if !required {
		return DetachedSignature{}, fmt.Errorf("%w: %s", ErrNotRequiredSigner, kp.Pubkey)
	}
	return DetachedSignature{
		Pubkey:    kp.Pubkey,
		Signature: kp.Sign(raw).String(),
	}, nil
}

// Assemble attaches sigs to u and returns the encoded transaction.
// Every signature must verify and every required signer must be
// present.
func Assemble(u UnsignedTx, sigs ...DetachedSignature) (types.Tx, error) {
	msg, raw, err := u.Decode()
	if err != nil {
		return nil, err
	}
	tx := types.Transaction{Message: msg}
	for _, ds := range sigs {
		sig, err := types.ParseSignature(ds.Signature)
		if err != nil {
			return nil, err
		}
		if !ds.Pubkey.Verify(raw, sig) {
			return nil, fmt.Errorf("%w: %s", ErrSignatureMismatch, ds.Pubkey)
		}
		tx.Signatures = append(tx.Signatures, types.TxSignature{Pubkey: ds.Pubkey, Signature: sig})
	}
	if _, err := tx.Verify(); err != nil {
		return nil, err
	}
	return tx.Encode()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
