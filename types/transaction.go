package types

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

var (
	// ErrEmptyTransaction is returned for a transaction with no instructions.
	ErrEmptyTransaction = errors.New("transaction has no instructions")
	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("signature verification failed")
	// ErrMissingSignature is returned when a required signer did not sign.
	ErrMissingSignature = errors.New("missing required signature")
)

// Message is the signed portion of a transaction.
type Message struct {
	// Payer signs the transaction and pays for any accounts it funds.
	Payer Pubkey `cramberry:"1"`
	// Nonce distinguishes otherwise identical messages.
	Nonce        uint64        `cramberry:"2"`
	Instructions []Instruction `cramberry:"3"`
}

// TxSignature pairs a signer with its signature over the message bytes.
type TxSignature struct {
	Pubkey    Pubkey    `cramberry:"1"`
	Signature Signature `cramberry:"2"`
}

// Transaction is a message plus its signatures.
type Transaction struct {
	Message    Message       `cramberry:"1"`
	Signatures []TxSignature `cramberry:"2"`
}

// Bytes returns the canonical encoding that signers sign.
func (m Message) Bytes() ([]byte, error) {
	data, err := cramberry.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Hash identifies the message. Two transactions with the same hash
// carry the same signed content.
func (m Message) Hash() (Hash, error) {
	data, err := m.Bytes()
	if err != nil {
		return Hash{}, err
	}
	return sha256.Sum256(data), nil
}

// DecodeMessage decodes canonical message bytes.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := cramberry.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// RequiredSigners lists the payer followed by every top-level account
// marked as a signer, without duplicates, in first-seen order.
func (m Message) RequiredSigners() []Pubkey {
	seen := map[Pubkey]struct{}{m.Payer: {}}
	out := []Pubkey{m.Payer}
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if !meta.IsSigner {
				continue
			}
			if _, ok := seen[meta.Pubkey]; ok {
				continue
			}
			seen[meta.Pubkey] = struct{}{}
			out = append(out, meta.Pubkey)
		}
	}
	return out
}

// Sign appends signatures from each keypair.
func (tx *Transaction) Sign(signers ...Keypair) error {
	msg, err := tx.Message.Bytes()
	if err != nil {
		return err
	}
	for _, kp := range signers {
		tx.Signatures = append(tx.Signatures, TxSignature{
			Pubkey:    kp.Pubkey,
			Signature: kp.Sign(msg),
		})
	}
	return nil
}

// Verify checks every attached signature and that all required signers
// are present. It returns the set of verified signers.
func (tx Transaction) Verify() (map[Pubkey]bool, error) {
	if len(tx.Message.Instructions) == 0 {
		return nil, ErrEmptyTransaction
	}
	msg, err := tx.Message.Bytes()
	if err != nil {
		return nil, err
	}
	signed := make(map[Pubkey]bool, len(tx.Signatures))
	for _, s := range tx.Signatures {
		if !s.Pubkey.Verify(msg, s.Signature) {
			return nil, fmt.Errorf("%w: %s", ErrBadSignature, s.Pubkey)
		}
		signed[s.Pubkey] = true
	}
	for _, pk := range tx.Message.RequiredSigners() {
		if !signed[pk] {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignature, pk)
		}
	}
	return signed, nil
}

// Encode returns the block encoding of the transaction.
func (tx Transaction) Encode() (Tx, error) {
	data, err := cramberry.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return data, nil
}

// DecodeTransaction decodes a block-encoded transaction.
func DecodeTransaction(raw Tx) (Transaction, error) {
	var tx Transaction
	if len(raw) == 0 {
		return tx, errors.New("empty tx")
	}
	if err := cramberry.Unmarshal(raw, &tx); err != nil {
		return Transaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}
