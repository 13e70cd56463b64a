package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/blockberries/valgov/store"
	"github.com/blockberries/valgov/types"
)

// Key layout
var (
	accountPrefix   = []byte("acct/")
	processedPrefix = []byte("msg/")
	heightKey       = []byte("meta/height")
	appHashKey      = []byte("meta/apphash")
)

func accountKey(pk types.Pubkey) []byte {
	k := make([]byte, 0, len(accountPrefix)+types.PubkeySize)
	k = append(k, accountPrefix...)
	return append(k, pk[:]...)
}

func processedKey(id types.Hash) []byte {
	k := make([]byte, 0, len(processedPrefix)+len(id))
	k = append(k, processedPrefix...)
	return append(k, id[:]...)
}

// State is the committed account state. Reads are safe for concurrent
// use with Commit.
type State struct {
	st store.Store

	mu      sync.RWMutex
	height  uint64
	appHash types.AppHash
}

var _ Reader = (*State)(nil)

// OpenState loads the last committed height and app hash from st.
func OpenState(st store.Store) (*State, error) {
	s := &State{st: st}
	h, err := st.Get(heightKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load height: %w", err)
	case len(h) != 8:
		return nil, fmt.Errorf("load height: corrupt value %x", h)
	}
	s.height = binary.BigEndian.Uint64(h)

	ah, err := st.Get(appHashKey)
	if err != nil {
		return nil, fmt.Errorf("load app hash: %w", err)
	}
	if len(ah) != len(s.appHash) {
		return nil, fmt.Errorf("load app hash: corrupt value %x", ah)
	}
	copy(s.appHash[:], ah)
	return s, nil
}

// Account implements Reader.
func (s *State) Account(pk types.Pubkey) (Account, bool, error) {
	data, err := s.st.Get(accountKey(pk))
	if errors.Is(err, store.ErrNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	a, err := DecodeAccount(data)
	if err != nil {
		return Account{}, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return a, true, nil
}

// Processed implements Reader.
func (s *State) Processed(id types.Hash) (bool, error) {
	_, err := s.st.Get(processedKey(id))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return true, nil
}

// Accounts calls fn for every stored account in address order.
func (s *State) Accounts(fn func(types.Pubkey, Account) error) error {
	return s.st.Iterate(accountPrefix, func(k, v []byte) error {
		pk, err := types.PubkeyFromBytes(k[len(accountPrefix):])
		if err != nil {
			return err
		}
		a, err := DecodeAccount(v)
		if err != nil {
			return err
		}
		return fn(pk, a)
	})
}

// Height returns the last committed height.
func (s *State) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// AppHash returns the app hash at the last committed height.
func (s *State) AppHash() types.AppHash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appHash
}

// Commit persists changes and the processed message hashes together
// with the new height and app hash in one batch.
func (s *State) Commit(height uint64, appHash types.AppHash, changes []Change, processed []types.Hash) error {
	b := store.NewBatch()
	for _, id := range processed {
		b.Put(processedKey(id), []byte{1})
	}
	for _, c := range changes {
		if c.Account == nil {
			b.Delete(accountKey(c.Pubkey))
			continue
		}
		data, err := c.Account.Encode()
		if err != nil {
			return err
		}
		b.Put(accountKey(c.Pubkey), data)
	}
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	b.Put(heightKey, h[:])
	b.Put(appHashKey, appHash[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.st.Write(b); err != nil {
		return err
	}
	s.height = height
	s.appHash = appHash
	return nil
}

// HashChanges chains the previous app hash with a block's sorted
// change set and the sorted hashes of the messages it applied.
// Identical blocks applied to identical state always yield the same
// hash.
func HashChanges(prev types.AppHash, height uint64, changes []Change, processed []types.Hash) (types.AppHash, error) {
	h := sha256.New()
	h.Write(prev[:])
	writeUint64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		h.Write(b[:])
	}
	writeUint64(height)
	writeUint64(uint64(len(processed)))
	for _, id := range processed {
		h.Write(id[:])
	}
	writeUint64(uint64(len(changes)))
	for _, c := range changes {
		h.Write(c.Pubkey[:])
		if c.Account == nil {
			h.Write([]byte{0})
			continue
		}
		data, err := c.Account.Encode()
		if err != nil {
			return types.AppHash{}, err
		}
		h.Write([]byte{1})
		writeUint64(uint64(len(data)))
		h.Write(data)
	}
	var out types.AppHash
	copy(out[:], h.Sum(nil))
	return out, nil
}
