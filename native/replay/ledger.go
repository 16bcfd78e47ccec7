package replay

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"poolgov/crypto"
)

// ErrNonceUsed indicates the (identity, nonce) pair was already consumed.
var ErrNonceUsed = errors.New("replay: nonce already used")

type key struct {
	addr  crypto.Address
	nonce uint64
}

// Ledger is the monotonically growing set of consumed (identity, nonce)
// pairs. Entries are never released, even across unrelated topics.
type Ledger struct {
	used map[key]struct{}
}

// NewLedger constructs an empty nonce ledger.
func NewLedger() *Ledger {
	return &Ledger{used: make(map[key]struct{})}
}

// Used reports whether the pair has been consumed.
func (l *Ledger) Used(addr crypto.Address, nonce uint64) bool {
	_, ok := l.used[key{addr: addr, nonce: nonce}]
	return ok
}

// Consume marks the pair as used. Consuming twice is an error.
func (l *Ledger) Consume(addr crypto.Address, nonce uint64) error {
	k := key{addr: addr, nonce: nonce}
	if _, ok := l.used[k]; ok {
		return ErrNonceUsed
	}
	l.used[k] = struct{}{}
	return nil
}

// Size returns the number of consumed pairs.
func (l *Ledger) Size() int { return len(l.used) }

// Snapshot captures a copy for all-or-nothing rollback.
func (l *Ledger) Snapshot() *Ledger {
	clone := NewLedger()
	for k := range l.used {
		clone.used[k] = struct{}{}
	}
	return clone
}

// Restore replaces the ledger contents with the snapshot.
func (l *Ledger) Restore(snap *Ledger) {
	if snap == nil {
		return
	}
	l.used = snap.used
}

// MarshalJSON encodes consumed pairs as "hexaddr/nonce" strings.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	entries := make([]string, 0, len(l.used))
	for k := range l.used {
		entries = append(entries, hex.EncodeToString(k.addr[:])+"/"+strconv.FormatUint(k.nonce, 10))
	}
	return json.Marshal(entries)
}

// UnmarshalJSON restores a persisted nonce set.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	restored := NewLedger()
	for _, entry := range entries {
		sep := strings.LastIndexByte(entry, '/')
		if sep < 0 {
			return errors.New("replay: malformed nonce entry")
		}
		raw, err := hex.DecodeString(entry[:sep])
		if err != nil {
			return err
		}
		addr, err := crypto.NewAddress(raw)
		if err != nil {
			return err
		}
		nonce, err := strconv.ParseUint(entry[sep+1:], 10, 64)
		if err != nil {
			return err
		}
		restored.used[key{addr: addr, nonce: nonce}] = struct{}{}
	}
	l.Restore(restored)
	return nil
}
