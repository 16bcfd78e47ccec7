package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"poolgov/crypto"
)

var (
	// ErrDelegateAddressInUse rejects a delegate or alternate address that is
	// already bound in another direction of the registry.
	ErrDelegateAddressInUse = errors.New("identity: address already in use")
	// ErrZeroAddress rejects the zero address where a real identity is required.
	ErrZeroAddress = errors.New("identity: zero address")
)

// Registry holds the injective staker ↔ alternate signing-address mapping and
// the one-to-one staker → delegate-signer mapping. Both are applied
// immediately by dual-signed handshakes, never by voting.
type Registry struct {
	alternates map[crypto.Address]crypto.Address // staker -> alternate
	stakerOf   map[crypto.Address]crypto.Address // alternate -> staker
	delegates  map[crypto.Address]crypto.Address // staker -> delegate
	delegators map[crypto.Address]crypto.Address // delegate -> staker
}

// NewRegistry constructs an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{
		alternates: make(map[crypto.Address]crypto.Address),
		stakerOf:   make(map[crypto.Address]crypto.Address),
		delegates:  make(map[crypto.Address]crypto.Address),
		delegators: make(map[crypto.Address]crypto.Address),
	}
}

// Link binds an alternate signing address to the staker. Passing the zero
// address clears an existing link. The mapping stays injective in both
// directions: an alternate can serve exactly one staker.
func (r *Registry) Link(staker, alternate crypto.Address) error {
	if staker.IsZero() {
		return ErrZeroAddress
	}
	if alternate.IsZero() {
		if prev, ok := r.alternates[staker]; ok {
			delete(r.stakerOf, prev)
			delete(r.alternates, staker)
		}
		return nil
	}
	if owner, ok := r.stakerOf[alternate]; ok && owner != staker {
		return ErrDelegateAddressInUse
	}
	if _, ok := r.alternates[alternate]; ok {
		// The alternate is itself a staker with its own link.
		return ErrDelegateAddressInUse
	}
	if prev, ok := r.alternates[staker]; ok {
		delete(r.stakerOf, prev)
	}
	r.alternates[staker] = alternate
	r.stakerOf[alternate] = staker
	return nil
}

// Alternate returns the alternate signing address bound to the staker.
func (r *Registry) Alternate(staker crypto.Address) (crypto.Address, bool) {
	alt, ok := r.alternates[staker]
	return alt, ok
}

// ResolveStaker maps a declared signing identity to the staking identity that
// owns it: alternates resolve to their linked staker, everything else to
// itself.
func (r *Registry) ResolveStaker(addr crypto.Address) crypto.Address {
	if staker, ok := r.stakerOf[addr]; ok {
		return staker
	}
	return addr
}

// SetDelegate binds a delegate signer to the staker, or clears the binding
// when the zero address is supplied. A delegate serves exactly one staker.
func (r *Registry) SetDelegate(staker, delegate crypto.Address) error {
	if staker.IsZero() {
		return ErrZeroAddress
	}
	if delegate.IsZero() {
		if prev, ok := r.delegates[staker]; ok {
			delete(r.delegators, prev)
			delete(r.delegates, staker)
		}
		return nil
	}
	if owner, ok := r.delegators[delegate]; ok && owner != staker {
		return ErrDelegateAddressInUse
	}
	if prev, ok := r.delegates[staker]; ok {
		delete(r.delegators, prev)
	}
	r.delegates[staker] = delegate
	r.delegators[delegate] = staker
	return nil
}

// Delegate returns the registered delegate signer for the staker.
func (r *Registry) Delegate(staker crypto.Address) (crypto.Address, bool) {
	delegate, ok := r.delegates[staker]
	return delegate, ok
}

// Snapshot captures a deep copy for all-or-nothing rollback.
func (r *Registry) Snapshot() *Registry {
	clone := NewRegistry()
	for k, v := range r.alternates {
		clone.alternates[k] = v
	}
	for k, v := range r.stakerOf {
		clone.stakerOf[k] = v
	}
	for k, v := range r.delegates {
		clone.delegates[k] = v
	}
	for k, v := range r.delegators {
		clone.delegators[k] = v
	}
	return clone
}

// Restore replaces the registry contents with the snapshot.
func (r *Registry) Restore(snap *Registry) {
	if snap == nil {
		return
	}
	r.alternates = snap.alternates
	r.stakerOf = snap.stakerOf
	r.delegates = snap.delegates
	r.delegators = snap.delegators
}

type storedRegistry struct {
	Alternates map[string]string `json:"alternates,omitempty"`
	Delegates  map[string]string `json:"delegates,omitempty"`
}

// MarshalJSON encodes the registry for snapshot persistence. Reverse indexes
// are rebuilt on load.
func (r *Registry) MarshalJSON() ([]byte, error) {
	stored := storedRegistry{
		Alternates: make(map[string]string, len(r.alternates)),
		Delegates:  make(map[string]string, len(r.delegates)),
	}
	for staker, alt := range r.alternates {
		stored.Alternates[hex.EncodeToString(staker[:])] = hex.EncodeToString(alt[:])
	}
	for staker, delegate := range r.delegates {
		stored.Delegates[hex.EncodeToString(staker[:])] = hex.EncodeToString(delegate[:])
	}
	return json.Marshal(stored)
}

// UnmarshalJSON restores a persisted registry snapshot.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var stored storedRegistry
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	restored := NewRegistry()
	for rawStaker, rawAlt := range stored.Alternates {
		staker, err := decodeAddr(rawStaker)
		if err != nil {
			return err
		}
		alt, err := decodeAddr(rawAlt)
		if err != nil {
			return err
		}
		restored.alternates[staker] = alt
		restored.stakerOf[alt] = staker
	}
	for rawStaker, rawDelegate := range stored.Delegates {
		staker, err := decodeAddr(rawStaker)
		if err != nil {
			return err
		}
		delegate, err := decodeAddr(rawDelegate)
		if err != nil {
			return err
		}
		restored.delegates[staker] = delegate
		restored.delegators[delegate] = staker
	}
	r.Restore(restored)
	return nil
}

func decodeAddr(raw string) (crypto.Address, error) {
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("identity: decode address: %w", err)
	}
	return crypto.NewAddress(decoded)
}
