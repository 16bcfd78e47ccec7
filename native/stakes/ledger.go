package stakes

import (
	"fmt"
	"math/big"
	"sort"

	"poolgov/crypto"
)

// PriceFunc resolves the valuation of an NFT entering custody. The ledger
// caches the result; later repricing goes through Reprice.
type PriceFunc func(id uint64) (*big.Int, error)

// Stake is one staker's active position. A record exists only while the
// position holds a non-zero amount or at least one piece of collateral.
type Stake struct {
	Amount     *big.Int
	UnlockTime uint64
	Collateral []uint64
}

// Clone returns a deep copy of the stake record.
func (s *Stake) Clone() *Stake {
	if s == nil {
		return nil
	}
	clone := &Stake{UnlockTime: s.UnlockTime}
	if s.Amount != nil {
		clone.Amount = new(big.Int).Set(s.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	clone.Collateral = append([]uint64(nil), s.Collateral...)
	return clone
}

// Ledger tracks every active stake, the cached NFT valuations, and the total
// voting-power pool. The pool is maintained incrementally: it always equals
// the sum over active stakers of amount plus cached collateral value.
type Ledger struct {
	stakes  map[crypto.Address]*Stake
	prices  map[uint64]*big.Int
	holders map[uint64]crypto.Address
	pool    *big.Int
}

// NewLedger constructs an empty stake ledger.
func NewLedger() *Ledger {
	return &Ledger{
		stakes:  make(map[crypto.Address]*Stake),
		prices:  make(map[uint64]*big.Int),
		holders: make(map[uint64]crypto.Address),
		pool:    big.NewInt(0),
	}
}

// Active reports whether the address currently holds a stake.
func (l *Ledger) Active(addr crypto.Address) bool {
	_, ok := l.stakes[addr]
	return ok
}

// Get returns a copy of the stake record, or nil when none exists.
func (l *Ledger) Get(addr crypto.Address) *Stake {
	return l.stakes[addr].Clone()
}

// ActiveCount returns the number of live stake records.
func (l *Ledger) ActiveCount() int { return len(l.stakes) }

// TotalPower returns the tracked voting-power pool.
func (l *Ledger) TotalPower() *big.Int {
	return new(big.Int).Set(l.pool)
}

// Price returns the cached valuation for an NFT, zero when never seen.
func (l *Ledger) Price(id uint64) *big.Int {
	if p, ok := l.prices[id]; ok {
		return new(big.Int).Set(p)
	}
	return big.NewInt(0)
}

// Holder reports which staker locked the NFT, if any.
func (l *Ledger) Holder(id uint64) (crypto.Address, bool) {
	addr, ok := l.holders[id]
	return addr, ok
}

// VotingPower computes the staker's weight: amount plus cached collateral
// valuation. Cached prices are the single source of truth so that the pool
// total never drifts from the per-staker sum.
func (l *Ledger) VotingPower(addr crypto.Address) *big.Int {
	stake, ok := l.stakes[addr]
	if !ok {
		return big.NewInt(0)
	}
	power := new(big.Int).Set(stake.Amount)
	for _, id := range stake.Collateral {
		if p, ok := l.prices[id]; ok {
			power.Add(power, p)
		}
	}
	return power
}

// Stake opens a new position. Validation happens before any mutation so a
// rejected call leaves the ledger untouched.
func (l *Ledger) Stake(addr crypto.Address, duration uint64, amount *big.Int, nftIDs []uint64, now uint64, priceOf PriceFunc) (*Stake, error) {
	if duration == 0 {
		return nil, ErrDurationZero
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return nil, ErrAmountNegative
	}
	if amount.Sign() == 0 && len(nftIDs) == 0 {
		return nil, ErrAmountZero
	}
	if _, ok := l.stakes[addr]; ok {
		return nil, ErrAlreadyStaked
	}
	prices, err := l.admitPrices(nftIDs, priceOf)
	if err != nil {
		return nil, err
	}

	record := &Stake{
		Amount:     new(big.Int).Set(amount),
		UnlockTime: now + duration,
		Collateral: append([]uint64(nil), nftIDs...),
	}
	sort.Slice(record.Collateral, func(i, j int) bool { return record.Collateral[i] < record.Collateral[j] })
	l.stakes[addr] = record
	l.pool.Add(l.pool, amount)
	for i, id := range nftIDs {
		l.prices[id] = prices[i]
		l.holders[id] = addr
		l.pool.Add(l.pool, prices[i])
	}
	return record.Clone(), nil
}

// Increase adds tokens and collateral to an active position without touching
// the unlock time; Extend is the only way to move it.
func (l *Ledger) Increase(addr crypto.Address, amount *big.Int, nftIDs []uint64, priceOf PriceFunc) (*Stake, error) {
	stake, ok := l.stakes[addr]
	if !ok {
		return nil, ErrStakeZero
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return nil, ErrAmountNegative
	}
	if amount.Sign() == 0 && len(nftIDs) == 0 {
		return nil, ErrAmountZero
	}
	prices, err := l.admitPrices(nftIDs, priceOf)
	if err != nil {
		return nil, err
	}

	stake.Amount.Add(stake.Amount, amount)
	l.pool.Add(l.pool, amount)
	for i, id := range nftIDs {
		stake.Collateral = append(stake.Collateral, id)
		l.prices[id] = prices[i]
		l.holders[id] = addr
		l.pool.Add(l.pool, prices[i])
	}
	sort.Slice(stake.Collateral, func(i, j int) bool { return stake.Collateral[i] < stake.Collateral[j] })
	return stake.Clone(), nil
}

// Extend pushes the unlock time out by the given duration.
func (l *Ledger) Extend(addr crypto.Address, duration uint64) (*Stake, error) {
	if duration == 0 {
		return nil, ErrDurationZero
	}
	stake, ok := l.stakes[addr]
	if !ok {
		return nil, ErrStakeZero
	}
	stake.UnlockTime += duration
	return stake.Clone(), nil
}

// Unstake closes the position once unlocked and returns what must leave
// custody. The pool shrinks by the position's full contribution.
func (l *Ledger) Unstake(addr crypto.Address, now uint64) (*big.Int, []uint64, error) {
	stake, ok := l.stakes[addr]
	if !ok {
		return nil, nil, ErrStakeZero
	}
	if now < stake.UnlockTime {
		return nil, nil, ErrNotUnlocked
	}
	amount := new(big.Int).Set(stake.Amount)
	collateral := append([]uint64(nil), stake.Collateral...)
	l.pool.Sub(l.pool, amount)
	for _, id := range collateral {
		l.pool.Sub(l.pool, l.Price(id))
		delete(l.holders, id)
	}
	delete(l.stakes, addr)
	return amount, collateral, nil
}

// DebitTransfer removes amount and collateral from a staker's position on
// behalf of an accepted transfer topic. A fully drained record is closed.
func (l *Ledger) DebitTransfer(from crypto.Address, amount *big.Int, nftIDs []uint64) error {
	stake, ok := l.stakes[from]
	if !ok {
		return ErrStakeZero
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return ErrAmountNegative
	}
	if stake.Amount.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	for _, id := range nftIDs {
		if holder, ok := l.holders[id]; !ok || holder != from {
			return fmt.Errorf("%w: nft %d", ErrCollateralNotHeld, id)
		}
	}

	stake.Amount.Sub(stake.Amount, amount)
	l.pool.Sub(l.pool, amount)
	for _, id := range nftIDs {
		stake.Collateral = removeID(stake.Collateral, id)
		l.pool.Sub(l.pool, l.Price(id))
		delete(l.holders, id)
	}
	if stake.Amount.Sign() == 0 && len(stake.Collateral) == 0 {
		delete(l.stakes, from)
	}
	return nil
}

// Reprice rewrites the cached valuation for an NFT and, when the NFT is
// currently staked, adjusts the pool by the delta. It returns the applied
// pool delta (zero when the NFT is not staked).
func (l *Ledger) Reprice(id uint64, price *big.Int) *big.Int {
	if price == nil {
		price = big.NewInt(0)
	}
	old := l.Price(id)
	l.prices[id] = new(big.Int).Set(price)
	if _, staked := l.holders[id]; !staked {
		return big.NewInt(0)
	}
	delta := new(big.Int).Sub(price, old)
	l.pool.Add(l.pool, delta)
	return delta
}

// Snapshot captures a deep copy of the ledger for all-or-nothing rollback.
func (l *Ledger) Snapshot() *Ledger {
	clone := NewLedger()
	for addr, stake := range l.stakes {
		clone.stakes[addr] = stake.Clone()
	}
	for id, price := range l.prices {
		clone.prices[id] = new(big.Int).Set(price)
	}
	for id, holder := range l.holders {
		clone.holders[id] = holder
	}
	clone.pool = new(big.Int).Set(l.pool)
	return clone
}

// Restore replaces the ledger contents with the snapshot.
func (l *Ledger) Restore(snap *Ledger) {
	if snap == nil {
		return
	}
	l.stakes = snap.stakes
	l.prices = snap.prices
	l.holders = snap.holders
	l.pool = snap.pool
}

func (l *Ledger) admitPrices(nftIDs []uint64, priceOf PriceFunc) ([]*big.Int, error) {
	seen := make(map[uint64]struct{}, len(nftIDs))
	prices := make([]*big.Int, len(nftIDs))
	for i, id := range nftIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: nft %d", ErrCollateralHeld, id)
		}
		seen[id] = struct{}{}
		if _, held := l.holders[id]; held {
			return nil, fmt.Errorf("%w: nft %d", ErrCollateralHeld, id)
		}
		if priceOf == nil {
			prices[i] = big.NewInt(0)
			continue
		}
		price, err := priceOf(id)
		if err != nil {
			return nil, fmt.Errorf("stakes: price nft %d: %w", id, err)
		}
		if price == nil {
			price = big.NewInt(0)
		}
		if price.Sign() < 0 {
			return nil, fmt.Errorf("%w: nft %d", ErrAmountNegative, id)
		}
		prices[i] = new(big.Int).Set(price)
	}
	return prices, nil
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
