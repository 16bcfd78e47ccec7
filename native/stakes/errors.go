package stakes

import "errors"

var (
	// ErrAmountZero rejects stakes carrying neither tokens nor collateral.
	ErrAmountZero = errors.New("stakes: amount and collateral both empty")
	// ErrAmountNegative rejects negative token amounts and prices.
	ErrAmountNegative = errors.New("stakes: negative amount")
	// ErrDurationZero rejects zero-length lock durations.
	ErrDurationZero = errors.New("stakes: duration must be positive")
	// ErrAlreadyStaked rejects a second active stake for the same address.
	ErrAlreadyStaked = errors.New("stakes: active stake already exists")
	// ErrStakeZero indicates the address has no active stake.
	ErrStakeZero = errors.New("stakes: no active stake")
	// ErrNotUnlocked rejects withdrawal before the unlock time.
	ErrNotUnlocked = errors.New("stakes: stake still locked")
	// ErrInsufficientStake indicates a debit larger than the staked amount.
	ErrInsufficientStake = errors.New("stakes: debit exceeds staked amount")
	// ErrCollateralNotHeld indicates a debit naming an NFT the staker has not locked.
	ErrCollateralNotHeld = errors.New("stakes: collateral not held by staker")
	// ErrCollateralHeld rejects staking an NFT that is already locked.
	ErrCollateralHeld = errors.New("stakes: collateral already locked")
)
