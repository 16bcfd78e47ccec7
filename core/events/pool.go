package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"poolgov/crypto"
)

const (
	TypeStakeCreated   = "pool.stake_created"
	TypeStakeIncreased = "pool.stake_increased"
	TypeStakeExtended  = "pool.stake_extended"
	TypeStakeWithdrawn = "pool.stake_withdrawn"
	TypeVoteRecorded   = "pool.vote_recorded"
	TypeTopicAccepted  = "pool.topic_accepted"
	TypeParamsUpdated  = "pool.params_updated"
	TypePriceUpdated   = "pool.price_updated"
	TypeDelegateSet    = "pool.delegate_set"
	TypeIdentityLinked = "pool.identity_linked"
)

// StakeCreated is emitted when a fresh stake record enters the ledger.
type StakeCreated struct {
	Staker     crypto.Address
	Amount     *big.Int
	NftIDs     []uint64
	UnlockTime uint64
}

func (StakeCreated) EventType() string { return TypeStakeCreated }

func (e StakeCreated) Attributes() map[string]string {
	return map[string]string{
		"staker":     e.Staker.String(),
		"amount":     formatAmount(e.Amount),
		"nftIds":     formatIDs(e.NftIDs),
		"unlockTime": strconv.FormatUint(e.UnlockTime, 10),
	}
}

// StakeIncreased is emitted when collateral is added to an active stake.
type StakeIncreased struct {
	Staker crypto.Address
	Amount *big.Int
	NftIDs []uint64
}

func (StakeIncreased) EventType() string { return TypeStakeIncreased }

func (e StakeIncreased) Attributes() map[string]string {
	return map[string]string{
		"staker": e.Staker.String(),
		"amount": formatAmount(e.Amount),
		"nftIds": formatIDs(e.NftIDs),
	}
}

// StakeExtended is emitted when a stake's unlock time is pushed out.
type StakeExtended struct {
	Staker     crypto.Address
	UnlockTime uint64
}

func (StakeExtended) EventType() string { return TypeStakeExtended }

func (e StakeExtended) Attributes() map[string]string {
	return map[string]string{
		"staker":     e.Staker.String(),
		"unlockTime": strconv.FormatUint(e.UnlockTime, 10),
	}
}

// StakeWithdrawn is emitted when custody returns to the staker.
type StakeWithdrawn struct {
	Staker crypto.Address
	Amount *big.Int
	NftIDs []uint64
}

func (StakeWithdrawn) EventType() string { return TypeStakeWithdrawn }

func (e StakeWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"staker": e.Staker.String(),
		"amount": formatAmount(e.Amount),
		"nftIds": formatIDs(e.NftIDs),
	}
}

// VoteRecorded is emitted for every counted ballot.
type VoteRecorded struct {
	Topic      [32]byte
	Kind       string
	Voter      crypto.Address
	Power      *big.Int
	VotedPower *big.Int
}

func (VoteRecorded) EventType() string { return TypeVoteRecorded }

func (e VoteRecorded) Attributes() map[string]string {
	return map[string]string{
		"topic":      hex.EncodeToString(e.Topic[:]),
		"kind":       e.Kind,
		"voter":      e.Voter.String(),
		"power":      formatAmount(e.Power),
		"votedPower": formatAmount(e.VotedPower),
	}
}

// TopicAccepted is emitted exactly once per topic, when the threshold is met.
type TopicAccepted struct {
	Topic      [32]byte
	Kind       string
	VotedPower *big.Int
	TotalPower *big.Int
}

func (TopicAccepted) EventType() string { return TypeTopicAccepted }

func (e TopicAccepted) Attributes() map[string]string {
	return map[string]string{
		"topic":      hex.EncodeToString(e.Topic[:]),
		"kind":       e.Kind,
		"votedPower": formatAmount(e.VotedPower),
		"totalPower": formatAmount(e.TotalPower),
	}
}

// ParamsUpdated is emitted when an accepted topic swaps the global parameters.
type ParamsUpdated struct {
	ThresholdPct uint64
	Expiration   uint64
	Collector    crypto.Address
}

func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Attributes() map[string]string {
	return map[string]string{
		"thresholdPct": strconv.FormatUint(e.ThresholdPct, 10),
		"expiration":   strconv.FormatUint(e.Expiration, 10),
		"collector":    e.Collector.String(),
	}
}

// PriceUpdated is emitted per accepted price topic.
type PriceUpdated struct {
	NftIDs    []uint64
	PoolDelta *big.Int
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Attributes() map[string]string {
	return map[string]string{
		"nftIds":    formatIDs(e.NftIDs),
		"poolDelta": formatAmount(e.PoolDelta),
	}
}

// DelegateSet is emitted when a delegate handshake completes.
type DelegateSet struct {
	Staker   crypto.Address
	Delegate crypto.Address
}

func (DelegateSet) EventType() string { return TypeDelegateSet }

func (e DelegateSet) Attributes() map[string]string {
	return map[string]string{
		"staker":   e.Staker.String(),
		"delegate": e.Delegate.String(),
	}
}

// IdentityLinked is emitted when a staker binds an alternate signing address.
type IdentityLinked struct {
	Staker    crypto.Address
	Alternate crypto.Address
}

func (IdentityLinked) EventType() string { return TypeIdentityLinked }

func (e IdentityLinked) Attributes() map[string]string {
	return map[string]string{
		"staker":    e.Staker.String(),
		"alternate": e.Alternate.String(),
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatIDs(ids []uint64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}
