package votes

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch rejects batches whose parallel arrays differ in length.
	ErrLengthMismatch = errors.New("votes: array length mismatch")
	// ErrInvalidSignature indicates the recovered signer matches neither the
	// declared identity nor its registered delegate.
	ErrInvalidSignature = errors.New("votes: invalid signature")
	// ErrVotingPowerZero rejects votes from identities without staked tokens.
	ErrVotingPowerZero = errors.New("votes: voting power zero")
	// ErrTopicExpired rejects votes past the topic's expiration window. An
	// expired topic is permanently dead.
	ErrTopicExpired = errors.New("votes: topic expired")
	// ErrStakeExpiresBeforeVote closes the vote-then-unstake attack: the
	// voter's lock must outlive the topic's expiration window.
	ErrStakeExpiresBeforeVote = errors.New("votes: stake unlocks before topic expiry")
	// ErrNonceUsed rejects payloads referencing an already consumed nonce.
	ErrNonceUsed = errors.New("votes: nonce already used")
	// ErrForbidden is the generic rule violation: reentrant entry, pool
	// transfers carrying NFTs, calls before activation, malformed parameters.
	ErrForbidden = errors.New("votes: forbidden")
	// ErrWrongAsset rejects unsolicited inbound custody transfers.
	ErrWrongAsset = errors.New("votes: unsolicited asset inbound")
)

// RowError wraps a rejection with the index of the offending batch row so a
// relayer can drop just that row and resubmit.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

func rowErr(row int, err error) error {
	return &RowError{Row: row, Err: err}
}
