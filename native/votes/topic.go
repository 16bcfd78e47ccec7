package votes

import (
	"math/big"

	"poolgov/crypto"
)

// TopicKey is the canonical content hash identifying a topic.
type TopicKey = [32]byte

// Topic accumulates votes for one proposed action. Records are created lazily
// on the first vote and persist indefinitely for audit and idempotency.
type Topic struct {
	Kind       string
	FirstSeen  uint64
	VotedPower *big.Int
	Accepted   bool
	Voters     map[crypto.Address]struct{}
}

func newTopic(kind string, now uint64) *Topic {
	return &Topic{
		Kind:       kind,
		FirstSeen:  now,
		VotedPower: big.NewInt(0),
		Voters:     make(map[crypto.Address]struct{}),
	}
}

// Voted reports whether the staking identity already voted on this topic.
func (t *Topic) Voted(addr crypto.Address) bool {
	_, ok := t.Voters[addr]
	return ok
}

// Clone returns a deep copy of the topic record.
func (t *Topic) Clone() *Topic {
	if t == nil {
		return nil
	}
	clone := &Topic{
		Kind:      t.Kind,
		FirstSeen: t.FirstSeen,
		Accepted:  t.Accepted,
		Voters:    make(map[crypto.Address]struct{}, len(t.Voters)),
	}
	clone.VotedPower = new(big.Int).Set(t.VotedPower)
	for addr := range t.Voters {
		clone.Voters[addr] = struct{}{}
	}
	return clone
}

// Expired reports whether the topic can never be accepted any more.
func (t *Topic) Expired(now, window uint64) bool {
	return now > t.FirstSeen+window
}
