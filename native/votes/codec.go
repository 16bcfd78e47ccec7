package votes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"poolgov/crypto"
)

type storedTopic struct {
	Kind       string   `json:"kind"`
	FirstSeen  uint64   `json:"firstSeen"`
	VotedPower string   `json:"votedPower"`
	Accepted   bool     `json:"accepted"`
	Voters     []string `json:"voters,omitempty"`
}

type storedEngine struct {
	Params   *Params                `json:"params"`
	Topics   map[string]storedTopic `json:"topics"`
	Stakes   json.RawMessage        `json:"stakes"`
	Registry json.RawMessage        `json:"registry"`
	Nonces   json.RawMessage        `json:"nonces"`
}

// MarshalState serializes the engine's full mutable state for persistence.
func (e *Engine) MarshalState() ([]byte, error) {
	stakesJSON, err := json.Marshal(e.stakes)
	if err != nil {
		return nil, err
	}
	registryJSON, err := json.Marshal(e.registry)
	if err != nil {
		return nil, err
	}
	noncesJSON, err := json.Marshal(e.nonces)
	if err != nil {
		return nil, err
	}
	stored := storedEngine{
		Params:   e.params.Clone(),
		Topics:   make(map[string]storedTopic, len(e.topics)),
		Stakes:   stakesJSON,
		Registry: registryJSON,
		Nonces:   noncesJSON,
	}
	for key, topic := range e.topics {
		voters := make([]string, 0, len(topic.Voters))
		for addr := range topic.Voters {
			voters = append(voters, hex.EncodeToString(addr[:]))
		}
		stored.Topics[hex.EncodeToString(key[:])] = storedTopic{
			Kind:       topic.Kind,
			FirstSeen:  topic.FirstSeen,
			VotedPower: topic.VotedPower.String(),
			Accepted:   topic.Accepted,
			Voters:     voters,
		}
	}
	return json.Marshal(stored)
}

// RestoreState replaces the engine's mutable state with a persisted snapshot.
func (e *Engine) RestoreState(data []byte) error {
	var stored storedEngine
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.Params != nil {
		e.params = stored.Params.Clone()
	}
	if stored.Stakes != nil {
		if err := json.Unmarshal(stored.Stakes, e.stakes); err != nil {
			return err
		}
	}
	if stored.Registry != nil {
		if err := json.Unmarshal(stored.Registry, e.registry); err != nil {
			return err
		}
	}
	if stored.Nonces != nil {
		if err := json.Unmarshal(stored.Nonces, e.nonces); err != nil {
			return err
		}
	}
	topics := make(map[TopicKey]*Topic, len(stored.Topics))
	for rawKey, record := range stored.Topics {
		keyBytes, err := hex.DecodeString(rawKey)
		if err != nil || len(keyBytes) != 32 {
			return fmt.Errorf("votes: invalid topic key %q", rawKey)
		}
		var key TopicKey
		copy(key[:], keyBytes)
		power, ok := new(big.Int).SetString(record.VotedPower, 10)
		if !ok {
			return fmt.Errorf("votes: invalid voted power %q", record.VotedPower)
		}
		topic := &Topic{
			Kind:       record.Kind,
			FirstSeen:  record.FirstSeen,
			VotedPower: power,
			Accepted:   record.Accepted,
			Voters:     make(map[crypto.Address]struct{}, len(record.Voters)),
		}
		for _, rawVoter := range record.Voters {
			decoded, err := hex.DecodeString(rawVoter)
			if err != nil {
				return fmt.Errorf("votes: decode voter: %w", err)
			}
			addr, err := crypto.NewAddress(decoded)
			if err != nil {
				return err
			}
			topic.Voters[addr] = struct{}{}
		}
		topics[key] = topic
	}
	e.topics = topics
	return nil
}
