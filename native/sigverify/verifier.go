package sigverify

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"poolgov/crypto"
	"poolgov/native/identity"
)

// ErrSignatureMismatch indicates the recovered signer is neither the declared
// identity nor a delegate authorized to sign for it.
var ErrSignatureMismatch = errors.New("sigverify: signature does not match declared signer")

var domainTypeHash = Keccak([]byte("PoolDomain(string name,string version)"))

// Keccak is the digest primitive shared by every payload hash in the module.
func Keccak(chunks ...[]byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(chunks...))
	return out
}

// Verifier builds domain-separated digests and resolves the effective voter
// behind a recoverable signature, honouring alternate-identity links and
// delegate signers.
type Verifier struct {
	separator [32]byte
	registry  *identity.Registry
}

// New derives the domain separator from the configured name and version and
// binds the verifier to the identity registry.
func New(name, version string, registry *identity.Registry) *Verifier {
	nameHash := Keccak([]byte(name))
	versionHash := Keccak([]byte(version))
	return &Verifier{
		separator: Keccak(domainTypeHash[:], nameHash[:], versionHash[:]),
		registry:  registry,
	}
}

// DomainSeparator exposes the derived separator for signing clients.
func (v *Verifier) DomainSeparator() [32]byte { return v.separator }

// Digest wraps a payload struct hash in the signing envelope:
// keccak256(0x19 || 0x01 || domainSeparator || structHash).
func (v *Verifier) Digest(structHash [32]byte) [32]byte {
	return Keccak([]byte{0x19, 0x01}, v.separator[:], structHash[:])
}

// Recover returns the address that signed the struct hash under this domain.
func (v *Verifier) Recover(structHash [32]byte, sig []byte) (crypto.Address, error) {
	return crypto.RecoverAddress(v.Digest(structHash), sig)
}

// VerifyVoter authenticates a vote. The signature must recover either to the
// declared signer itself or to the registered delegate of the declared
// staker. The returned address is the staking identity whose power the vote
// carries: declared alternates resolve to their linked staker.
func (v *Verifier) VerifyVoter(declared crypto.Address, structHash [32]byte, sig []byte) (crypto.Address, error) {
	recovered, err := v.Recover(structHash, sig)
	if err != nil {
		return crypto.Address{}, ErrSignatureMismatch
	}
	staker := declared
	if v.registry != nil {
		staker = v.registry.ResolveStaker(declared)
	}
	if recovered == declared {
		return staker, nil
	}
	if v.registry != nil {
		if delegate, ok := v.registry.Delegate(staker); ok && recovered == delegate {
			return staker, nil
		}
	}
	return crypto.Address{}, ErrSignatureMismatch
}

// VerifyExact authenticates a single-party handshake signature: the recovered
// address must equal the expected signer. Used for the dual-signed delegate
// and identity-link payloads where both concrete parties sign the same digest.
func (v *Verifier) VerifyExact(expected crypto.Address, structHash [32]byte, sig []byte) error {
	recovered, err := v.Recover(structHash, sig)
	if err != nil {
		return ErrSignatureMismatch
	}
	if recovered != expected {
		return ErrSignatureMismatch
	}
	return nil
}
