package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part used for all pool addresses.
const AddressPrefix = "pool"

// Address is a 20-byte account identifier derived from a secp256k1 public key.
type Address [20]byte

// ZeroAddress is the empty address. It is never a valid signer.
var ZeroAddress Address

// NewAddress validates the raw bytes and returns the typed address.
func NewAddress(b []byte) (Address, error) {
	var addr Address
	if len(b) != len(addr) {
		return addr, fmt.Errorf("crypto: address must be %d bytes (got %d)", len(addr), len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// MustAddress converts raw bytes and panics on malformed input. Reserved for
// tests and static wiring.
func MustAddress(b []byte) Address {
	addr, err := NewAddress(b)
	if err != nil {
		panic(err)
	}
	return addr
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

// IsZero reports whether the address is the all-zero sentinel.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String renders the address in bech32 with the pool prefix.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// DecodeAddress parses a bech32 pool address back into its raw form.
func DecodeAddress(s string) (Address, error) {
	prefix, decoded, err := bech32.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("crypto: unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: error converting bits: %w", err)
	}
	return NewAddress(conv)
}

// MarshalText renders the address as bech32 for JSON and text encodings.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a bech32 address.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	return Address(ethcrypto.PubkeyToAddress(*k.PublicKey))
}

// Sign produces a 65-byte recoverable signature over the 32-byte digest.
func (k *PrivateKey) Sign(digest [32]byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest[:], k.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign digest: %w", err)
	}
	return sig, nil
}

// RecoverAddress resolves the address that produced the signature over the
// digest. Malformed signatures surface as errors rather than zero addresses.
func RecoverAddress(digest [32]byte, sig []byte) (Address, error) {
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: recover pubkey: %w", err)
	}
	return Address(ethcrypto.PubkeyToAddress(*pub)), nil
}
