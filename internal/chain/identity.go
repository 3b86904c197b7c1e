package chain

import (
	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/bardlex/snapminer/pkg/errors"
)

// IdentitySize is the length of a miner public key.
const IdentitySize = 32

// Identity is the public key block rewards are paid to.
type Identity [IdentitySize]byte

// ParseIdentity decodes a base58 public key.
func ParseIdentity(s string) (Identity, error) {
	var id Identity

	if s == "" {
		return id, errors.New(errors.ErrorTypeConfig, "parse_identity", "miner public key is empty")
	}

	decoded := base58.Decode(s)
	if len(decoded) == 0 {
		return id, errors.New(errors.ErrorTypeConfig, "parse_identity", "miner public key is not valid base58")
	}
	if len(decoded) != IdentitySize {
		return id, errors.New(errors.ErrorTypeConfig, "parse_identity", "miner public key has the wrong length").
			WithContext("length", len(decoded))
	}

	copy(id[:], decoded)
	return id, nil
}

// String returns the base58 encoding.
func (id Identity) String() string {
	return base58.Encode(id[:])
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}
