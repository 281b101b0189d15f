// Package address defines the 32-byte identities used for agents, creators
// and ledger records, and the deterministic derivation of record addresses
// from stable seeds.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Size is the byte length of an Address.
const Size = 32

// Address is either an ed25519 public key (a human or agent identity) or a
// derived record address that has no private key.
type Address [Size]byte

// Zero is the all-zero address. It never identifies a real record or caller.
var Zero Address

var ErrInvalidAddress = errors.New("invalid address")

// Parse decodes the base58 text form of an address.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return FromBytes(raw)
}

// FromBytes copies a 32-byte slice into an Address.
func FromBytes(raw []byte) (Address, error) {
	var out Address
	if len(raw) != Size {
		return Zero, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, a[:])
	return out
}

func (a Address) IsZero() bool {
	return a == Zero
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
