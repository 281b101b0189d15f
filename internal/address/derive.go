package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

const derivationMarker = "ProgramDerivedAddress"

var (
	ErrTooManySeeds  = errors.New("too many derivation seeds")
	ErrSeedTooLong   = errors.New("derivation seed too long")
	ErrOnCurve       = errors.New("derived address lies on the ed25519 curve")
	ErrNoViableNonce = errors.New("no viable derivation nonce")
)

// Derive computes the record address for seeds and nonce under program. It
// fails with ErrOnCurve when the digest is a valid ed25519 point, because
// such an address could have a private key.
func Derive(program Address, nonce uint8, seeds ...[]byte) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Zero, ErrTooManySeeds
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Zero, fmt.Errorf("%w: seed %d has %d bytes", ErrSeedTooLong, i, len(seed))
		}
		h.Write(seed)
	}
	h.Write([]byte{nonce})
	h.Write(program[:])
	h.Write([]byte(derivationMarker))

	var out Address
	copy(out[:], h.Sum(nil))
	if OnCurve(out) {
		return Zero, ErrOnCurve
	}
	return out, nil
}

// Find searches nonces from 255 down and returns the first off-curve
// address. The result is deterministic for a given program and seed list.
func Find(program Address, seeds ...[]byte) (Address, uint8, error) {
	for nonce := 255; nonce >= 0; nonce-- {
		addr, err := Derive(program, uint8(nonce), seeds...)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return Zero, 0, err
		}
		return addr, uint8(nonce), nil
	}
	return Zero, 0, ErrNoViableNonce
}

// OnCurve reports whether a decodes as a point on edwards25519.
func OnCurve(a Address) bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}
