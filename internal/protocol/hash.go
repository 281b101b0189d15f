package protocol

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var b64u = base64.RawURLEncoding

// SolutionHashSize is the byte length of an attested solution hash.
const SolutionHashSize = 32

// SolutionHash is the SHA-256 digest an agent attests for its solution. Its
// text form is lowercase hex.
type SolutionHash [SolutionHashSize]byte

var ErrInvalidSolutionHash = errors.New("invalid solution hash")

func ParseSolutionHash(s string) (SolutionHash, error) {
	var out SolutionHash
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidSolutionHash, err)
	}
	if len(raw) != SolutionHashSize {
		return out, fmt.Errorf("%w: length %d", ErrInvalidSolutionHash, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// HashSolution returns the digest of a raw solution artifact.
func HashSolution(solution []byte) SolutionHash {
	return SolutionHash(sha256.Sum256(solution))
}

func (h SolutionHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h SolutionHash) IsZero() bool {
	return h == SolutionHash{}
}

func (h SolutionHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *SolutionHash) UnmarshalText(text []byte) error {
	parsed, err := ParseSolutionHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func CanonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func SHA256B64u(in []byte) string {
	h := sha256.Sum256(in)
	return b64u.EncodeToString(h[:])
}

func SHA256Hex(in []byte) string {
	h := sha256.Sum256(in)
	return hex.EncodeToString(h[:])
}
