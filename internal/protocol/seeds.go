package protocol

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
)

// DefaultProgramID is the program identity used when none is configured. It
// namespaces every derived record address.
var DefaultProgramID = address.Address(sha256.Sum256([]byte("bountyforge:program:v1")))

var (
	seedBounty      = []byte("bounty")
	seedAttestation = []byte("attest")
	seedReputation  = []byte("rep")
	seedToken       = []byte("token")
)

func le64(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}

func BountySeeds(bountyID uint64) [][]byte {
	return [][]byte{seedBounty, le64(bountyID)}
}

func AttestationSeeds(taskID uint64) [][]byte {
	return [][]byte{seedAttestation, le64(taskID)}
}

func ReputationSeeds(agent address.Address) [][]byte {
	return [][]byte{seedReputation, agent[:]}
}

func TokenAccountSeeds(owner, mint address.Address) [][]byte {
	return [][]byte{seedToken, owner[:], mint[:]}
}

func BountyAddress(program address.Address, bountyID uint64) (address.Address, uint8, error) {
	return address.Find(program, BountySeeds(bountyID)...)
}

func AttestationAddress(program address.Address, taskID uint64) (address.Address, uint8, error) {
	return address.Find(program, AttestationSeeds(taskID)...)
}

func ReputationAddress(program address.Address, agent address.Address) (address.Address, uint8, error) {
	return address.Find(program, ReputationSeeds(agent)...)
}

// AssociatedTokenAddress is the default token account of owner for mint.
func AssociatedTokenAddress(program, owner, mint address.Address) (address.Address, error) {
	addr, _, err := address.Find(program, TokenAccountSeeds(owner, mint)...)
	return addr, err
}
