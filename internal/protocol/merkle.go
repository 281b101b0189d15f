package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	merkleEmptyTag = []byte("bountyforge:journal:empty:v1")
	merkleNodeTag  = []byte("bountyforge:journal:node:v1:")
)

type MerkleStep struct {
	Side string `json:"side"`
	Hash string `json:"hash"`
}

// MerkleProof shows that LeafHash is the LeafIndex-th (zero based) entry of a
// journal of TreeSize events with root RootHash.
type MerkleProof struct {
	LeafHash  string       `json:"leaf_hash"`
	RootHash  string       `json:"root_hash"`
	TreeSize  int          `json:"tree_size"`
	LeafIndex int          `json:"leaf_index"`
	Path      []MerkleStep `json:"path"`
}

// JournalHead is a signed commitment to the first TreeSize journal events.
type JournalHead struct {
	TreeSize  int       `json:"tree_size"`
	RootHash  string    `json:"root_hash"`
	Timestamp time.Time `json:"timestamp"`
	Alg       string    `json:"alg"`
	Kid       string    `json:"kid"`
	Sig       string    `json:"sig"`
}

func JournalHeadSignaturePayload(head JournalHead) ([]byte, error) {
	return CanonicalJSON(struct {
		TreeSize  int       `json:"tree_size"`
		RootHash  string    `json:"root_hash"`
		Timestamp time.Time `json:"timestamp"`
		KeyID     string    `json:"kid"`
	}{
		TreeSize:  head.TreeSize,
		RootHash:  head.RootHash,
		Timestamp: head.Timestamp.UTC(),
		KeyID:     head.Kid,
	})
}

func decodeLeaves(leafHashes []string) ([][]byte, error) {
	level := make([][]byte, 0, len(leafHashes))
	for i, leaf := range leafHashes {
		b, err := hex.DecodeString(leaf)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		level = append(level, b)
	}
	return level, nil
}

func nextLevel(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, nodeHash(left, right))
	}
	return next
}

// ComputeMerkleRoot folds hex entry hashes into a root. An odd node is paired
// with itself.
func ComputeMerkleRoot(leafHashes []string) (string, error) {
	if len(leafHashes) == 0 {
		empty := sha256.Sum256(merkleEmptyTag)
		return hex.EncodeToString(empty[:]), nil
	}
	level, err := decodeLeaves(leafHashes)
	if err != nil {
		return "", err
	}
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return hex.EncodeToString(level[0]), nil
}

func ComputeInclusionProof(leafHashes []string, leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(leafHashes) {
		return nil, errors.New("leaf index out of range")
	}
	level, err := decodeLeaves(leafHashes)
	if err != nil {
		return nil, err
	}
	path := make([]MerkleStep, 0)
	idx := leafIndex
	for len(level) > 1 {
		siblingIdx := idx + 1
		side := "right"
		if idx%2 == 1 {
			siblingIdx = idx - 1
			side = "left"
		}
		sibling := level[idx]
		if siblingIdx < len(level) {
			sibling = level[siblingIdx]
		}
		path = append(path, MerkleStep{Side: side, Hash: hex.EncodeToString(sibling)})
		level = nextLevel(level)
		idx /= 2
	}
	return &MerkleProof{
		LeafHash:  leafHashes[leafIndex],
		RootHash:  hex.EncodeToString(level[0]),
		TreeSize:  len(leafHashes),
		LeafIndex: leafIndex,
		Path:      path,
	}, nil
}

func VerifyInclusionProof(proof *MerkleProof) (bool, error) {
	acc, err := hex.DecodeString(proof.LeafHash)
	if err != nil {
		return false, err
	}
	for _, step := range proof.Path {
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil {
			return false, err
		}
		switch step.Side {
		case "left":
			acc = nodeHash(sibling, acc)
		case "right":
			acc = nodeHash(acc, sibling)
		default:
			return false, errors.New("invalid proof side")
		}
	}
	return hex.EncodeToString(acc) == proof.RootHash, nil
}

func nodeHash(left, right []byte) []byte {
	msg := make([]byte, 0, len(merkleNodeTag)+len(left)+len(right))
	msg = append(msg, merkleNodeTag...)
	msg = append(msg, left...)
	msg = append(msg, right...)
	h := sha256.Sum256(msg)
	return h[:]
}
