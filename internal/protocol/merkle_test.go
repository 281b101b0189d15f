package protocol

import (
	"testing"
	"time"
)

func testLeaves(n int) []string {
	leaves := make([]string, n)
	for i := range leaves {
		leaves[i] = SHA256Hex([]byte{byte(i), 'l'})
	}
	return leaves
}

func TestMerkleProofRoundTrip(t *testing.T) {
	for size := 1; size <= 7; size++ {
		leaves := testLeaves(size)
		root, err := ComputeMerkleRoot(leaves)
		if err != nil {
			t.Fatalf("ComputeMerkleRoot error: %v", err)
		}
		for i := range leaves {
			proof, err := ComputeInclusionProof(leaves, i)
			if err != nil {
				t.Fatalf("ComputeInclusionProof(%d, %d) error: %v", size, i, err)
			}
			if proof.RootHash != root {
				t.Fatalf("size %d leaf %d: proof root %q does not match %q", size, i, proof.RootHash, root)
			}
			ok, err := VerifyInclusionProof(proof)
			if err != nil || !ok {
				t.Fatalf("size %d leaf %d: proof did not verify (%v)", size, i, err)
			}
		}
	}
}

func TestMerkleProofRejectsSwappedLeaf(t *testing.T) {
	leaves := testLeaves(4)
	proof, err := ComputeInclusionProof(leaves, 2)
	if err != nil {
		t.Fatalf("ComputeInclusionProof error: %v", err)
	}
	proof.LeafHash = leaves[1]
	ok, err := VerifyInclusionProof(proof)
	if err != nil {
		t.Fatalf("VerifyInclusionProof error: %v", err)
	}
	if ok {
		t.Fatalf("proof for a different leaf must not verify")
	}
	if _, err := ComputeInclusionProof(leaves, 4); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestEmptyMerkleRootIsStable(t *testing.T) {
	r1, err := ComputeMerkleRoot(nil)
	if err != nil {
		t.Fatalf("ComputeMerkleRoot error: %v", err)
	}
	r2, err := ComputeMerkleRoot([]string{})
	if err != nil {
		t.Fatalf("ComputeMerkleRoot error: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("empty roots differ: %q %q", r1, r2)
	}
}

func TestJournalHeadPayloadIgnoresSignature(t *testing.T) {
	head := JournalHead{TreeSize: 3, RootHash: "ab", Timestamp: time.Unix(1700000000, 0), Kid: "ed25519:01"}
	a, err := JournalHeadSignaturePayload(head)
	if err != nil {
		t.Fatalf("payload error: %v", err)
	}
	head.Sig = "sig"
	head.Alg = "ed25519"
	b, err := JournalHeadSignaturePayload(head)
	if err != nil {
		t.Fatalf("payload error: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("signature fields leaked into payload")
	}
}
