package service

import (
	"context"
	"errors"
	"time"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

// AttestationRegistry keeps one immutable proof-of-solution per task.
type AttestationRegistry struct {
	program address.Address
}

func NewAttestationRegistry(program address.Address) *AttestationRegistry {
	return &AttestationRegistry{program: program}
}

// Attest records caller's claim for taskID. A second attestation for the same
// task fails no matter who submits it.
func (r *AttestationRegistry) Attest(ctx context.Context, tx storage.Tx, taskID uint64, hash protocol.SolutionHash, caller address.Address, now time.Time) (protocol.Attestation, error) {
	addr, bump, err := protocol.AttestationAddress(r.program, taskID)
	if err != nil {
		return protocol.Attestation{}, Internal("derive attestation address", err)
	}
	att := protocol.Attestation{
		TaskID:       taskID,
		Address:      addr,
		Bump:         bump,
		SolutionHash: hash,
		Timestamp:    now.Unix(),
		Agent:        caller,
		Verified:     false,
	}
	if err := storage.CreateAttestation(ctx, tx, att); err != nil {
		if errors.Is(err, storage.ErrRecordExists) {
			return protocol.Attestation{}, Failf(CodeDuplicateAttestation, "task %d already has an attestation", taskID)
		}
		return protocol.Attestation{}, storageError("create attestation", err)
	}
	return att, nil
}

func (r *AttestationRegistry) Lookup(ctx context.Context, tx storage.Tx, taskID uint64) (protocol.Attestation, error) {
	addr, _, err := protocol.AttestationAddress(r.program, taskID)
	if err != nil {
		return protocol.Attestation{}, Internal("derive attestation address", err)
	}
	att, found, err := storage.LoadAttestation(ctx, tx, addr)
	if err != nil {
		return protocol.Attestation{}, storageError("load attestation", err)
	}
	if !found {
		return protocol.Attestation{}, Failf(CodeAttestationNotFound, "no attestation for task %d", taskID)
	}
	return att, nil
}
