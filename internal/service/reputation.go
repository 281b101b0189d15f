package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

type ReputationStore struct {
	program address.Address
}

func NewReputationStore(program address.Address) *ReputationStore {
	return &ReputationStore{program: program}
}

func (s *ReputationStore) AddressOf(agent address.Address) (address.Address, uint8, error) {
	return protocol.ReputationAddress(s.program, agent)
}

// RecordSubmission creates agent's record with score 1, or bumps the score of
// an existing one.
func (s *ReputationStore) RecordSubmission(ctx context.Context, tx storage.Tx, agent address.Address) (protocol.Reputation, error) {
	addr, bump, err := s.AddressOf(agent)
	if err != nil {
		return protocol.Reputation{}, Internal("derive reputation address", err)
	}
	rep, found, err := storage.LoadReputation(ctx, tx, addr)
	if err != nil {
		return protocol.Reputation{}, storageError("load reputation", err)
	}
	if !found {
		rep = protocol.Reputation{Address: addr, Bump: bump, Agent: agent, Score: 1}
		if err := storage.CreateReputation(ctx, tx, rep); err != nil {
			return protocol.Reputation{}, storageError("create reputation", err)
		}
		return rep, nil
	}
	if rep.Agent != agent {
		return protocol.Reputation{}, Fail(CodeReputationOwnerMismatch)
	}
	score, ok := protocol.CheckedAdd(rep.Score, 1)
	if !ok {
		return protocol.Reputation{}, Fail(CodeReputationScoreOverflow)
	}
	rep.Score = score
	if err := storage.SaveReputation(ctx, tx, rep); err != nil {
		return protocol.Reputation{}, storageError("save reputation", err)
	}
	return rep, nil
}

func (s *ReputationStore) Load(ctx context.Context, tx storage.Tx, addr address.Address) (protocol.Reputation, error) {
	rep, found, err := storage.LoadReputation(ctx, tx, addr)
	if err != nil {
		return protocol.Reputation{}, storageError("load reputation", err)
	}
	if !found {
		return protocol.Reputation{}, Failf(CodeReputationNotFound, "no reputation record at %s", addr)
	}
	return rep, nil
}

// RecordSuccess credits a settled bounty. Both counters are checked before
// either is written.
func (s *ReputationStore) RecordSuccess(ctx context.Context, tx storage.Tx, rep protocol.Reputation, reward uint64) (protocol.Reputation, error) {
	successful, ok := protocol.CheckedAdd(rep.SuccessfulBounties, 1)
	if !ok {
		return protocol.Reputation{}, Failf(CodeReputationOverflow, "successful_bounties overflow")
	}
	earned, ok := protocol.CheckedAdd(rep.TotalEarned, reward)
	if !ok {
		return protocol.Reputation{}, Failf(CodeReputationOverflow, "total_earned overflow")
	}
	rep.SuccessfulBounties = successful
	rep.TotalEarned = earned
	if err := storage.SaveReputation(ctx, tx, rep); err != nil {
		return protocol.Reputation{}, storageError("save reputation", err)
	}
	return rep, nil
}

// storageError maps store failures. Corrupt records are not worth retrying.
func storageError(msg string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, storage.ErrCorruptRecord) {
		return NewAppError(http.StatusInternalServerError, CodeInternal, msg, false, err)
	}
	return Internal(msg, err)
}
