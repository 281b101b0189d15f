package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/escrow"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

func TestAttestRejectsDuplicateTask(t *testing.T) {
	h := newHarness(t)
	h.attest(t, 7, solH, agentA)

	_, err := h.svc.Attest(context.Background(), protocol.AttestRequest{TaskID: 7, SolutionHash: protocol.HashSolution([]byte("other")), Caller: agentD})
	require.True(t, IsCode(err, CodeDuplicateAttestation), err)
	require.True(t, IsKind(err, KindIntegrity))

	got, err := h.svc.GetAttestation(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, agentA, got.Agent)
	require.Equal(t, solH, got.SolutionHash)
}

func TestAttestTouchesNoBountyOrReputation(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 42, 100, 100)
	h.attest(t, 7, solH, agentA)

	b, err := h.svc.GetBounty(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOpen, b.Status())
	_, err = h.svc.GetReputation(context.Background(), agentA)
	require.True(t, IsCode(err, CodeReputationNotFound), err)
}

func TestSubmitPreconditions(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(t *testing.T, h *harness)
		taskID uint64
		bounty uint64
		hash   protocol.SolutionHash
		caller address.Address
		code   string
	}{
		{
			name:   "missing bounty",
			setup:  func(t *testing.T, h *harness) { h.attest(t, 7, solH, agentA) },
			taskID: 7, bounty: 99, hash: solH, caller: agentA,
			code: CodeBountyNotFound,
		},
		{
			name:   "missing attestation",
			setup:  func(t *testing.T, h *harness) { h.fund(t, 42, 100, 100) },
			taskID: 8, bounty: 42, hash: solH, caller: agentA,
			code: CodeAttestationNotFound,
		},
		{
			name: "foreign attestation",
			setup: func(t *testing.T, h *harness) {
				h.fund(t, 42, 100, 100)
				h.attest(t, 7, solH, agentA)
			},
			taskID: 7, bounty: 42, hash: solH, caller: agentD,
			code: CodeAttestationOwnerMismatch,
		},
		{
			name: "hash mismatch",
			setup: func(t *testing.T, h *harness) {
				h.fund(t, 42, 100, 100)
				h.attest(t, 7, solH, agentA)
			},
			taskID: 7, bounty: 42, hash: protocol.HashSolution([]byte("different")), caller: agentA,
			code: CodeSolutionHashMismatch,
		},
		{
			name: "already submitted",
			setup: func(t *testing.T, h *harness) {
				h.submitted(t, 42, 100, 100)
			},
			taskID: 1042, bounty: 42, hash: solH, caller: agentA,
			code: CodeBountyNotOpen,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(t, h)
			before, _ := h.svc.GetBounty(context.Background(), tc.bounty)

			_, err := h.submit(tc.taskID, tc.bounty, tc.hash, tc.caller)
			require.True(t, IsCode(err, tc.code), "want %s, got %v", tc.code, err)

			after, _ := h.svc.GetBounty(context.Background(), tc.bounty)
			require.Equal(t, before, after)
		})
	}
}

func TestSubmitFailureCreatesNoReputation(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 42, 100, 100)
	h.attest(t, 7, solH, agentD)

	_, err := h.submit(7, 42, protocol.HashSolution([]byte("nope")), agentD)
	require.True(t, IsCode(err, CodeSolutionHashMismatch), err)
	_, err = h.svc.GetReputation(context.Background(), agentD)
	require.True(t, IsCode(err, CodeReputationNotFound), err)
}

func seedReputation(t *testing.T, h *harness, agent address.Address, mutate func(*protocol.Reputation)) {
	t.Helper()
	addr, bump, err := protocol.ReputationAddress(h.svc.ProgramID(), agent)
	require.NoError(t, err)
	rep := protocol.Reputation{Address: addr, Bump: bump, Agent: agent, Score: 1}
	mutate(&rep)
	ctx := context.Background()
	require.NoError(t, h.store.Update(ctx, func(tx storage.Tx) error {
		return storage.CreateReputation(ctx, tx, rep)
	}))
}

func TestSubmitScoreOverflowLeavesBountyOpen(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 42, 100, 100)
	h.attest(t, 7, solH, agentA)
	seedReputation(t, h, agentA, func(r *protocol.Reputation) { r.Score = math.MaxUint64 })

	_, err := h.submit(7, 42, solH, agentA)
	require.True(t, IsCode(err, CodeReputationScoreOverflow), err)
	require.True(t, IsKind(err, KindArithmetic))

	b, err := h.svc.GetBounty(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOpen, b.Status())
	rep, err := h.svc.GetReputation(context.Background(), agentA)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), rep.Score)
}

func TestSettleOverflowRollsBackTransfer(t *testing.T) {
	for name, mutate := range map[string]func(*protocol.Reputation){
		"total_earned":        func(r *protocol.Reputation) { r.TotalEarned = math.MaxUint64 - 50 },
		"successful_bounties": func(r *protocol.Reputation) { r.SuccessfulBounties = math.MaxUint64 },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			bounty := h.fund(t, 42, 100, 100)
			h.attest(t, 7, solH, agentA)
			seedReputation(t, h, agentA, mutate)
			_, err := h.submit(7, 42, solH, agentA)
			require.NoError(t, err)
			before, err := h.svc.GetReputation(context.Background(), agentA)
			require.NoError(t, err)

			_, err = h.settle(42, creator)
			require.True(t, IsCode(err, CodeReputationOverflow), err)

			b, err := h.svc.GetBounty(context.Background(), 42)
			require.NoError(t, err)
			require.Equal(t, protocol.StatusSubmitted, b.Status())
			require.Equal(t, uint64(100), h.balance(t, bounty.Escrow))
			after, err := h.svc.GetReputation(context.Background(), agentA)
			require.NoError(t, err)
			require.Equal(t, before, after)
		})
	}
}

func TestSettlePreconditions(t *testing.T) {
	otherMint := address.Address{0x4e}
	cases := []struct {
		name    string
		setup   func(t *testing.T, h *harness)
		request func(t *testing.T, h *harness) protocol.SettleRequest
		code    string
	}{
		{
			name:  "missing bounty",
			setup: func(*testing.T, *harness) {},
			request: func(*testing.T, *harness) protocol.SettleRequest {
				return protocol.SettleRequest{BountyID: 42, Caller: creator}
			},
			code: CodeBountyNotFound,
		},
		{
			name:  "open bounty",
			setup: func(t *testing.T, h *harness) { h.fund(t, 42, 100, 100) },
			request: func(*testing.T, *harness) protocol.SettleRequest {
				return protocol.SettleRequest{BountyID: 42, Caller: creator}
			},
			code: CodeBountyNotSubmitted,
		},
		{
			name:  "not the creator",
			setup: func(t *testing.T, h *harness) { h.submitted(t, 42, 100, 100) },
			request: func(*testing.T, *harness) protocol.SettleRequest {
				return protocol.SettleRequest{BountyID: 42, Caller: agentA}
			},
			code: CodeUnauthorizedSettlement,
		},
		{
			name:  "payee without reputation",
			setup: func(t *testing.T, h *harness) { h.submitted(t, 42, 100, 100) },
			request: func(*testing.T, *harness) protocol.SettleRequest {
				return protocol.SettleRequest{BountyID: 42, Caller: creator, Agent: agentD}
			},
			code: CodeReputationNotFound,
		},
		{
			name: "reputation of another agent",
			setup: func(t *testing.T, h *harness) {
				h.submitted(t, 42, 100, 100)
				seedReputation(t, h, agentD, func(*protocol.Reputation) {})
			},
			request: func(t *testing.T, h *harness) protocol.SettleRequest {
				addr, _, err := protocol.ReputationAddress(h.svc.ProgramID(), agentD)
				require.NoError(t, err)
				return protocol.SettleRequest{BountyID: 42, Caller: creator, Reputation: addr}
			},
			code: CodeReputationOwnerMismatch,
		},
		{
			name:  "missing payee account",
			setup: func(t *testing.T, h *harness) { h.submitted(t, 42, 100, 100) },
			request: func(*testing.T, *harness) protocol.SettleRequest {
				return protocol.SettleRequest{BountyID: 42, Caller: creator, PayeeAccount: address.Address{0x77}}
			},
			code: CodeTokenAccountNotFound,
		},
		{
			name: "payee account owned by someone else",
			setup: func(t *testing.T, h *harness) {
				h.submitted(t, 42, 100, 100)
				h.ensureAccount(t, creator, mintM, 0)
			},
			request: func(t *testing.T, h *harness) protocol.SettleRequest {
				addr, err := protocol.AssociatedTokenAddress(h.svc.ProgramID(), creator, mintM)
				require.NoError(t, err)
				return protocol.SettleRequest{BountyID: 42, Caller: creator, PayeeAccount: addr}
			},
			code: CodeTokenOwnerMismatch,
		},
		{
			name: "payee account of another mint",
			setup: func(t *testing.T, h *harness) {
				h.submitted(t, 42, 100, 100)
				h.ensureAccount(t, agentA, otherMint, 0)
			},
			request: func(t *testing.T, h *harness) protocol.SettleRequest {
				addr, err := protocol.AssociatedTokenAddress(h.svc.ProgramID(), agentA, otherMint)
				require.NoError(t, err)
				return protocol.SettleRequest{BountyID: 42, Caller: creator, PayeeAccount: addr}
			},
			code: CodeMintMismatch,
		},
		{
			name:  "underfunded escrow",
			setup: func(t *testing.T, h *harness) { h.submitted(t, 42, 100, 99) },
			request: func(*testing.T, *harness) protocol.SettleRequest {
				return protocol.SettleRequest{BountyID: 42, Caller: creator}
			},
			code: CodeInsufficientEscrowFunds,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(t, h)
			before, _ := h.svc.GetBounty(context.Background(), 42)

			_, err := h.svc.Settle(context.Background(), tc.request(t, h))
			require.True(t, IsCode(err, tc.code), "want %s, got %v", tc.code, err)

			after, _ := h.svc.GetBounty(context.Background(), 42)
			require.Equal(t, before, after)
		})
	}
}

func TestSettlePayeeBalanceOverflow(t *testing.T) {
	h := newHarness(t)
	h.ensureAccount(t, agentA, mintM, math.MaxUint64)
	h.submitted(t, 42, 100, 100)

	_, err := h.settle(42, creator)
	require.True(t, IsCode(err, CodeTokenBalanceOverflow), err)
}

type failingEscrow struct {
	err   error
	calls int
}

func (f *failingEscrow) Transfer(context.Context, storage.Tx, escrow.Transfer) (escrow.Receipt, error) {
	f.calls++
	return escrow.Receipt{}, f.err
}

func TestTransferFailureAbortsSettlement(t *testing.T) {
	for name, tc := range map[string]struct {
		err  error
		code string
	}{
		"custody outage":  {err: errors.New("custody unavailable"), code: CodeInternal},
		"authority check": {err: escrow.ErrAuthority, code: CodeEscrowAuthorityMismatch},
	} {
		t.Run(name, func(t *testing.T) {
			fake := &failingEscrow{err: tc.err}
			h := newHarness(t, withEscrow(fake))
			bounty := h.fund(t, 42, 100, 100)
			h.attest(t, 7, solH, agentA)
			_, err := h.submit(7, 42, solH, agentA)
			require.NoError(t, err)

			_, err = h.settle(42, creator)
			require.True(t, IsCode(err, tc.code), err)
			require.Equal(t, 1, fake.calls)

			b, err := h.svc.GetBounty(context.Background(), 42)
			require.NoError(t, err)
			require.Equal(t, protocol.StatusSubmitted, b.Status())
			rep, err := h.svc.GetReputation(context.Background(), agentA)
			require.NoError(t, err)
			require.Zero(t, rep.SuccessfulBounties)
			require.Zero(t, rep.TotalEarned)
			require.Equal(t, uint64(100), h.balance(t, bounty.Escrow))
		})
	}
}

func TestSettleEscrowOwnedByStranger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.submitted(t, 42, 100, 100)
	b, err := h.svc.GetBounty(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, h.store.Update(ctx, func(tx storage.Tx) error {
		acct, _, err := storage.LoadTokenAccount(ctx, tx, b.Escrow)
		if err != nil {
			return err
		}
		acct.Owner = creator
		return storage.SaveTokenAccount(ctx, tx, acct)
	}))
	_, err = h.settle(42, creator)
	require.True(t, IsCode(err, CodeEscrowAuthorityMismatch), err)
}
