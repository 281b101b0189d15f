package service

import (
	"context"
	"errors"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/escrow"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

// BountyLedger owns bounty state. Every method runs inside the caller's
// transaction and checks all preconditions before its first write.
type BountyLedger struct {
	program      address.Address
	attestations *AttestationRegistry
	reputation   *ReputationStore
	escrow       escrow.TransferService
}

func NewBountyLedger(program address.Address, attestations *AttestationRegistry, reputation *ReputationStore, transfers escrow.TransferService) *BountyLedger {
	return &BountyLedger{
		program:      program,
		attestations: attestations,
		reputation:   reputation,
		escrow:       transfers,
	}
}

func (l *BountyLedger) Load(ctx context.Context, tx storage.Tx, bountyID uint64) (protocol.Bounty, error) {
	addr, _, err := protocol.BountyAddress(l.program, bountyID)
	if err != nil {
		return protocol.Bounty{}, Internal("derive bounty address", err)
	}
	bounty, found, err := storage.LoadBounty(ctx, tx, addr)
	if err != nil {
		return protocol.Bounty{}, storageError("load bounty", err)
	}
	if !found {
		return protocol.Bounty{}, Failf(CodeBountyNotFound, "bounty %d not found", bountyID)
	}
	return bounty, nil
}

func (l *BountyLedger) Submit(ctx context.Context, tx storage.Tx, req protocol.SubmitRequest) (protocol.Bounty, protocol.Reputation, error) {
	bounty, err := l.Load(ctx, tx, req.BountyID)
	if err != nil {
		return protocol.Bounty{}, protocol.Reputation{}, err
	}
	att, err := l.attestations.Lookup(ctx, tx, req.AttestationTaskID)
	if err != nil {
		return protocol.Bounty{}, protocol.Reputation{}, err
	}
	if bounty.Status() != protocol.StatusOpen {
		return protocol.Bounty{}, protocol.Reputation{}, Failf(CodeBountyNotOpen, "bounty %d is %s", bounty.ID, bounty.Status())
	}
	if _, ok := bounty.SolutionHash(); ok {
		return protocol.Bounty{}, protocol.Reputation{}, Fail(CodeBountyAlreadySubmitted)
	}
	if att.Agent != req.Caller {
		return protocol.Bounty{}, protocol.Reputation{}, Fail(CodeAttestationOwnerMismatch)
	}
	if att.SolutionHash != req.SolutionHash {
		return protocol.Bounty{}, protocol.Reputation{}, Fail(CodeSolutionHashMismatch)
	}

	rep, err := l.reputation.RecordSubmission(ctx, tx, req.Caller)
	if err != nil {
		return protocol.Bounty{}, protocol.Reputation{}, err
	}
	bounty.State = protocol.Submitted{Hash: req.SolutionHash, Agent: req.Caller}
	if err := storage.SaveBounty(ctx, tx, bounty); err != nil {
		return protocol.Bounty{}, protocol.Reputation{}, storageError("save bounty", err)
	}
	return bounty, rep, nil
}

type Settlement struct {
	Bounty     protocol.Bounty
	Reputation protocol.Reputation
	Receipt    escrow.Receipt
}

func (l *BountyLedger) Settle(ctx context.Context, tx storage.Tx, req protocol.SettleRequest, transferID string) (Settlement, error) {
	bounty, err := l.Load(ctx, tx, req.BountyID)
	if err != nil {
		return Settlement{}, err
	}
	if bounty.Status() != protocol.StatusSubmitted {
		return Settlement{}, Failf(CodeBountyNotSubmitted, "bounty %d is %s", bounty.ID, bounty.Status())
	}
	hash, submitter, ok := protocol.Solution(bounty.State)
	if !ok {
		return Settlement{}, Fail(CodeBountyAlreadySubmitted)
	}
	if req.Caller != bounty.Creator {
		return Settlement{}, Fail(CodeUnauthorizedSettlement)
	}

	payee := submitter
	if !req.Agent.IsZero() {
		payee = req.Agent
	}
	repAddr := req.Reputation
	if repAddr.IsZero() {
		if repAddr, _, err = l.reputation.AddressOf(payee); err != nil {
			return Settlement{}, Internal("derive reputation address", err)
		}
	}
	rep, err := l.reputation.Load(ctx, tx, repAddr)
	if err != nil {
		return Settlement{}, err
	}
	if rep.Agent != payee {
		return Settlement{}, Fail(CodeReputationOwnerMismatch)
	}

	payeeAddr := req.PayeeAccount
	if payeeAddr.IsZero() {
		if payeeAddr, err = protocol.AssociatedTokenAddress(l.program, payee, bounty.Mint); err != nil {
			return Settlement{}, Internal("derive payee token account", err)
		}
	}
	payeeAcct, err := l.tokenAccount(ctx, tx, payeeAddr)
	if err != nil {
		return Settlement{}, err
	}
	if payeeAcct.Owner != payee {
		return Settlement{}, Fail(CodeTokenOwnerMismatch)
	}
	if payeeAcct.Mint != bounty.Mint {
		return Settlement{}, Failf(CodeMintMismatch, "payee account %s holds a different mint", payeeAddr)
	}
	escrowAcct, err := l.tokenAccount(ctx, tx, bounty.Escrow)
	if err != nil {
		return Settlement{}, err
	}
	if escrowAcct.Owner != bounty.Address {
		return Settlement{}, Fail(CodeEscrowAuthorityMismatch)
	}
	if escrowAcct.Mint != bounty.Mint {
		return Settlement{}, Failf(CodeMintMismatch, "escrow account %s holds a different mint", bounty.Escrow)
	}

	authority, err := escrow.NewAuthority(l.program, bounty.Bump, protocol.BountySeeds(bounty.ID)...)
	if err != nil || authority.Address() != bounty.Address {
		appErr := Failf(CodeEscrowAuthorityMismatch, "bounty %d authority does not re-derive", bounty.ID)
		appErr.Cause = err
		return Settlement{}, appErr
	}
	receipt, err := l.escrow.Transfer(ctx, tx, escrow.Transfer{
		TransferID: transferID,
		From:       bounty.Escrow,
		To:         payeeAddr,
		ToOwner:    payee,
		Mint:       bounty.Mint,
		Amount:     bounty.Reward,
		Authority:  authority,
	})
	if err != nil {
		return Settlement{}, escrowError(err)
	}

	rep, err = l.reputation.RecordSuccess(ctx, tx, rep, bounty.Reward)
	if err != nil {
		return Settlement{}, err
	}
	bounty.State = protocol.Settled{Hash: hash, Agent: submitter}
	if err := storage.SaveBounty(ctx, tx, bounty); err != nil {
		return Settlement{}, storageError("save bounty", err)
	}
	return Settlement{Bounty: bounty, Reputation: rep, Receipt: receipt}, nil
}

func (l *BountyLedger) tokenAccount(ctx context.Context, tx storage.Tx, addr address.Address) (protocol.TokenAccount, error) {
	acct, found, err := storage.LoadTokenAccount(ctx, tx, addr)
	if err != nil {
		return protocol.TokenAccount{}, storageError("load token account", err)
	}
	if !found {
		return protocol.TokenAccount{}, Failf(CodeTokenAccountNotFound, "token account %s not found", addr)
	}
	return acct, nil
}

func escrowError(err error) error {
	var code string
	switch {
	case errors.Is(err, escrow.ErrAuthority):
		code = CodeEscrowAuthorityMismatch
	case errors.Is(err, escrow.ErrAccountNotFound):
		code = CodeTokenAccountNotFound
	case errors.Is(err, escrow.ErrOwnerMismatch):
		code = CodeTokenOwnerMismatch
	case errors.Is(err, escrow.ErrMintMismatch):
		code = CodeMintMismatch
	case errors.Is(err, escrow.ErrInsufficientFunds):
		code = CodeInsufficientEscrowFunds
	case errors.Is(err, escrow.ErrBalanceOverflow):
		code = CodeTokenBalanceOverflow
	default:
		return storageError("escrow transfer", err)
	}
	appErr := Fail(code)
	appErr.Cause = err
	return appErr
}
