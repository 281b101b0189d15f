package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	ledgercrypto "github.com/bountyforge/bountyforge-ledger/internal/crypto"
	"github.com/bountyforge/bountyforge-ledger/internal/escrow"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

const (
	OpAttest = "attest"
	OpSubmit = "submit"
	OpSettle = "settle"
)

type Service struct {
	store        storage.Store
	signer       *ledgercrypto.Signer
	program      address.Address
	clock        func() time.Time
	service      string
	version      string
	attestations *AttestationRegistry
	reputation   *ReputationStore
	ledger       *BountyLedger
}

type Params struct {
	Store  storage.Store
	Signer *ledgercrypto.Signer
	// Escrow defaults to the token-account service over Store.
	Escrow      escrow.TransferService
	ProgramID   address.Address
	Clock       func() time.Time
	ServiceName string
	Version     string
}

func New(params Params) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if params.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if params.ProgramID.IsZero() {
		params.ProgramID = protocol.DefaultProgramID
	}
	if params.Escrow == nil {
		params.Escrow = escrow.NewTokenService(params.ProgramID)
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	if params.ServiceName == "" {
		params.ServiceName = "bountyforge-ledger"
	}
	if params.Version == "" {
		params.Version = "dev"
	}
	attestations := NewAttestationRegistry(params.ProgramID)
	reputation := NewReputationStore(params.ProgramID)
	return &Service{
		store:        params.Store,
		signer:       params.Signer,
		program:      params.ProgramID,
		clock:        params.Clock,
		service:      params.ServiceName,
		version:      params.Version,
		attestations: attestations,
		reputation:   reputation,
		ledger:       NewBountyLedger(params.ProgramID, attestations, reputation, params.Escrow),
	}, nil
}

func (s *Service) ProgramID() address.Address { return s.program }

// now is truncated to the precision every backend can store.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *Service) Attest(ctx context.Context, req protocol.AttestRequest) (protocol.AttestResponse, error) {
	if req.Caller.IsZero() {
		return protocol.AttestResponse{}, BadRequest("caller is required", nil)
	}
	now := s.now()
	var att protocol.Attestation
	var ev protocol.Event
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		att, err = s.attestations.Attest(ctx, tx, req.TaskID, req.SolutionHash, req.Caller, now)
		if err != nil {
			return err
		}
		ev, err = s.journal(ctx, tx, protocol.EventAttestationCreated, att.Address, att, now)
		return err
	})
	if err != nil {
		return protocol.AttestResponse{}, storageError("attest", err)
	}
	ack, err := s.ack(OpAttest, ev)
	if err != nil {
		return protocol.AttestResponse{}, err
	}
	return protocol.AttestResponse{Status: "attested", Attestation: att, Ack: ack}, nil
}

func (s *Service) Submit(ctx context.Context, req protocol.SubmitRequest) (protocol.SubmitResponse, error) {
	if req.Caller.IsZero() {
		return protocol.SubmitResponse{}, BadRequest("caller is required", nil)
	}
	now := s.now()
	var bounty protocol.Bounty
	var rep protocol.Reputation
	var ev protocol.Event
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		bounty, rep, err = s.ledger.Submit(ctx, tx, req)
		if err != nil {
			return err
		}
		payload := struct {
			Bounty            protocol.Bounty     `json:"bounty"`
			Reputation        protocol.Reputation `json:"reputation"`
			AttestationTaskID uint64              `json:"attestation_task_id"`
		}{bounty, rep, req.AttestationTaskID}
		ev, err = s.journal(ctx, tx, protocol.EventSolutionSubmitted, bounty.Address, payload, now)
		return err
	})
	if err != nil {
		return protocol.SubmitResponse{}, storageError("submit solution", err)
	}
	ack, err := s.ack(OpSubmit, ev)
	if err != nil {
		return protocol.SubmitResponse{}, err
	}
	return protocol.SubmitResponse{Status: string(protocol.StatusSubmitted), Bounty: bounty, Reputation: rep, Ack: ack}, nil
}

func (s *Service) Settle(ctx context.Context, req protocol.SettleRequest) (protocol.SettleResponse, error) {
	if req.Caller.IsZero() {
		return protocol.SettleResponse{}, BadRequest("caller is required", nil)
	}
	now := s.now()
	// Fixed outside the transaction so a postgres retry reuses it.
	transferID := uuid.NewString()
	var out Settlement
	var ev protocol.Event
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		out, err = s.ledger.Settle(ctx, tx, req, transferID)
		if err != nil {
			return err
		}
		payload := struct {
			Bounty     protocol.Bounty     `json:"bounty"`
			Reputation protocol.Reputation `json:"reputation"`
			Transfer   escrow.Receipt      `json:"transfer"`
		}{out.Bounty, out.Reputation, out.Receipt}
		ev, err = s.journal(ctx, tx, protocol.EventBountySettled, out.Bounty.Address, payload, now)
		return err
	})
	if err != nil {
		return protocol.SettleResponse{}, storageError("settle bounty", err)
	}
	ack, err := s.ack(OpSettle, ev)
	if err != nil {
		return protocol.SettleResponse{}, err
	}
	return protocol.SettleResponse{
		Status:     string(protocol.StatusSettled),
		Bounty:     out.Bounty,
		Reputation: out.Reputation,
		Payee:      out.Receipt.To,
		Escrow:     out.Receipt.From,
		TransferID: out.Receipt.TransferID,
		Ack:        ack,
	}, nil
}

func (s *Service) journal(ctx context.Context, tx storage.Tx, eventType string, subject address.Address, payload any, now time.Time) (protocol.Event, error) {
	raw, err := protocol.CanonicalJSON(payload)
	if err != nil {
		return protocol.Event{}, Internal("encode event payload", err)
	}
	ev, err := tx.AppendEvent(ctx, protocol.EventDraft{
		EventType:  eventType,
		Subject:    subject.String(),
		Payload:    json.RawMessage(raw),
		RecordedAt: now,
	})
	if err != nil {
		return protocol.Event{}, storageError("append event", err)
	}
	return ev, nil
}

func (s *Service) ack(op string, ev protocol.Event) (protocol.Ack, error) {
	ack := protocol.Ack{
		Operation:  op,
		Subject:    ev.Subject,
		EventIndex: ev.Index,
		EntryHash:  ev.EntryHash,
		RecordedAt: ev.RecordedAt,
		Alg:        "ed25519",
		Kid:        s.signer.KeyID,
	}
	raw, err := protocol.AckSignaturePayload(ack)
	if err != nil {
		return protocol.Ack{}, Internal("encode ack payload", err)
	}
	ack.Sig = s.signer.Sign(raw)
	return ack, nil
}

// VerifyAck checks an ack issued by this service.
func (s *Service) VerifyAck(ack protocol.Ack) bool {
	if ack.Kid != s.signer.KeyID || ack.Alg != "ed25519" {
		return false
	}
	raw, err := protocol.AckSignaturePayload(ack)
	if err != nil {
		return false
	}
	return ledgercrypto.Verify(s.signer.Public, raw, ack.Sig)
}

func (s *Service) GetBounty(ctx context.Context, bountyID uint64) (protocol.Bounty, error) {
	var out protocol.Bounty
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = s.ledger.Load(ctx, tx, bountyID)
		return err
	})
	return out, storageError("get bounty", err)
}

func (s *Service) GetAttestation(ctx context.Context, taskID uint64) (protocol.Attestation, error) {
	var out protocol.Attestation
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = s.attestations.Lookup(ctx, tx, taskID)
		return err
	})
	return out, storageError("get attestation", err)
}

func (s *Service) GetReputation(ctx context.Context, agent address.Address) (protocol.Reputation, error) {
	addr, _, err := s.reputation.AddressOf(agent)
	if err != nil {
		return protocol.Reputation{}, Internal("derive reputation address", err)
	}
	var out protocol.Reputation
	err = s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = s.reputation.Load(ctx, tx, addr)
		return err
	})
	return out, storageError("get reputation", err)
}

func (s *Service) GetTokenAccount(ctx context.Context, addr address.Address) (protocol.TokenAccount, error) {
	var out protocol.TokenAccount
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = s.ledger.tokenAccount(ctx, tx, addr)
		return err
	})
	return out, storageError("get token account", err)
}

func (s *Service) GetEvent(ctx context.Context, index int64) (protocol.Event, error) {
	var out protocol.Event
	err := s.store.View(ctx, func(tx storage.Tx) error {
		ev, found, err := tx.GetEvent(ctx, index)
		if err != nil {
			return storageError("get event", err)
		}
		if !found {
			return Failf(CodeEventNotFound, "event %d not found", index)
		}
		out = ev
		return nil
	})
	return out, storageError("get event", err)
}

// JournalHead signs the Merkle root over every event recorded so far.
func (s *Service) JournalHead(ctx context.Context) (protocol.JournalHead, error) {
	var head protocol.JournalHead
	err := s.store.View(ctx, func(tx storage.Tx) error {
		latest, found, err := tx.LatestEvent(ctx)
		if err != nil {
			return storageError("get latest event", err)
		}
		var size int64
		if found {
			size = latest.Index
		}
		hashes, err := tx.EventHashes(ctx, size)
		if err != nil {
			return storageError("list event hashes", err)
		}
		head, err = s.signHead(hashes)
		return err
	})
	return head, storageError("journal head", err)
}

// ProveEvent returns an inclusion proof for event index against a freshly
// signed head.
func (s *Service) ProveEvent(ctx context.Context, index int64) (protocol.EventProof, error) {
	var out protocol.EventProof
	err := s.store.View(ctx, func(tx storage.Tx) error {
		ev, found, err := tx.GetEvent(ctx, index)
		if err != nil {
			return storageError("get event", err)
		}
		if !found {
			return Failf(CodeEventNotFound, "event %d not found", index)
		}
		latest, _, err := tx.LatestEvent(ctx)
		if err != nil {
			return storageError("get latest event", err)
		}
		hashes, err := tx.EventHashes(ctx, latest.Index)
		if err != nil {
			return storageError("list event hashes", err)
		}
		proof, err := protocol.ComputeInclusionProof(hashes, int(index-1))
		if err != nil {
			return Internal("compute inclusion proof", err)
		}
		head, err := s.signHead(hashes)
		if err != nil {
			return err
		}
		out = protocol.EventProof{Event: ev, Proof: proof, Head: head}
		return nil
	})
	return out, storageError("prove event", err)
}

func (s *Service) signHead(hashes []string) (protocol.JournalHead, error) {
	root, err := protocol.ComputeMerkleRoot(hashes)
	if err != nil {
		return protocol.JournalHead{}, Internal("compute journal root", err)
	}
	head := protocol.JournalHead{
		TreeSize:  len(hashes),
		RootHash:  root,
		Timestamp: s.now(),
		Alg:       "ed25519",
		Kid:       s.signer.KeyID,
	}
	raw, err := protocol.JournalHeadSignaturePayload(head)
	if err != nil {
		return protocol.JournalHead{}, Internal("encode journal head payload", err)
	}
	head.Sig = s.signer.Sign(raw)
	return head, nil
}

// VerifyJournalHead checks a head issued by this service.
func (s *Service) VerifyJournalHead(head protocol.JournalHead) bool {
	if head.Kid != s.signer.KeyID || head.Alg != "ed25519" {
		return false
	}
	raw, err := protocol.JournalHeadSignaturePayload(head)
	if err != nil {
		return false
	}
	return ledgercrypto.Verify(s.signer.Public, raw, head.Sig)
}

func (s *Service) Health(ctx context.Context) (protocol.HealthResponse, error) {
	out := protocol.HealthResponse{
		Service:      s.service,
		Version:      s.version,
		Status:       "ok",
		ProgramID:    s.program.String(),
		StoreDriver:  s.store.Driver(),
		Time:         s.clock().UTC(),
		SigningKeyID: s.signer.KeyID,
	}
	err := s.store.View(ctx, func(tx storage.Tx) error {
		latest, found, err := tx.LatestEvent(ctx)
		if err != nil {
			return err
		}
		if found {
			out.LatestIndex = latest.Index
			out.LatestHash = latest.EntryHash
		}
		return nil
	})
	if err != nil {
		return protocol.HealthResponse{}, Internal("get latest event", err)
	}
	return out, nil
}
