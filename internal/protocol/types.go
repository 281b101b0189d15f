package protocol

import (
	"encoding/json"
	"time"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
)

// Bounty is an escrowed reward for solving a task. It is created Open by the
// external funding flow and advanced only by submit and settle.
type Bounty struct {
	ID      uint64
	Address address.Address
	Bump    uint8
	Creator address.Address
	Reward  uint64
	Mint    address.Address
	Escrow  address.Address
	State   BountyState
}

func (b Bounty) Status() Status {
	if b.State == nil {
		return StatusOpen
	}
	return b.State.Status()
}

func (b Bounty) SolutionHash() (SolutionHash, bool) {
	h, _, ok := Solution(b.State)
	return h, ok
}

type bountyJSON struct {
	ID           uint64           `json:"id"`
	Address      address.Address  `json:"address"`
	Bump         uint8            `json:"bump"`
	Creator      address.Address  `json:"creator"`
	Reward       uint64           `json:"reward"`
	Mint         address.Address  `json:"mint"`
	Escrow       address.Address  `json:"escrow"`
	Status       Status           `json:"status"`
	SolutionHash *SolutionHash    `json:"solution_hash,omitempty"`
	Agent        *address.Address `json:"agent,omitempty"`
}

func (b Bounty) MarshalJSON() ([]byte, error) {
	out := bountyJSON{
		ID:      b.ID,
		Address: b.Address,
		Bump:    b.Bump,
		Creator: b.Creator,
		Reward:  b.Reward,
		Mint:    b.Mint,
		Escrow:  b.Escrow,
		Status:  b.Status(),
	}
	if h, agent, ok := Solution(b.State); ok {
		out.SolutionHash = &h
		out.Agent = &agent
	}
	return json.Marshal(out)
}

func (b *Bounty) UnmarshalJSON(raw []byte) error {
	var in bountyJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	if in.Status == "" {
		in.Status = StatusOpen
	}
	state, err := RestoreState(in.Status, in.SolutionHash, in.Agent)
	if err != nil {
		return err
	}
	*b = Bounty{
		ID:      in.ID,
		Address: in.Address,
		Bump:    in.Bump,
		Creator: in.Creator,
		Reward:  in.Reward,
		Mint:    in.Mint,
		Escrow:  in.Escrow,
		State:   state,
	}
	return nil
}

// Attestation binds an agent to the hash of its claimed solution for a task.
// It is written once and never mutated here; Verified is reserved for an
// external auditor.
type Attestation struct {
	TaskID       uint64          `json:"task_id"`
	Address      address.Address `json:"address"`
	Bump         uint8           `json:"bump"`
	SolutionHash SolutionHash    `json:"solution_hash"`
	Timestamp    int64           `json:"timestamp"`
	Agent        address.Address `json:"agent"`
	Verified     bool            `json:"verified"`
}

// Reputation is the per-agent running tally. Every counter only grows.
type Reputation struct {
	Address            address.Address `json:"address"`
	Bump               uint8           `json:"bump"`
	Agent              address.Address `json:"agent"`
	Score              uint64          `json:"score"`
	SuccessfulBounties uint64          `json:"successful_bounties"`
	FailedBounties     uint64          `json:"failed_bounties"`
	TotalEarned        uint64          `json:"total_earned"`
}

// TokenAccount holds a balance of one mint on behalf of its owner.
type TokenAccount struct {
	Address address.Address `json:"address"`
	Owner   address.Address `json:"owner"`
	Mint    address.Address `json:"mint"`
	Amount  uint64          `json:"amount"`
}

type AttestRequest struct {
	TaskID       uint64          `json:"task_id"`
	SolutionHash SolutionHash    `json:"solution_hash"`
	Caller       address.Address `json:"-"`
}

type AttestResponse struct {
	Status      string      `json:"status"`
	Attestation Attestation `json:"attestation"`
	Ack         Ack         `json:"ack"`
}

type SubmitRequest struct {
	BountyID          uint64          `json:"-"`
	SolutionHash      SolutionHash    `json:"solution_hash"`
	AttestationTaskID uint64          `json:"attestation_task_id"`
	Caller            address.Address `json:"-"`
}

type SubmitResponse struct {
	Status     string     `json:"status"`
	Bounty     Bounty     `json:"bounty"`
	Reputation Reputation `json:"reputation"`
	Ack        Ack        `json:"ack"`
}

// SettleRequest pays the submitting agent unless Agent names another payee.
// Reputation and PayeeAccount default to the payee's derived records.
type SettleRequest struct {
	BountyID     uint64          `json:"-"`
	Agent        address.Address `json:"agent"`
	Reputation   address.Address `json:"reputation"`
	PayeeAccount address.Address `json:"payee_account"`
	Caller       address.Address `json:"-"`
}

type SettleResponse struct {
	Status     string       `json:"status"`
	Bounty     Bounty       `json:"bounty"`
	Reputation Reputation   `json:"reputation"`
	Payee      TokenAccount `json:"payee_account"`
	Escrow     TokenAccount `json:"escrow_account"`
	TransferID string       `json:"transfer_id"`
	Ack        Ack          `json:"ack"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type HealthResponse struct {
	Service      string    `json:"service"`
	Version      string    `json:"version"`
	Status       string    `json:"status"`
	ProgramID    string    `json:"program_id"`
	StoreDriver  string    `json:"store_driver"`
	LatestIndex  int64     `json:"latest_event_index,omitempty"`
	LatestHash   string    `json:"latest_event_hash,omitempty"`
	Time         time.Time `json:"time"`
	SigningKeyID string    `json:"kid"`
}

// EventProof ties one journal event to a signed head covering it.
type EventProof struct {
	Event Event        `json:"event"`
	Proof *MerkleProof `json:"proof"`
	Head  JournalHead  `json:"head"`
}
