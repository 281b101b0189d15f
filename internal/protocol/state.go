package protocol

import (
	"errors"
	"fmt"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
)

// Status is the persisted lifecycle tag of a bounty.
type Status string

const (
	StatusOpen      Status = "open"
	StatusSubmitted Status = "submitted"
	StatusSettled   Status = "settled"
)

var ErrIllegalState = errors.New("illegal bounty state")

// BountyState is one of Open, Submitted or Settled. The solution hash and the
// submitting agent exist only in the states that carry them.
type BountyState interface {
	Status() Status
	isBountyState()
}

type Open struct{}

type Submitted struct {
	Hash  SolutionHash
	Agent address.Address
}

type Settled struct {
	Hash  SolutionHash
	Agent address.Address
}

func (Open) Status() Status      { return StatusOpen }
func (Submitted) Status() Status { return StatusSubmitted }
func (Settled) Status() Status   { return StatusSettled }

func (Open) isBountyState()      {}
func (Submitted) isBountyState() {}
func (Settled) isBountyState()   {}

// Solution returns the hash and agent recorded at submission, if any.
func Solution(s BountyState) (SolutionHash, address.Address, bool) {
	switch st := s.(type) {
	case Submitted:
		return st.Hash, st.Agent, true
	case Settled:
		return st.Hash, st.Agent, true
	default:
		return SolutionHash{}, address.Zero, false
	}
}

// RestoreState rebuilds a state from its persisted columns and rejects
// combinations no transition can produce.
func RestoreState(status Status, hash *SolutionHash, agent *address.Address) (BountyState, error) {
	switch status {
	case StatusOpen:
		if hash != nil || agent != nil {
			return nil, fmt.Errorf("%w: open bounty carries a solution", ErrIllegalState)
		}
		return Open{}, nil
	case StatusSubmitted, StatusSettled:
		if hash == nil {
			return nil, fmt.Errorf("%w: %s bounty has no solution hash", ErrIllegalState, status)
		}
		if agent == nil {
			return nil, fmt.Errorf("%w: %s bounty has no agent", ErrIllegalState, status)
		}
		if status == StatusSubmitted {
			return Submitted{Hash: *hash, Agent: *agent}, nil
		}
		return Settled{Hash: *hash, Agent: *agent}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrIllegalState, status)
	}
}
