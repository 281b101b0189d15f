package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
)

func testBounty(state BountyState) Bounty {
	return Bounty{
		ID:      42,
		Address: address.Address{1},
		Bump:    254,
		Creator: address.Address{2},
		Reward:  100,
		Mint:    address.Address{3},
		Escrow:  address.Address{4},
		State:   state,
	}
}

func TestBountyCodecPreservesState(t *testing.T) {
	h := HashSolution([]byte("H"))
	for _, state := range []BountyState{
		Open{},
		Submitted{Hash: h, Agent: address.Address{5}},
		Settled{Hash: h, Agent: address.Address{5}},
	} {
		b := testBounty(state)
		decoded, err := DecodeBounty(EncodeBounty(b))
		require.NoError(t, err)
		require.Equal(t, b, decoded)
	}
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	raw := EncodeReputation(Reputation{Agent: address.Address{7}, Score: 1})
	_, err := DecodeBounty(raw)
	require.ErrorIs(t, err, ErrWrongKind)

	kind, ok := KindOf(raw)
	require.True(t, ok)
	require.Equal(t, KindReputation, kind)
}

func TestDecodeRejectsTruncatedAndTrailing(t *testing.T) {
	raw := EncodeAttestation(Attestation{TaskID: 7, Agent: address.Address{1}})

	_, err := DecodeAttestation(raw[:len(raw)-1])
	require.ErrorIs(t, err, ErrShortRecord)

	_, err = DecodeAttestation(append(append([]byte{}, raw...), 0))
	require.ErrorIs(t, err, ErrTrailingData)
}

func TestDecodeBountyRejectsUnknownStatus(t *testing.T) {
	raw := EncodeBounty(testBounty(Open{}))
	raw[len(raw)-1] = 9
	_, err := DecodeBounty(raw)
	require.ErrorIs(t, err, ErrIllegalState)
}

func TestRestoreStateRejectsIllegalCombinations(t *testing.T) {
	h := HashSolution([]byte("H"))
	agent := address.Address{5}

	_, err := RestoreState(StatusOpen, &h, nil)
	require.ErrorIs(t, err, ErrIllegalState)
	_, err = RestoreState(StatusSubmitted, nil, &agent)
	require.ErrorIs(t, err, ErrIllegalState)
	_, err = RestoreState(StatusSettled, &h, nil)
	require.ErrorIs(t, err, ErrIllegalState)
	_, err = RestoreState("cancelled", nil, nil)
	require.ErrorIs(t, err, ErrIllegalState)

	state, err := RestoreState(StatusSubmitted, &h, &agent)
	require.NoError(t, err)
	require.Equal(t, Submitted{Hash: h, Agent: agent}, state)
}

func TestBountyJSON(t *testing.T) {
	h := HashSolution([]byte("H"))
	b := testBounty(Submitted{Hash: h, Agent: address.Address{5}})
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"status":"submitted"`)
	require.Contains(t, string(raw), h.String())

	var decoded Bounty
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, b, decoded)

	open, err := json.Marshal(testBounty(Open{}))
	require.NoError(t, err)
	require.NotContains(t, string(open), "solution_hash")

	require.Error(t, json.Unmarshal([]byte(`{"id":1,"status":"open","solution_hash":"`+h.String()+`"}`), &decoded))
}
