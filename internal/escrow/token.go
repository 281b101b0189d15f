// Package escrow moves token balances between accounts held in the ledger
// store. Funds leave an escrow account only under the authority of the
// derived address that owns it.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

var (
	ErrAuthority         = errors.New("escrow authority does not own source account")
	ErrAccountNotFound   = errors.New("token account not found")
	ErrOwnerMismatch     = errors.New("token account owner mismatch")
	ErrMintMismatch      = errors.New("token account mint mismatch")
	ErrInsufficientFunds = errors.New("insufficient escrow funds")
	ErrBalanceOverflow   = errors.New("token balance overflow")
)

// Authority proves the right to sign for a derived address. It can only be
// built from the seeds and bump that produce the address, and holds no
// private key.
type Authority struct {
	program address.Address
	seeds   [][]byte
	bump    uint8
	addr    address.Address
}

func NewAuthority(program address.Address, bump uint8, seeds ...[]byte) (Authority, error) {
	addr, err := address.Derive(program, bump, seeds...)
	if err != nil {
		return Authority{}, fmt.Errorf("derive escrow authority: %w", err)
	}
	copied := make([][]byte, len(seeds))
	for i, s := range seeds {
		copied[i] = append([]byte(nil), s...)
	}
	return Authority{program: program, seeds: copied, bump: bump, addr: addr}, nil
}

func (a Authority) Address() address.Address { return a.addr }

// Verify re-derives the authority under program.
func (a Authority) Verify(program address.Address) error {
	if a.addr.IsZero() || a.program != program {
		return ErrAuthority
	}
	addr, err := address.Derive(program, a.bump, a.seeds...)
	if err != nil || addr != a.addr {
		return ErrAuthority
	}
	return nil
}

type Transfer struct {
	TransferID string
	From       address.Address
	To         address.Address
	// ToOwner, when set, must own the destination account.
	ToOwner   address.Address
	Mint      address.Address
	Amount    uint64
	Authority Authority
}

// TransferService is the custody boundary used by settlement. Implementations
// must apply the movement inside tx so a later failure rolls it back.
type TransferService interface {
	Transfer(ctx context.Context, tx storage.Tx, t Transfer) (Receipt, error)
}

type Receipt struct {
	TransferID string                `json:"transfer_id"`
	From       protocol.TokenAccount `json:"from"`
	To         protocol.TokenAccount `json:"to"`
	Amount     uint64                `json:"amount"`
}

type TokenService struct {
	program address.Address
}

func NewTokenService(program address.Address) *TokenService {
	return &TokenService{program: program}
}

func (s *TokenService) Transfer(ctx context.Context, tx storage.Tx, t Transfer) (Receipt, error) {
	if err := t.Authority.Verify(s.program); err != nil {
		return Receipt{}, err
	}
	from, err := loadAccount(ctx, tx, t.From, "source")
	if err != nil {
		return Receipt{}, err
	}
	if from.Owner != t.Authority.Address() {
		return Receipt{}, fmt.Errorf("%w: %s owned by %s", ErrAuthority, from.Address, from.Owner)
	}
	if from.Mint != t.Mint {
		return Receipt{}, fmt.Errorf("%w: source %s", ErrMintMismatch, from.Address)
	}
	to, err := loadAccount(ctx, tx, t.To, "destination")
	if err != nil {
		return Receipt{}, err
	}
	if !t.ToOwner.IsZero() && to.Owner != t.ToOwner {
		return Receipt{}, fmt.Errorf("%w: destination %s", ErrOwnerMismatch, to.Address)
	}
	if to.Mint != t.Mint {
		return Receipt{}, fmt.Errorf("%w: destination %s", ErrMintMismatch, to.Address)
	}

	remaining, ok := protocol.CheckedSub(from.Amount, t.Amount)
	if !ok {
		return Receipt{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, from.Amount, t.Amount)
	}
	if from.Address == to.Address {
		return Receipt{TransferID: t.TransferID, From: from, To: to, Amount: t.Amount}, nil
	}
	credited, ok := protocol.CheckedAdd(to.Amount, t.Amount)
	if !ok {
		return Receipt{}, fmt.Errorf("%w: destination %s", ErrBalanceOverflow, to.Address)
	}
	from.Amount = remaining
	to.Amount = credited
	if err := storage.SaveTokenAccount(ctx, tx, from); err != nil {
		return Receipt{}, fmt.Errorf("save source account: %w", err)
	}
	if err := storage.SaveTokenAccount(ctx, tx, to); err != nil {
		return Receipt{}, fmt.Errorf("save destination account: %w", err)
	}
	return Receipt{TransferID: t.TransferID, From: from, To: to, Amount: t.Amount}, nil
}

func loadAccount(ctx context.Context, tx storage.Tx, addr address.Address, role string) (protocol.TokenAccount, error) {
	acct, found, err := storage.LoadTokenAccount(ctx, tx, addr)
	if err != nil {
		return protocol.TokenAccount{}, fmt.Errorf("load %s account: %w", role, err)
	}
	if !found {
		return protocol.TokenAccount{}, fmt.Errorf("%w: %s %s", ErrAccountNotFound, role, addr)
	}
	return acct, nil
}
