package escrow

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
	"github.com/bountyforge/bountyforge-ledger/internal/storage/boltdb"
)

var (
	program = protocol.DefaultProgramID
	mint    = address.Address{0x11}
	payee   = address.Address{0x22}
)

type fixture struct {
	store     storage.Store
	authority Authority
	escrow    protocol.TokenAccount
	payee     protocol.TokenAccount
}

func newFixture(t *testing.T, escrowAmount, payeeAmount uint64) fixture {
	t.Helper()
	store, err := boltdb.Open(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	bountyAddr, bump, err := protocol.BountyAddress(program, 42)
	require.NoError(t, err)
	authority, err := NewAuthority(program, bump, protocol.BountySeeds(42)...)
	require.NoError(t, err)
	require.Equal(t, bountyAddr, authority.Address())

	escrowAddr, err := protocol.AssociatedTokenAddress(program, bountyAddr, mint)
	require.NoError(t, err)
	payeeAddr, err := protocol.AssociatedTokenAddress(program, payee, mint)
	require.NoError(t, err)

	f := fixture{
		store:     store,
		authority: authority,
		escrow:    protocol.TokenAccount{Address: escrowAddr, Owner: bountyAddr, Mint: mint, Amount: escrowAmount},
		payee:     protocol.TokenAccount{Address: payeeAddr, Owner: payee, Mint: mint, Amount: payeeAmount},
	}
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, func(tx storage.Tx) error {
		if err := storage.CreateTokenAccount(ctx, tx, f.escrow); err != nil {
			return err
		}
		return storage.CreateTokenAccount(ctx, tx, f.payee)
	}))
	return f
}

func (f fixture) transfer(amount uint64) Transfer {
	return Transfer{
		TransferID: "t-1",
		From:       f.escrow.Address,
		To:         f.payee.Address,
		ToOwner:    payee,
		Mint:       mint,
		Amount:     amount,
		Authority:  f.authority,
	}
}

func (f fixture) run(t *testing.T, tr Transfer) (Receipt, error) {
	t.Helper()
	ctx := context.Background()
	var out Receipt
	err := f.store.Update(ctx, func(tx storage.Tx) error {
		r, err := NewTokenService(program).Transfer(ctx, tx, tr)
		out = r
		return err
	})
	return out, err
}

func (f fixture) balances(t *testing.T) (uint64, uint64) {
	t.Helper()
	ctx := context.Background()
	var esc, pay uint64
	require.NoError(t, f.store.View(ctx, func(tx storage.Tx) error {
		a, _, err := storage.LoadTokenAccount(ctx, tx, f.escrow.Address)
		if err != nil {
			return err
		}
		b, _, err := storage.LoadTokenAccount(ctx, tx, f.payee.Address)
		if err != nil {
			return err
		}
		esc, pay = a.Amount, b.Amount
		return nil
	}))
	return esc, pay
}

func TestTransferMovesExactAmount(t *testing.T) {
	f := newFixture(t, 150, 5)
	receipt, err := f.run(t, f.transfer(100))
	require.NoError(t, err)
	require.Equal(t, uint64(50), receipt.From.Amount)
	require.Equal(t, uint64(105), receipt.To.Amount)

	esc, pay := f.balances(t)
	require.Equal(t, uint64(50), esc)
	require.Equal(t, uint64(105), pay)
}

func TestTransferRejectsForeignAuthority(t *testing.T) {
	f := newFixture(t, 100, 0)
	_, bump, err := protocol.BountyAddress(program, 43)
	require.NoError(t, err)
	other, err := NewAuthority(program, bump, protocol.BountySeeds(43)...)
	require.NoError(t, err)

	tr := f.transfer(100)
	tr.Authority = other
	_, err = f.run(t, tr)
	require.ErrorIs(t, err, ErrAuthority)

	tr.Authority = Authority{}
	_, err = f.run(t, tr)
	require.ErrorIs(t, err, ErrAuthority)
}

func TestAuthorityVerifyRequiresSameProgram(t *testing.T) {
	f := newFixture(t, 1, 0)
	require.NoError(t, f.authority.Verify(program))
	require.ErrorIs(t, f.authority.Verify(address.Address{0x99}), ErrAuthority)
}

func TestTransferFailures(t *testing.T) {
	cases := []struct {
		name   string
		escrow uint64
		payee  uint64
		mutate func(f fixture, tr *Transfer)
		want   error
	}{
		{name: "insufficient", escrow: 99, want: ErrInsufficientFunds, mutate: func(fixture, *Transfer) {}},
		{name: "overflow", escrow: 100, payee: math.MaxUint64, want: ErrBalanceOverflow, mutate: func(fixture, *Transfer) {}},
		{name: "mint", escrow: 100, want: ErrMintMismatch, mutate: func(_ fixture, tr *Transfer) { tr.Mint = address.Address{0x12} }},
		{name: "owner", escrow: 100, want: ErrOwnerMismatch, mutate: func(_ fixture, tr *Transfer) { tr.ToOwner = address.Address{0x33} }},
		{name: "missing destination", escrow: 100, want: ErrAccountNotFound, mutate: func(_ fixture, tr *Transfer) { tr.To = address.Address{0x44} }},
		{name: "missing source", escrow: 100, want: ErrAccountNotFound, mutate: func(_ fixture, tr *Transfer) { tr.From = address.Address{0x45} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.escrow, tc.payee)
			tr := f.transfer(100)
			tc.mutate(f, &tr)
			_, err := f.run(t, tr)
			require.ErrorIs(t, err, tc.want)

			esc, pay := f.balances(t)
			require.Equal(t, tc.escrow, esc)
			require.Equal(t, tc.payee, pay)
		})
	}
}
