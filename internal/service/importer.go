package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

// Fixture is the record set an external funding flow hands the ledger: open
// bounties with their escrow and plain token accounts.
type Fixture struct {
	Bounties      []FixtureBounty  `yaml:"bounties"`
	TokenAccounts []FixtureAccount `yaml:"token_accounts"`
}

type FixtureBounty struct {
	ID      uint64          `yaml:"id"`
	Creator address.Address `yaml:"creator"`
	Reward  uint64          `yaml:"reward"`
	Mint    address.Address `yaml:"mint"`
	// EscrowFunding seeds the bounty's escrow account.
	EscrowFunding uint64 `yaml:"escrow_funding"`
}

type FixtureAccount struct {
	// Address defaults to the owner's associated account for mint.
	Address address.Address `yaml:"address"`
	Owner   address.Address `yaml:"owner"`
	Mint    address.Address `yaml:"mint"`
	Amount  uint64          `yaml:"amount"`
}

type ImportSummary struct {
	Bounties      []protocol.Bounty       `json:"bounties"`
	TokenAccounts []protocol.TokenAccount `json:"token_accounts"`
}

func LoadFixture(path string) (Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(raw)
}

func ParseFixture(raw []byte) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture yaml: %w", err)
	}
	return f, nil
}

// Importer writes fixtures with create-if-absent semantics. The whole
// fixture lands or nothing does.
type Importer struct {
	store   storage.Store
	program address.Address
}

func NewImporter(store storage.Store, program address.Address) *Importer {
	if program.IsZero() {
		program = protocol.DefaultProgramID
	}
	return &Importer{store: store, program: program}
}

func (im *Importer) Import(ctx context.Context, f Fixture) (ImportSummary, error) {
	var summary ImportSummary
	err := im.store.Update(ctx, func(tx storage.Tx) error {
		summary = ImportSummary{}
		for i, fb := range f.Bounties {
			b, esc, err := im.bounty(fb)
			if err != nil {
				return BadRequest(fmt.Sprintf("bounties[%d]: %v", i, err), err)
			}
			if err := storage.CreateTokenAccount(ctx, tx, esc); err != nil {
				return importError(fmt.Sprintf("bounties[%d] escrow", i), err)
			}
			if err := storage.CreateBounty(ctx, tx, b); err != nil {
				return importError(fmt.Sprintf("bounties[%d]", i), err)
			}
			summary.Bounties = append(summary.Bounties, b)
			summary.TokenAccounts = append(summary.TokenAccounts, esc)
		}
		for i, fa := range f.TokenAccounts {
			acct, err := im.account(fa)
			if err != nil {
				return BadRequest(fmt.Sprintf("token_accounts[%d]: %v", i, err), err)
			}
			if err := storage.CreateTokenAccount(ctx, tx, acct); err != nil {
				return importError(fmt.Sprintf("token_accounts[%d]", i), err)
			}
			summary.TokenAccounts = append(summary.TokenAccounts, acct)
		}
		return nil
	})
	if err != nil {
		return ImportSummary{}, storageError("import fixture", err)
	}
	return summary, nil
}

func (im *Importer) bounty(fb FixtureBounty) (protocol.Bounty, protocol.TokenAccount, error) {
	if fb.Creator.IsZero() {
		return protocol.Bounty{}, protocol.TokenAccount{}, errors.New("creator is required")
	}
	if fb.Mint.IsZero() {
		return protocol.Bounty{}, protocol.TokenAccount{}, errors.New("mint is required")
	}
	addr, bump, err := protocol.BountyAddress(im.program, fb.ID)
	if err != nil {
		return protocol.Bounty{}, protocol.TokenAccount{}, err
	}
	escrowAddr, err := protocol.AssociatedTokenAddress(im.program, addr, fb.Mint)
	if err != nil {
		return protocol.Bounty{}, protocol.TokenAccount{}, err
	}
	b := protocol.Bounty{
		ID:      fb.ID,
		Address: addr,
		Bump:    bump,
		Creator: fb.Creator,
		Reward:  fb.Reward,
		Mint:    fb.Mint,
		Escrow:  escrowAddr,
		State:   protocol.Open{},
	}
	esc := protocol.TokenAccount{Address: escrowAddr, Owner: addr, Mint: fb.Mint, Amount: fb.EscrowFunding}
	return b, esc, nil
}

func (im *Importer) account(fa FixtureAccount) (protocol.TokenAccount, error) {
	if fa.Owner.IsZero() || fa.Mint.IsZero() {
		return protocol.TokenAccount{}, errors.New("owner and mint are required")
	}
	addr := fa.Address
	if addr.IsZero() {
		var err error
		if addr, err = protocol.AssociatedTokenAddress(im.program, fa.Owner, fa.Mint); err != nil {
			return protocol.TokenAccount{}, err
		}
	}
	return protocol.TokenAccount{Address: addr, Owner: fa.Owner, Mint: fa.Mint, Amount: fa.Amount}, nil
}

func importError(what string, err error) error {
	if errors.Is(err, storage.ErrRecordExists) {
		return BadRequest(what+" already exists", err)
	}
	return storageError("import "+what, err)
}
