package storage

import (
	"context"
	"fmt"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
)

func loadKind(ctx context.Context, tx Tx, addr address.Address, kind string) ([]byte, bool, error) {
	rec, found, err := tx.Load(ctx, addr)
	if err != nil || !found {
		return nil, found, err
	}
	if rec.Kind != kind {
		return nil, false, fmt.Errorf("%w: %s holds %s, want %s", ErrCorruptRecord, addr, rec.Kind, kind)
	}
	return rec.Data, true, nil
}

func corrupt(addr address.Address, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, addr, err)
}

func LoadBounty(ctx context.Context, tx Tx, addr address.Address) (protocol.Bounty, bool, error) {
	data, found, err := loadKind(ctx, tx, addr, protocol.KindBounty)
	if err != nil || !found {
		return protocol.Bounty{}, found, err
	}
	b, err := protocol.DecodeBounty(data)
	if err != nil {
		return protocol.Bounty{}, false, corrupt(addr, err)
	}
	if b.Address != addr {
		return protocol.Bounty{}, false, corrupt(addr, fmt.Errorf("stored address %s", b.Address))
	}
	return b, true, nil
}

func CreateBounty(ctx context.Context, tx Tx, b protocol.Bounty) error {
	return tx.Create(ctx, Record{Address: b.Address, Kind: protocol.KindBounty, Data: protocol.EncodeBounty(b)})
}

func SaveBounty(ctx context.Context, tx Tx, b protocol.Bounty) error {
	return tx.Save(ctx, Record{Address: b.Address, Kind: protocol.KindBounty, Data: protocol.EncodeBounty(b)})
}

func LoadAttestation(ctx context.Context, tx Tx, addr address.Address) (protocol.Attestation, bool, error) {
	data, found, err := loadKind(ctx, tx, addr, protocol.KindAttestation)
	if err != nil || !found {
		return protocol.Attestation{}, found, err
	}
	a, err := protocol.DecodeAttestation(data)
	if err != nil {
		return protocol.Attestation{}, false, corrupt(addr, err)
	}
	if a.Address != addr {
		return protocol.Attestation{}, false, corrupt(addr, fmt.Errorf("stored address %s", a.Address))
	}
	return a, true, nil
}

func CreateAttestation(ctx context.Context, tx Tx, a protocol.Attestation) error {
	return tx.Create(ctx, Record{Address: a.Address, Kind: protocol.KindAttestation, Data: protocol.EncodeAttestation(a)})
}

func LoadReputation(ctx context.Context, tx Tx, addr address.Address) (protocol.Reputation, bool, error) {
	data, found, err := loadKind(ctx, tx, addr, protocol.KindReputation)
	if err != nil || !found {
		return protocol.Reputation{}, found, err
	}
	r, err := protocol.DecodeReputation(data)
	if err != nil {
		return protocol.Reputation{}, false, corrupt(addr, err)
	}
	if r.Address != addr {
		return protocol.Reputation{}, false, corrupt(addr, fmt.Errorf("stored address %s", r.Address))
	}
	return r, true, nil
}

func CreateReputation(ctx context.Context, tx Tx, r protocol.Reputation) error {
	return tx.Create(ctx, Record{Address: r.Address, Kind: protocol.KindReputation, Data: protocol.EncodeReputation(r)})
}

func SaveReputation(ctx context.Context, tx Tx, r protocol.Reputation) error {
	return tx.Save(ctx, Record{Address: r.Address, Kind: protocol.KindReputation, Data: protocol.EncodeReputation(r)})
}

func LoadTokenAccount(ctx context.Context, tx Tx, addr address.Address) (protocol.TokenAccount, bool, error) {
	data, found, err := loadKind(ctx, tx, addr, protocol.KindTokenAccount)
	if err != nil || !found {
		return protocol.TokenAccount{}, found, err
	}
	a, err := protocol.DecodeTokenAccount(data)
	if err != nil {
		return protocol.TokenAccount{}, false, corrupt(addr, err)
	}
	if a.Address != addr {
		return protocol.TokenAccount{}, false, corrupt(addr, fmt.Errorf("stored address %s", a.Address))
	}
	return a, true, nil
}

func CreateTokenAccount(ctx context.Context, tx Tx, a protocol.TokenAccount) error {
	return tx.Create(ctx, Record{Address: a.Address, Kind: protocol.KindTokenAccount, Data: protocol.EncodeTokenAccount(a)})
}

func SaveTokenAccount(ctx context.Context, tx Tx, a protocol.TokenAccount) error {
	return tx.Save(ctx, Record{Address: a.Address, Kind: protocol.KindTokenAccount, Data: protocol.EncodeTokenAccount(a)})
}
