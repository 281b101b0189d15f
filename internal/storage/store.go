package storage

import (
	"context"
	"errors"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
)

var (
	ErrRecordExists  = errors.New("record already exists")
	ErrRecordMissing = errors.New("record missing")
	ErrCorruptRecord = errors.New("corrupt record")
	ErrReadOnly      = errors.New("transaction is read-only")
)

// Record is an addressed blob whose first bytes carry its kind discriminator.
type Record struct {
	Address address.Address
	Kind    string
	Data    []byte
}

// Tx is one atomic unit of work. Nothing written through a Tx is visible to
// others unless the callback that received it returns nil.
type Tx interface {
	Load(ctx context.Context, addr address.Address) (Record, bool, error)
	// Create fails with ErrRecordExists when addr is taken.
	Create(ctx context.Context, rec Record) error
	// Save overwrites an existing record and fails with ErrRecordMissing
	// otherwise.
	Save(ctx context.Context, rec Record) error

	AppendEvent(ctx context.Context, draft protocol.EventDraft) (protocol.Event, error)
	GetEvent(ctx context.Context, index int64) (protocol.Event, bool, error)
	LatestEvent(ctx context.Context) (protocol.Event, bool, error)
	// EventHashes returns the entry hashes of events 1..upTo in index order.
	EventHashes(ctx context.Context, upTo int64) ([]string, error)
}

// Store applies callbacks as serialized all-or-nothing transactions. A
// callback may run more than once when the backend retries a conflict, so it
// must derive everything it writes from what it reads through tx.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Driver() string
	Close()
}
