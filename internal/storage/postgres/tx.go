package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

type pgTx struct {
	tx       pgx.Tx
	writable bool
}

func (t *pgTx) Load(ctx context.Context, addr address.Address) (storage.Record, bool, error) {
	query := `SELECT kind, data FROM ledger_records WHERE address = $1`
	if t.writable {
		query += ` FOR UPDATE`
	}
	out := storage.Record{Address: addr}
	err := t.tx.QueryRow(ctx, query, addr[:]).Scan(&out.Kind, &out.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Record{}, false, nil
	}
	if err != nil {
		return storage.Record{}, false, err
	}
	return out, true, nil
}

func (t *pgTx) Create(ctx context.Context, rec storage.Record) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	cmd, err := t.tx.Exec(ctx, `
INSERT INTO ledger_records (address, kind, data, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (address) DO NOTHING
`, rec.Address[:], rec.Kind, rec.Data)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", storage.ErrRecordExists, rec.Address)
	}
	return nil
}

func (t *pgTx) Save(ctx context.Context, rec storage.Record) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	cmd, err := t.tx.Exec(ctx, `
UPDATE ledger_records
SET data = $3, updated_at = NOW()
WHERE address = $1 AND kind = $2
`, rec.Address[:], rec.Kind, rec.Data)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", storage.ErrRecordMissing, rec.Address)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, draft protocol.EventDraft) (protocol.Event, error) {
	if !t.writable {
		return protocol.Event{}, storage.ErrReadOnly
	}
	head, hasHead, err := t.LatestEvent(ctx)
	if err != nil {
		return protocol.Event{}, err
	}
	ev, err := protocol.ChainEvent(draft, head, hasHead)
	if err != nil {
		return protocol.Event{}, err
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO ledger_events (
  entry_index,
  entry_hash,
  previous_hash,
  event_type,
  subject,
  payload,
  recorded_at,
  created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
`, ev.Index, ev.EntryHash, nullableString(ev.PreviousHash), ev.EventType, ev.Subject, []byte(ev.Payload), ev.RecordedAt)
	if err != nil {
		if isJournalHeadCollision(err) {
			return protocol.Event{}, fmt.Errorf("%w: event %d: %w", storage.ErrRecordExists, ev.Index, err)
		}
		return protocol.Event{}, err
	}
	return ev, nil
}

func (t *pgTx) GetEvent(ctx context.Context, index int64) (protocol.Event, bool, error) {
	return t.scanEvent(ctx, `
SELECT entry_index, entry_hash, COALESCE(previous_hash,''), event_type, subject, payload, recorded_at
FROM ledger_events WHERE entry_index = $1
`, index)
}

func (t *pgTx) LatestEvent(ctx context.Context) (protocol.Event, bool, error) {
	return t.scanEvent(ctx, `
SELECT entry_index, entry_hash, COALESCE(previous_hash,''), event_type, subject, payload, recorded_at
FROM ledger_events ORDER BY entry_index DESC LIMIT 1
`)
}

func (t *pgTx) EventHashes(ctx context.Context, upTo int64) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
SELECT entry_hash FROM ledger_events WHERE entry_index <= $1 ORDER BY entry_index ASC
`, upTo)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *pgTx) scanEvent(ctx context.Context, query string, args ...any) (protocol.Event, bool, error) {
	var out protocol.Event
	var payload []byte
	err := t.tx.QueryRow(ctx, query, args...).Scan(
		&out.Index,
		&out.EntryHash,
		&out.PreviousHash,
		&out.EventType,
		&out.Subject,
		&payload,
		&out.RecordedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	out.Payload = payload
	out.RecordedAt = out.RecordedAt.UTC()
	return out, true, nil
}
