// Package boltdb is the embedded storage backend. bbolt admits one writer at
// a time, which gives every Update the serial, all-or-nothing semantics the
// ledger relies on.
package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

var (
	bucketMeta    = []byte("meta")
	bucketRecords = []byte("records")
	bucketEvents  = []byte("events")

	keyHeader  = []byte("header")
	keyVersion = []byte("version")
)

const (
	dbHeader  = "bountyforge-ledger"
	dbVersion = "1"
)

var (
	ErrBadHeader  = errors.New("database header mismatch")
	ErrBadVersion = errors.New("database version mismatch")
)

type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file at path and checks its metadata.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			meta, err := tx.CreateBucket(bucketMeta)
			if err != nil {
				return fmt.Errorf("create meta bucket: %w", err)
			}
			if err := meta.Put(keyHeader, []byte(dbHeader)); err != nil {
				return err
			}
			return meta.Put(keyVersion, []byte(dbVersion))
		}
		if string(meta.Get(keyHeader)) != dbHeader {
			return ErrBadHeader
		}
		if string(meta.Get(keyVersion)) != dbVersion {
			return ErrBadVersion
		}
		return nil
	})
}

func (s *Store) Driver() string { return "bolt" }

func (s *Store) Close() {
	_ = s.db.Close()
}

// Update runs fn under bbolt's single writer lock. ctx is checked only before
// the lock is taken; bbolt has no cancellation hook, so a cancel that arrives
// while fn runs is not observed.
func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

// View has the same cancellation caveat as Update.
func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) Load(_ context.Context, addr address.Address) (storage.Record, bool, error) {
	raw := t.tx.Bucket(bucketRecords).Get(addr[:])
	if raw == nil {
		return storage.Record{}, false, nil
	}
	// bolt values are only valid for the life of the transaction.
	data := append([]byte(nil), raw...)
	kind, _ := protocol.KindOf(data)
	return storage.Record{Address: addr, Kind: kind, Data: data}, true, nil
}

func (t *boltTx) Create(_ context.Context, rec storage.Record) error {
	if !t.tx.Writable() {
		return storage.ErrReadOnly
	}
	b := t.tx.Bucket(bucketRecords)
	if b.Get(rec.Address[:]) != nil {
		return fmt.Errorf("%w: %s", storage.ErrRecordExists, rec.Address)
	}
	return b.Put(rec.Address[:], rec.Data)
}

func (t *boltTx) Save(_ context.Context, rec storage.Record) error {
	if !t.tx.Writable() {
		return storage.ErrReadOnly
	}
	b := t.tx.Bucket(bucketRecords)
	if b.Get(rec.Address[:]) == nil {
		return fmt.Errorf("%w: %s", storage.ErrRecordMissing, rec.Address)
	}
	return b.Put(rec.Address[:], rec.Data)
}

func eventKey(index int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(index))
	return k[:]
}

func (t *boltTx) AppendEvent(ctx context.Context, draft protocol.EventDraft) (protocol.Event, error) {
	if !t.tx.Writable() {
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
	raw, err := protocol.CanonicalJSON(ev)
	if err != nil {
		return protocol.Event{}, err
	}
	if err := t.tx.Bucket(bucketEvents).Put(eventKey(ev.Index), raw); err != nil {
		return protocol.Event{}, err
	}
	return ev, nil
}

func (t *boltTx) GetEvent(_ context.Context, index int64) (protocol.Event, bool, error) {
	raw := t.tx.Bucket(bucketEvents).Get(eventKey(index))
	if raw == nil {
		return protocol.Event{}, false, nil
	}
	return decodeEvent(raw)
}

func (t *boltTx) LatestEvent(_ context.Context) (protocol.Event, bool, error) {
	_, raw := t.tx.Bucket(bucketEvents).Cursor().Last()
	if raw == nil {
		return protocol.Event{}, false, nil
	}
	return decodeEvent(raw)
}

func (t *boltTx) EventHashes(_ context.Context, upTo int64) ([]string, error) {
	out := make([]string, 0)
	c := t.tx.Bucket(bucketEvents).Cursor()
	for k, raw := c.First(); k != nil && int64(binary.BigEndian.Uint64(k)) <= upTo; k, raw = c.Next() {
		ev, _, err := decodeEvent(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ev.EntryHash)
	}
	return out, nil
}

func decodeEvent(raw []byte) (protocol.Event, bool, error) {
	var ev protocol.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return protocol.Event{}, false, fmt.Errorf("%w: event: %v", storage.ErrCorruptRecord, err)
	}
	return ev, true, nil
}
