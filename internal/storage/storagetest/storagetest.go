// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
)

var errAbort = errors.New("abort")

func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("CreateIsFirstWriterWins", func(t *testing.T) { testCreateFirstWriterWins(t, open(t)) })
	t.Run("FailedUpdateLeavesNoTrace", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("SaveRequiresExistingRecord", func(t *testing.T) { testSaveMissing(t, open(t)) })
	t.Run("ViewIsReadOnly", func(t *testing.T) { testViewReadOnly(t, open(t)) })
	t.Run("EventsChain", func(t *testing.T) { testEventsChain(t, open(t)) })
	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) { testConcurrentCreate(t, open(t)) })
	t.Run("KindMismatchIsCorrupt", func(t *testing.T) { testKindMismatch(t, open(t)) })
}

func attestation(taskID uint64, agent byte) protocol.Attestation {
	addr, bump, err := protocol.AttestationAddress(protocol.DefaultProgramID, taskID)
	if err != nil {
		panic(err)
	}
	return protocol.Attestation{
		TaskID:       taskID,
		Address:      addr,
		Bump:         bump,
		SolutionHash: protocol.HashSolution([]byte{agent}),
		Timestamp:    1700000000,
		Agent:        address.Address{agent},
	}
}

func testCreateFirstWriterWins(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := attestation(7, 1)
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		return storage.CreateAttestation(ctx, tx, first)
	}))

	second := attestation(7, 2)
	err := s.Update(ctx, func(tx storage.Tx) error {
		return storage.CreateAttestation(ctx, tx, second)
	})
	require.ErrorIs(t, err, storage.ErrRecordExists)

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		got, found, err := storage.LoadAttestation(ctx, tx, first.Address)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, first, got)
		return nil
	}))
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	att := attestation(9, 1)
	err := s.Update(ctx, func(tx storage.Tx) error {
		if err := storage.CreateAttestation(ctx, tx, att); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, protocol.EventDraft{
			EventType:  protocol.EventAttestationCreated,
			Subject:    att.Address.String(),
			Payload:    []byte(`{}`),
			RecordedAt: time.Now().UTC().Truncate(time.Microsecond),
		}); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		_, found, err := storage.LoadAttestation(ctx, tx, att.Address)
		require.NoError(t, err)
		require.False(t, found)
		_, found, err = tx.LatestEvent(ctx)
		require.NoError(t, err)
		require.False(t, found)
		return nil
	}))
}

func testSaveMissing(t *testing.T, s storage.Store) {
	ctx := context.Background()
	acct := protocol.TokenAccount{Address: address.Address{0xaa}, Owner: address.Address{1}, Mint: address.Address{2}, Amount: 5}
	err := s.Update(ctx, func(tx storage.Tx) error {
		return storage.SaveTokenAccount(ctx, tx, acct)
	})
	require.ErrorIs(t, err, storage.ErrRecordMissing)

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		if err := storage.CreateTokenAccount(ctx, tx, acct); err != nil {
			return err
		}
		acct.Amount = 6
		return storage.SaveTokenAccount(ctx, tx, acct)
	}))
	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		got, found, err := storage.LoadTokenAccount(ctx, tx, acct.Address)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, uint64(6), got.Amount)
		return nil
	}))
}

func testViewReadOnly(t *testing.T, s storage.Store) {
	ctx := context.Background()
	err := s.View(ctx, func(tx storage.Tx) error {
		return storage.CreateAttestation(ctx, tx, attestation(11, 1))
	})
	require.Error(t, err)
}

func testEventsChain(t *testing.T, s storage.Store) {
	ctx := context.Background()
	recorded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []protocol.Event
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
			ev, err := tx.AppendEvent(ctx, protocol.EventDraft{
				EventType:  protocol.EventSolutionSubmitted,
				Subject:    "subject",
				Payload:    []byte(`{"n":1}`),
				RecordedAt: recorded,
			})
			if err != nil {
				return err
			}
			events = append(events, ev)
			return nil
		}))
	}
	require.Len(t, events, 3)
	for i, ev := range events {
		require.Equal(t, int64(i+1), ev.Index)
		if i > 0 {
			require.Equal(t, events[i-1].EntryHash, ev.PreviousHash)
		}
	}
	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		latest, found, err := tx.LatestEvent(ctx)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, events[2].EntryHash, latest.EntryHash)

		second, found, err := tx.GetEvent(ctx, 2)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, events[1].EntryHash, second.EntryHash)
		require.JSONEq(t, `{"n":1}`, string(second.Payload))

		_, found, err = tx.GetEvent(ctx, 99)
		require.NoError(t, err)
		require.False(t, found)

		hashes, err := tx.EventHashes(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, []string{events[0].EntryHash, events[1].EntryHash}, hashes)
		hashes, err = tx.EventHashes(ctx, 99)
		require.NoError(t, err)
		require.Len(t, hashes, 3)
		return nil
	}))
}

func testConcurrentCreate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(agent byte) {
			defer wg.Done()
			errs <- s.Update(ctx, func(tx storage.Tx) error {
				return storage.CreateAttestation(ctx, tx, attestation(21, agent))
			})
		}(byte(i + 1))
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, storage.ErrRecordExists)
	}
	require.Equal(t, 1, wins)
}

func testKindMismatch(t *testing.T, s storage.Store) {
	ctx := context.Background()
	att := attestation(31, 1)
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		return storage.CreateAttestation(ctx, tx, att)
	}))
	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		_, _, err := storage.LoadBounty(ctx, tx, att.Address)
		require.ErrorIs(t, err, storage.ErrCorruptRecord)
		return nil
	}))
}
