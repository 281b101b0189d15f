package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
)

// Record kinds. The first eight bytes of every encoded record are the
// discriminator of its kind, so a record can never be loaded as another type.
const (
	KindBounty       = "Bounty"
	KindAttestation  = "Attestation"
	KindReputation   = "Reputation"
	KindTokenAccount = "TokenAccount"
)

const DiscriminatorSize = 8

var (
	ErrShortRecord  = errors.New("record too short")
	ErrWrongKind    = errors.New("record has wrong kind")
	ErrTrailingData = errors.New("record has trailing bytes")
)

func Discriminator(kind string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + kind))
	var out [DiscriminatorSize]byte
	copy(out[:], sum[:DiscriminatorSize])
	return out
}

// KindOf reports which known kind data was encoded as.
func KindOf(data []byte) (string, bool) {
	if len(data) < DiscriminatorSize {
		return "", false
	}
	for _, kind := range []string{KindBounty, KindAttestation, KindReputation, KindTokenAccount} {
		d := Discriminator(kind)
		if bytes.Equal(data[:DiscriminatorSize], d[:]) {
			return kind, true
		}
	}
	return "", false
}

type recordWriter struct {
	buf bytes.Buffer
}

func newRecordWriter(kind string) *recordWriter {
	w := &recordWriter{}
	d := Discriminator(kind)
	w.buf.Write(d[:])
	return w
}

func (w *recordWriter) u8(v uint8) { w.buf.WriteByte(v) }

func (w *recordWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *recordWriter) i64(v int64) { w.u64(uint64(v)) }

func (w *recordWriter) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *recordWriter) fixed(b []byte) { w.buf.Write(b) }

func (w *recordWriter) bytes() []byte { return w.buf.Bytes() }

type recordReader struct {
	data []byte
	off  int
	err  error
}

func newRecordReader(kind string, data []byte) (*recordReader, error) {
	if len(data) < DiscriminatorSize {
		return nil, ErrShortRecord
	}
	d := Discriminator(kind)
	if !bytes.Equal(data[:DiscriminatorSize], d[:]) {
		return nil, fmt.Errorf("%w: want %s", ErrWrongKind, kind)
	}
	return &recordReader{data: data, off: DiscriminatorSize}, nil
}

func (r *recordReader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.off+n > len(r.data) {
		r.err = ErrShortRecord
		return make([]byte, n)
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out
}

func (r *recordReader) u8() uint8 { return r.take(1)[0] }

func (r *recordReader) u64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }

func (r *recordReader) i64() int64 { return int64(r.u64()) }

func (r *recordReader) bool() bool {
	v := r.u8()
	if v > 1 && r.err == nil {
		r.err = fmt.Errorf("invalid bool byte %d", v)
	}
	return v == 1
}

func (r *recordReader) address() address.Address {
	var a address.Address
	copy(a[:], r.take(address.Size))
	return a
}

func (r *recordReader) hash() SolutionHash {
	var h SolutionHash
	copy(h[:], r.take(SolutionHashSize))
	return h
}

func (r *recordReader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return ErrTrailingData
	}
	return nil
}

const (
	statusByteOpen uint8 = iota
	statusByteSubmitted
	statusByteSettled
)

func EncodeBounty(b Bounty) []byte {
	w := newRecordWriter(KindBounty)
	w.u64(b.ID)
	w.fixed(b.Address[:])
	w.u8(b.Bump)
	w.fixed(b.Creator[:])
	w.u64(b.Reward)
	w.fixed(b.Mint[:])
	w.fixed(b.Escrow[:])
	switch st := b.State.(type) {
	case Submitted:
		w.u8(statusByteSubmitted)
		w.fixed(st.Hash[:])
		w.fixed(st.Agent[:])
	case Settled:
		w.u8(statusByteSettled)
		w.fixed(st.Hash[:])
		w.fixed(st.Agent[:])
	default:
		w.u8(statusByteOpen)
	}
	return w.bytes()
}

func DecodeBounty(data []byte) (Bounty, error) {
	r, err := newRecordReader(KindBounty, data)
	if err != nil {
		return Bounty{}, err
	}
	b := Bounty{
		ID:      r.u64(),
		Address: r.address(),
		Bump:    r.u8(),
		Creator: r.address(),
		Reward:  r.u64(),
		Mint:    r.address(),
		Escrow:  r.address(),
	}
	switch tag := r.u8(); tag {
	case statusByteOpen:
		b.State = Open{}
	case statusByteSubmitted:
		b.State = Submitted{Hash: r.hash(), Agent: r.address()}
	case statusByteSettled:
		b.State = Settled{Hash: r.hash(), Agent: r.address()}
	default:
		if r.err == nil {
			return Bounty{}, fmt.Errorf("%w: status byte %d", ErrIllegalState, tag)
		}
	}
	if err := r.done(); err != nil {
		return Bounty{}, err
	}
	return b, nil
}

func EncodeAttestation(a Attestation) []byte {
	w := newRecordWriter(KindAttestation)
	w.u64(a.TaskID)
	w.fixed(a.Address[:])
	w.u8(a.Bump)
	w.fixed(a.SolutionHash[:])
	w.i64(a.Timestamp)
	w.fixed(a.Agent[:])
	w.bool(a.Verified)
	return w.bytes()
}

func DecodeAttestation(data []byte) (Attestation, error) {
	r, err := newRecordReader(KindAttestation, data)
	if err != nil {
		return Attestation{}, err
	}
	a := Attestation{
		TaskID:       r.u64(),
		Address:      r.address(),
		Bump:         r.u8(),
		SolutionHash: r.hash(),
		Timestamp:    r.i64(),
		Agent:        r.address(),
		Verified:     r.bool(),
	}
	if err := r.done(); err != nil {
		return Attestation{}, err
	}
	return a, nil
}

func EncodeReputation(rep Reputation) []byte {
	w := newRecordWriter(KindReputation)
	w.fixed(rep.Address[:])
	w.u8(rep.Bump)
	w.fixed(rep.Agent[:])
	w.u64(rep.Score)
	w.u64(rep.SuccessfulBounties)
	w.u64(rep.FailedBounties)
	w.u64(rep.TotalEarned)
	return w.bytes()
}

func DecodeReputation(data []byte) (Reputation, error) {
	r, err := newRecordReader(KindReputation, data)
	if err != nil {
		return Reputation{}, err
	}
	rep := Reputation{
		Address:            r.address(),
		Bump:               r.u8(),
		Agent:              r.address(),
		Score:              r.u64(),
		SuccessfulBounties: r.u64(),
		FailedBounties:     r.u64(),
		TotalEarned:        r.u64(),
	}
	if err := r.done(); err != nil {
		return Reputation{}, err
	}
	return rep, nil
}

func EncodeTokenAccount(a TokenAccount) []byte {
	w := newRecordWriter(KindTokenAccount)
	w.fixed(a.Address[:])
	w.fixed(a.Owner[:])
	w.fixed(a.Mint[:])
	w.u64(a.Amount)
	return w.bytes()
}

func DecodeTokenAccount(data []byte) (TokenAccount, error) {
	r, err := newRecordReader(KindTokenAccount, data)
	if err != nil {
		return TokenAccount{}, err
	}
	a := TokenAccount{
		Address: r.address(),
		Owner:   r.address(),
		Mint:    r.address(),
		Amount:  r.u64(),
	}
	if err := r.done(); err != nil {
		return TokenAccount{}, err
	}
	return a, nil
}
