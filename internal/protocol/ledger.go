package protocol

import (
	"encoding/json"
	"time"
)

const (
	EventAttestationCreated = "attestation_created"
	EventSolutionSubmitted  = "solution_submitted"
	EventBountySettled      = "bounty_settled"
)

// EventDraft is what an operation hands the journal; the store assigns the
// index and chains the hash.
type EventDraft struct {
	EventType  string          `json:"event_type"`
	Subject    string          `json:"subject"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type Event struct {
	Index        int64           `json:"index"`
	EntryHash    string          `json:"entry_hash"`
	PreviousHash string          `json:"previous_hash,omitempty"`
	EventType    string          `json:"event_type"`
	Subject      string          `json:"subject"`
	Payload      json.RawMessage `json:"payload"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// ComputeEntryHash chains draft onto previousHash.
func ComputeEntryHash(draft EventDraft, previousHash string) (string, error) {
	shape := struct {
		EventType    string    `json:"event_type"`
		Subject      string    `json:"subject"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
		RecordedAt   time.Time `json:"recorded_at"`
	}{
		EventType:    draft.EventType,
		Subject:      draft.Subject,
		PayloadHash:  SHA256B64u(draft.Payload),
		PreviousHash: previousHash,
		RecordedAt:   draft.RecordedAt.UTC(),
	}
	raw, err := CanonicalJSON(shape)
	if err != nil {
		return "", err
	}
	return SHA256Hex(raw), nil
}

// ChainEvent builds the stored form of draft given the current head.
func ChainEvent(draft EventDraft, head Event, hasHead bool) (Event, error) {
	prev := ""
	index := int64(1)
	if hasHead {
		prev = head.EntryHash
		index = head.Index + 1
	}
	hash, err := ComputeEntryHash(draft, prev)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Index:        index,
		EntryHash:    hash,
		PreviousHash: prev,
		EventType:    draft.EventType,
		Subject:      draft.Subject,
		Payload:      draft.Payload,
		RecordedAt:   draft.RecordedAt.UTC(),
	}, nil
}

// Ack is the ledger's signed acknowledgement of a committed operation.
type Ack struct {
	Operation  string    `json:"operation"`
	Subject    string    `json:"subject"`
	EventIndex int64     `json:"event_index"`
	EntryHash  string    `json:"entry_hash"`
	RecordedAt time.Time `json:"recorded_at"`
	Alg        string    `json:"alg"`
	Kid        string    `json:"kid"`
	Sig        string    `json:"sig"`
}

// AckSignaturePayload is the byte string the ledger key signs.
func AckSignaturePayload(ack Ack) ([]byte, error) {
	shape := struct {
		Operation  string    `json:"operation"`
		Subject    string    `json:"subject"`
		EventIndex int64     `json:"event_index"`
		EntryHash  string    `json:"entry_hash"`
		RecordedAt time.Time `json:"recorded_at"`
		KeyID      string    `json:"kid"`
	}{
		Operation:  ack.Operation,
		Subject:    ack.Subject,
		EventIndex: ack.EventIndex,
		EntryHash:  ack.EntryHash,
		RecordedAt: ack.RecordedAt.UTC(),
		KeyID:      ack.Kid,
	}
	return CanonicalJSON(shape)
}
