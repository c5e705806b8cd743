package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one link of a patient's hash chain. Entries are append-only:
// nothing ever updates or deletes a row once written.
type Entry struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID string     `json:"transaction_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	AuthorID      string     `json:"author_id"`
	PayloadHash   string     `json:"payload_hash"`
	PreviousHash  *string    `json:"previous_hash"`
	PredictionID  *uuid.UUID `json:"prediction_id,omitempty"`
	NoteID        *uuid.UUID `json:"note_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Kind reports which payload variant the entry anchors.
func (e *Entry) Kind() string {
	if e.PredictionID != nil {
		return "prediction"
	}
	return "note"
}

// NewTransactionID generates the opaque token that addresses an entry in
// verification URLs and QR payloads. 12 random bytes keeps the token short
// enough for QR encoding while making collisions negligible.
func NewTransactionID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate transaction id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// EntryMetadata is the privileged projection of an entry: enough to identify
// what was anchored and when, without the payload content itself.
type EntryMetadata struct {
	TransactionID string    `json:"transaction_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Kind          string    `json:"kind"`
	PayloadHash   string    `json:"payload_hash"`
	AnchoredAt    time.Time `json:"anchored_at"`
}
