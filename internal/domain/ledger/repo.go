package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no entry exists for a transaction id.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrDuplicateTransactionID is returned when an append collides on the
	// transaction id unique constraint. The chain builder retries once with
	// a fresh id.
	ErrDuplicateTransactionID = errors.New("duplicate transaction id")
)

// Repository is the append-only ledger store.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	GetByTransactionID(ctx context.Context, transactionID string) (*Entry, error)
	// LatestHashForSubject returns the payload hash of the most recent entry
	// for the patient, or nil when the patient has no entries yet.
	LatestHashForSubject(ctx context.Context, patientID uuid.UUID) (*string, error)
}
