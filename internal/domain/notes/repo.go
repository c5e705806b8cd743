package notes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("note not found")
	ErrAlreadyExists = errors.New("appointment already has a note")
)

type Repository interface {
	Create(ctx context.Context, n *ConsultationNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConsultationNote, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*ConsultationNote, error)
	// UpdateContent replaces diagnosis and recommendations on a draft.
	UpdateContent(ctx context.Context, id uuid.UUID, diagnosis, recommendations string) error
	// Finalize flips a draft to final and stamps finalized_at. It fails with
	// ErrNotFound when the row is missing or no longer a draft.
	Finalize(ctx context.Context, id uuid.UUID, finalizedAt time.Time) error
	SetTransactionID(ctx context.Context, id uuid.UUID, transactionID string) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, onlyFinal bool, limit, offset int) ([]*ConsultationNote, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*ConsultationNote, int, error)
}
