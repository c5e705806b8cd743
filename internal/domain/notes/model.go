package notes

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDraft Status = "draft"
	StatusFinal Status = "final"
)

// ConsultationNote is the doctor's record of a held appointment. Drafts are
// editable; finalizing freezes the content, stamps finalized_at, and anchors
// the note in the verification ledger.
type ConsultationNote struct {
	ID              uuid.UUID  `json:"id"`
	AppointmentID   uuid.UUID  `json:"appointment_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	Diagnosis       string     `json:"diagnosis"`
	Recommendations string     `json:"recommendations,omitempty"`
	Status          Status     `json:"status"`
	TransactionID   string     `json:"transaction_id,omitempty"`
	FinalizedAt     *time.Time `json:"finalized_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (n *ConsultationNote) Final() bool {
	return n.Status == StatusFinal
}
