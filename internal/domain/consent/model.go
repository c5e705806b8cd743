package consent

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle of an access grant.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
	StatusRevoked Status = "revoked"
)

// Grant is a doctor's access to one patient's anchored records. A pending
// grant is an open request awaiting the patient's decision.
type Grant struct {
	ID           uuid.UUID  `json:"id"`
	DoctorUserID string     `json:"doctor_user_id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	Status       Status     `json:"status"`
	// TransactionID records which verification link triggered the request,
	// when the request came from the verify flow.
	TransactionID string     `json:"transaction_id,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Active reports whether the grant still occupies the doctor/patient pair:
// open requests and granted access both block a new request row.
func (g *Grant) Active() bool {
	return g.Status == StatusPending || g.Status == StatusGranted
}
