package prediction

import (
	"time"

	"github.com/google/uuid"
)

// Vitals is the patient-entered input form.
type Vitals struct {
	HeartRate    int     `json:"heartRate"`
	SystolicBP   int     `json:"systolicBp"`
	DiastolicBP  int     `json:"diastolicBp"`
	GlucoseMgdl  float64 `json:"glucoseMgdl"`
	TemperatureC float64 `json:"temperatureC"`
}

// Prediction is a saved risk assessment. Rows are frozen on save: the input
// and the computed result are anchored in the verification ledger, so any
// later modification would surface as an invalid verdict.
type Prediction struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	CreatedBy     string    `json:"created_by"`
	Input         Vitals    `json:"input"`
	Risk          int       `json:"risk"`
	Category      string    `json:"category"`
	Score         int       `json:"score"`
	TransactionID string    `json:"transaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
