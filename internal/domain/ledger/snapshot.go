package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot schema versions. The canonical field set of a snapshot is part of
// the hashing contract: adding, removing, or renaming a field invalidates
// every previously issued hash, so any change must bump the version and keep
// the old builder for verification of old entries.
const (
	PredictionSnapshotVersion = 1
	NoteSnapshotVersion       = 1
)

// PredictionPayload carries everything that goes into a prediction snapshot.
// The write path (prediction save) and the verify path both build the
// snapshot through PredictionSnapshot; assembling it anywhere else risks the
// two paths drifting apart and producing spurious invalid verdicts.
type PredictionPayload struct {
	PatientID    uuid.UUID
	HeartRate    int
	SystolicBP   int
	DiastolicBP  int
	GlucoseMgdl  float64
	TemperatureC float64
	Risk         int
	Category     string
	Score        int
	At           time.Time
}

// PredictionSnapshot builds the canonical payload tree for a prediction.
func PredictionSnapshot(p PredictionPayload) map[string]any {
	return map[string]any{
		"input": map[string]any{
			"heartRate":    p.HeartRate,
			"systolicBp":   p.SystolicBP,
			"diastolicBp":  p.DiastolicBP,
			"glucoseMgdl":  p.GlucoseMgdl,
			"temperatureC": p.TemperatureC,
		},
		"risk": map[string]any{
			"risk":     p.Risk,
			"category": p.Category,
		},
		"score":      p.Score,
		"at":         canonicalTime(p.At),
		"patient_id": p.PatientID.String(),
	}
}

// NotePayload carries everything that goes into a note snapshot.
type NotePayload struct {
	AppointmentID   uuid.UUID
	NoteID          uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Diagnosis       string
	Recommendations string
	FinalizedAt     time.Time
}

// NoteSnapshot builds the canonical payload tree for a finalized note.
func NoteSnapshot(n NotePayload) map[string]any {
	return map[string]any{
		"appointment_id":  n.AppointmentID.String(),
		"note_id":         n.NoteID.String(),
		"patient_id":      n.PatientID.String(),
		"doctor_id":       n.DoctorID.String(),
		"diagnosis":       n.Diagnosis,
		"recommendations": n.Recommendations,
		"finalized_at":    canonicalTime(n.FinalizedAt),
	}
}

// canonicalTime renders timestamps at second precision in UTC. Sub-second
// precision differs between the database and Go, so it is excluded from the
// hashing contract.
func canonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
