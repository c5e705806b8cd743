package notes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/portal/internal/domain/ledger"
	"github.com/careledger/portal/internal/platform/notification"
)

// AppointmentInfo is the slice of an appointment the note workflow needs.
type AppointmentInfo struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Held      bool
}

// Appointments resolves appointments for note creation. Implemented over the
// scheduling service in the composition root.
type Appointments interface {
	AppointmentInfo(ctx context.Context, id uuid.UUID) (*AppointmentInfo, error)
}

// Directory resolves profile ids and notification targets.
type Directory interface {
	PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
	DoctorIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
	UserIDForPatient(ctx context.Context, patientID uuid.UUID) (string, error)
}

// Access answers whether a doctor may read a patient's record.
type Access interface {
	HasAccess(ctx context.Context, requesterUserID string, patientID uuid.UUID) (bool, error)
}

// Anchorer is the ledger's write path for finalized notes.
type Anchorer interface {
	AnchorNote(ctx context.Context, authorID string, n ledger.NotePayload) (*ledger.Entry, error)
}

// Transactor runs fn in one database transaction, so the freeze and its
// ledger entry commit or roll back together.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo         Repository
	appointments Appointments
	dir          Directory
	access       Access
	anchorer     Anchorer
	tx           Transactor
	notify       *notification.Center
	log          zerolog.Logger
}

func NewService(repo Repository, appointments Appointments, dir Directory, access Access, anchorer Anchorer, tx Transactor, notify *notification.Center, log zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		appointments: appointments,
		dir:          dir,
		access:       access,
		anchorer:     anchorer,
		tx:           tx,
		notify:       notify,
		log:          log,
	}
}

// Create opens a draft note on one of the calling doctor's held appointments.
// One note per appointment.
func (s *Service) Create(ctx context.Context, doctorUserID string, appointmentID uuid.UUID, diagnosis, recommendations string) (*ConsultationNote, error) {
	if appointmentID == uuid.Nil {
		return nil, fmt.Errorf("appointment_id is required")
	}
	doctorID, err := s.dir.DoctorIDForUser(ctx, doctorUserID)
	if err != nil {
		return nil, fmt.Errorf("doctor profile required")
	}
	appt, err := s.appointments.AppointmentInfo(ctx, appointmentID)
	if err != nil {
		return nil, ErrNotFound
	}
	if appt.DoctorID != doctorID {
		return nil, ErrNotFound
	}
	if !appt.Held {
		return nil, fmt.Errorf("appointment has not been completed")
	}
	if _, err := s.repo.GetByAppointment(ctx, appointmentID); err == nil {
		return nil, ErrAlreadyExists
	}

	n := &ConsultationNote{
		AppointmentID:   appointmentID,
		PatientID:       appt.PatientID,
		DoctorID:        doctorID,
		Diagnosis:       strings.TrimSpace(diagnosis),
		Recommendations: strings.TrimSpace(recommendations),
		Status:          StatusDraft,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Update replaces the content of a draft. Finalized notes are immutable.
func (s *Service) Update(ctx context.Context, noteID uuid.UUID, doctorUserID, diagnosis, recommendations string) (*ConsultationNote, error) {
	n, err := s.authorizeAuthor(ctx, noteID, doctorUserID)
	if err != nil {
		return nil, err
	}
	if n.Final() {
		return nil, fmt.Errorf("note is finalized and cannot be edited")
	}
	n.Diagnosis = strings.TrimSpace(diagnosis)
	n.Recommendations = strings.TrimSpace(recommendations)
	if err := s.repo.UpdateContent(ctx, n.ID, n.Diagnosis, n.Recommendations); err != nil {
		return nil, err
	}
	return n, nil
}

// Finalize freezes the note, stamps finalized_at, and anchors the frozen
// content in the verification ledger. The patient is notified with the
// transaction id they can later hand to a verifier.
func (s *Service) Finalize(ctx context.Context, noteID uuid.UUID, doctorUserID string) (*ConsultationNote, error) {
	n, err := s.authorizeAuthor(ctx, noteID, doctorUserID)
	if err != nil {
		return nil, err
	}
	if n.Final() {
		return nil, fmt.Errorf("note is already finalized")
	}
	if n.Diagnosis == "" {
		return nil, fmt.Errorf("diagnosis is required before finalizing")
	}

	finalizedAt := time.Now().UTC()
	n.Status = StatusFinal
	n.FinalizedAt = &finalizedAt

	// Freeze and anchor commit together: if the ledger append fails the note
	// rolls back to draft and finalize can be retried.
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Finalize(ctx, n.ID, finalizedAt); err != nil {
			return err
		}
		entry, err := s.anchorer.AnchorNote(ctx, doctorUserID, payloadFor(n))
		if err != nil {
			return fmt.Errorf("anchor note: %w", err)
		}
		if err := s.repo.SetTransactionID(ctx, n.ID, entry.TransactionID); err != nil {
			return fmt.Errorf("store transaction id: %w", err)
		}
		n.TransactionID = entry.TransactionID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if patientUserID, derr := s.dir.UserIDForPatient(ctx, n.PatientID); derr == nil {
		if _, nerr := s.notify.Notify(ctx, patientUserID, notification.KindNoteFinalized, map[string]string{
			"transaction_id": n.TransactionID,
		}); nerr != nil {
			s.log.Warn().Err(nerr).Msg("note finalized notification failed")
		}
	}
	return n, nil
}

// Get returns the note to the author, the subject patient, or a doctor
// holding a consent. Drafts are visible to the author only.
func (s *Service) Get(ctx context.Context, noteID uuid.UUID, userID string) (*ConsultationNote, error) {
	n, err := s.repo.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if doctorID, derr := s.dir.DoctorIDForUser(ctx, userID); derr == nil && doctorID == n.DoctorID {
		return n, nil
	}
	if !n.Final() {
		return nil, ErrNotFound
	}
	if patientID, perr := s.dir.PatientIDForUser(ctx, userID); perr == nil && patientID == n.PatientID {
		return n, nil
	}
	allowed, err := s.access.HasAccess(ctx, userID, n.PatientID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotFound
	}
	return n, nil
}

// ListForUser returns the caller's notes: a doctor sees everything they
// authored, a patient sees their finalized notes.
func (s *Service) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*ConsultationNote, int, error) {
	if doctorID, err := s.dir.DoctorIDForUser(ctx, userID); err == nil {
		return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
	}
	patientID, err := s.dir.PatientIDForUser(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("profile required")
	}
	return s.repo.ListByPatient(ctx, patientID, true, limit, offset)
}

func (s *Service) authorizeAuthor(ctx context.Context, noteID uuid.UUID, doctorUserID string) (*ConsultationNote, error) {
	n, err := s.repo.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	doctorID, err := s.dir.DoctorIDForUser(ctx, doctorUserID)
	if err != nil || doctorID != n.DoctorID {
		return nil, ErrNotFound
	}
	return n, nil
}

// payloadFor maps a finalized note to its ledger payload. Verification
// rebuilds the snapshot through the same mapping.
func payloadFor(n *ConsultationNote) ledger.NotePayload {
	p := ledger.NotePayload{
		AppointmentID:   n.AppointmentID,
		NoteID:          n.ID,
		PatientID:       n.PatientID,
		DoctorID:        n.DoctorID,
		Diagnosis:       n.Diagnosis,
		Recommendations: n.Recommendations,
	}
	if n.FinalizedAt != nil {
		p.FinalizedAt = *n.FinalizedAt
	}
	return p
}

// LedgerPayload rebuilds the anchored payload for verification. Drafts have
// no anchored payload.
func (s *Service) LedgerPayload(ctx context.Context, noteID uuid.UUID) (*ledger.NotePayload, error) {
	n, err := s.repo.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if !n.Final() {
		return nil, ErrNotFound
	}
	payload := payloadFor(n)
	return &payload, nil
}
