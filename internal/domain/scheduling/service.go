package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/portal/internal/platform/notification"
)

// Directory resolves the caller's profile ids and notification targets.
// Implemented over the identity service in the composition root.
type Directory interface {
	PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
	DoctorIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
	UserIDForPatient(ctx context.Context, patientID uuid.UUID) (string, error)
	UserIDForDoctor(ctx context.Context, doctorID uuid.UUID) (string, error)
}

type Service struct {
	repo   Repository
	dir    Directory
	notify *notification.Center
	log    zerolog.Logger
}

func NewService(repo Repository, dir Directory, notify *notification.Center, log zerolog.Logger) *Service {
	return &Service{repo: repo, dir: dir, notify: notify, log: log}
}

// Book creates an appointment for the calling patient.
func (s *Service) Book(ctx context.Context, patientUserID string, doctorID uuid.UUID, scheduledAt time.Time, reason string) (*Appointment, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("doctor_id is required")
	}
	if scheduledAt.IsZero() {
		return nil, fmt.Errorf("scheduled_at is required")
	}
	if scheduledAt.Before(time.Now()) {
		return nil, fmt.Errorf("scheduled_at must be in the future")
	}
	patientID, err := s.dir.PatientIDForUser(ctx, patientUserID)
	if err != nil {
		return nil, fmt.Errorf("patient profile required to book")
	}

	a := &Appointment{
		PatientID:   patientID,
		DoctorID:    doctorID,
		ScheduledAt: scheduledAt,
		Reason:      reason,
		Status:      StatusBooked,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.notifyParty(ctx, a, "booked", true)
	return a, nil
}

// Cancel is available to either party while the appointment is booked.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, userID string) (*Appointment, error) {
	a, isDoctor, err := s.authorizeParty(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusBooked {
		return nil, fmt.Errorf("appointment is %s, not booked", a.Status)
	}
	if err := s.repo.UpdateStatus(ctx, a.ID, StatusCancelled); err != nil {
		return nil, err
	}
	a.Status = StatusCancelled
	s.notifyParty(ctx, a, "cancelled", !isDoctor)
	return a, nil
}

// Complete marks the consultation as held. Doctor only.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, doctorUserID string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	doctorID, err := s.dir.DoctorIDForUser(ctx, doctorUserID)
	if err != nil || doctorID != a.DoctorID {
		return nil, ErrNotFound
	}
	if a.Status != StatusBooked {
		return nil, fmt.Errorf("appointment is %s, not booked", a.Status)
	}
	if err := s.repo.UpdateStatus(ctx, a.ID, StatusCompleted); err != nil {
		return nil, err
	}
	a.Status = StatusCompleted
	return a, nil
}

// Get returns the appointment if the caller is one of its parties.
func (s *Service) Get(ctx context.Context, id uuid.UUID, userID string) (*Appointment, error) {
	a, _, err := s.authorizeParty(ctx, id, userID)
	return a, err
}

// ListForPatientUser returns the calling patient's appointments.
func (s *Service) ListForPatientUser(ctx context.Context, userID string, limit, offset int) ([]*Appointment, int, error) {
	patientID, err := s.dir.PatientIDForUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ListForDoctorUser returns the calling doctor's appointments.
func (s *Service) ListForDoctorUser(ctx context.Context, userID string, limit, offset int) ([]*Appointment, int, error) {
	doctorID, err := s.dir.DoctorIDForUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

// authorizeParty loads the appointment and verifies the caller is the
// patient or the doctor on it. Unknown and foreign rows look identical.
func (s *Service) authorizeParty(ctx context.Context, id uuid.UUID, userID string) (*Appointment, bool, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if patientID, err := s.dir.PatientIDForUser(ctx, userID); err == nil && patientID == a.PatientID {
		return a, false, nil
	}
	if doctorID, err := s.dir.DoctorIDForUser(ctx, userID); err == nil && doctorID == a.DoctorID {
		return a, true, nil
	}
	return nil, false, ErrNotFound
}

// notifyParty informs the counterpart of a status change.
func (s *Service) notifyParty(ctx context.Context, a *Appointment, status string, notifyDoctor bool) {
	var targetUser string
	var err error
	if notifyDoctor {
		targetUser, err = s.dir.UserIDForDoctor(ctx, a.DoctorID)
	} else {
		targetUser, err = s.dir.UserIDForPatient(ctx, a.PatientID)
	}
	if err != nil {
		return
	}
	if _, nerr := s.notify.Notify(ctx, targetUser, notification.KindAppointment, map[string]string{
		"status": status,
		"date":   a.ScheduledAt.Format("2006-01-02 15:04"),
	}); nerr != nil {
		s.log.Warn().Err(nerr).Msg("appointment notification failed")
	}
}
