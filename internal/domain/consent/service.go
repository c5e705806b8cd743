package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/portal/internal/platform/notification"
)

// PatientDirectory resolves between patient row ids and auth user ids.
// Implemented over the identity service in the composition root.
type PatientDirectory interface {
	UserIDForPatient(ctx context.Context, patientID uuid.UUID) (string, error)
	PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
}

// Service manages the doctor/patient access grant workflow. It also backs
// the verification ledger's authorization decisions.
type Service struct {
	repo     Repository
	patients PatientDirectory
	notify   *notification.Center
	log      zerolog.Logger
}

func NewService(repo Repository, patients PatientDirectory, notify *notification.Center, log zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, notify: notify, log: log}
}

// RequestAccess opens an access request from a doctor to a patient. The
// operation is idempotent: an existing pending or granted row is returned
// unchanged instead of creating a duplicate.
func (s *Service) RequestAccess(ctx context.Context, doctorUserID string, patientID uuid.UUID, transactionID string) (*Grant, error) {
	if doctorUserID == "" {
		return nil, fmt.Errorf("doctor_user_id is required")
	}
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}

	existing, err := s.repo.FindActive(ctx, doctorUserID, patientID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	g := &Grant{
		DoctorUserID:  doctorUserID,
		PatientID:     patientID,
		Status:        StatusPending,
		TransactionID: transactionID,
	}
	if err := s.repo.Create(ctx, g); err != nil {
		return nil, err
	}

	if patientUserID, err := s.patients.UserIDForPatient(ctx, patientID); err == nil {
		if _, nerr := s.notify.Notify(ctx, patientUserID, notification.KindAccessRequested, map[string]string{
			"doctor_name":    doctorUserID,
			"transaction_id": transactionID,
		}); nerr != nil {
			s.log.Warn().Err(nerr).Msg("access request notification failed")
		}
	}
	return g, nil
}

// Decide applies the patient's grant or deny decision. Only the subject
// patient may decide, and only while the request is pending.
func (s *Service) Decide(ctx context.Context, grantID uuid.UUID, patientUserID string, approve bool) (*Grant, error) {
	g, err := s.authorizePatient(ctx, grantID, patientUserID)
	if err != nil {
		return nil, err
	}
	if g.Status != StatusPending {
		return nil, fmt.Errorf("request is %s, not pending", g.Status)
	}

	status := StatusDenied
	kind := notification.KindConsentDenied
	if approve {
		status = StatusGranted
		kind = notification.KindConsentGranted
	}
	if err := s.repo.UpdateStatus(ctx, g.ID, status); err != nil {
		return nil, err
	}
	g.Status = status

	if _, nerr := s.notify.Notify(ctx, g.DoctorUserID, kind, map[string]string{
		"patient_name": patientUserID,
	}); nerr != nil {
		s.log.Warn().Err(nerr).Msg("consent decision notification failed")
	}
	return g, nil
}

// Revoke withdraws previously granted access.
func (s *Service) Revoke(ctx context.Context, grantID uuid.UUID, patientUserID string) (*Grant, error) {
	g, err := s.authorizePatient(ctx, grantID, patientUserID)
	if err != nil {
		return nil, err
	}
	if g.Status != StatusGranted {
		return nil, fmt.Errorf("grant is %s, not granted", g.Status)
	}
	if err := s.repo.UpdateStatus(ctx, g.ID, StatusRevoked); err != nil {
		return nil, err
	}
	g.Status = StatusRevoked
	return g, nil
}

func (s *Service) authorizePatient(ctx context.Context, grantID uuid.UUID, patientUserID string) (*Grant, error) {
	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	ownPatientID, err := s.patients.PatientIDForUser(ctx, patientUserID)
	if err != nil || ownPatientID != g.PatientID {
		return nil, ErrNotFound
	}
	return g, nil
}

// HasAccess reports whether the doctor currently holds a granted
// relationship with the patient.
func (s *Service) HasAccess(ctx context.Context, doctorUserID string, patientID uuid.UUID) (bool, error) {
	g, err := s.repo.FindActive(ctx, doctorUserID, patientID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.Status == StatusGranted, nil
}

// HasPendingRequest reports whether an undecided request exists.
func (s *Service) HasPendingRequest(ctx context.Context, doctorUserID string, patientID uuid.UUID) (bool, error) {
	g, err := s.repo.FindActive(ctx, doctorUserID, patientID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.Status == StatusPending, nil
}

// ListForPatientUser returns the grants involving the caller's patient profile.
func (s *Service) ListForPatientUser(ctx context.Context, patientUserID string) ([]*Grant, error) {
	patientID, err := s.patients.PatientIDForUser(ctx, patientUserID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByPatient(ctx, patientID)
}

// ListForDoctor returns the grants the doctor has requested or holds.
func (s *Service) ListForDoctor(ctx context.Context, doctorUserID string) ([]*Grant, error) {
	return s.repo.ListByDoctor(ctx, doctorUserID)
}
