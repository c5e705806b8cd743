package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service provides business logic for patient and doctor profiles.
type Service struct {
	patients PatientRepository
	doctors  DoctorRepository
}

func NewService(patients PatientRepository, doctors DoctorRepository) *Service {
	return &Service{patients: patients, doctors: doctors}
}

func (s *Service) RegisterPatient(ctx context.Context, p *Patient) error {
	if p.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if existing, err := s.patients.GetByUserID(ctx, p.UserID); err == nil && existing != nil {
		return fmt.Errorf("patient profile already exists for this user")
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByUser(ctx context.Context, userID string) (*Patient, error) {
	return s.patients.GetByUserID(ctx, userID)
}

// UpdatePatient applies profile changes to the caller's own profile. The
// user link is immutable.
func (s *Service) UpdatePatient(ctx context.Context, userID string, updated *Patient) (*Patient, error) {
	current, err := s.patients.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if updated.FirstName == "" || updated.LastName == "" {
		return nil, fmt.Errorf("first_name and last_name are required")
	}
	current.FirstName = updated.FirstName
	current.LastName = updated.LastName
	current.DateOfBirth = updated.DateOfBirth
	current.Gender = updated.Gender
	current.Email = updated.Email
	current.Phone = updated.Phone
	current.Address = updated.Address
	if err := s.patients.Update(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Service) RegisterDoctor(ctx context.Context, d *Doctor) error {
	if d.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if d.FirstName == "" || d.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if existing, err := s.doctors.GetByUserID(ctx, d.UserID); err == nil && existing != nil {
		return fmt.Errorf("doctor profile already exists for this user")
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetDoctorByUser(ctx context.Context, userID string) (*Doctor, error) {
	return s.doctors.GetByUserID(ctx, userID)
}

func (s *Service) UpdateDoctor(ctx context.Context, userID string, updated *Doctor) (*Doctor, error) {
	current, err := s.doctors.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if updated.FirstName == "" || updated.LastName == "" {
		return nil, fmt.Errorf("first_name and last_name are required")
	}
	current.FirstName = updated.FirstName
	current.LastName = updated.LastName
	current.Specialty = updated.Specialty
	current.LicenseNumber = updated.LicenseNumber
	current.Email = updated.Email
	current.Phone = updated.Phone
	if err := s.doctors.Update(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// ListDoctors is the directory patients browse when booking.
func (s *Service) ListDoctors(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, specialty, limit, offset)
}
