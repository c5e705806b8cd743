package consent

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("consent grant not found")

type Repository interface {
	Create(ctx context.Context, g *Grant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Grant, error)
	// FindActive returns the pending or granted row for the pair, if any.
	FindActive(ctx context.Context, doctorUserID string, patientID uuid.UUID) (*Grant, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Grant, error)
	ListByDoctor(ctx context.Context, doctorUserID string) ([]*Grant, error)
}
