package prediction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/portal/internal/domain/ledger"
)

// Directory resolves patient profiles for the calling user.
type Directory interface {
	PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
}

// Access answers whether a doctor may read a patient's predictions.
type Access interface {
	HasAccess(ctx context.Context, requesterUserID string, patientID uuid.UUID) (bool, error)
}

// Anchorer is the ledger's write path.
type Anchorer interface {
	AnchorPrediction(ctx context.Context, authorID string, predictionID uuid.UUID, p ledger.PredictionPayload) (*ledger.Entry, error)
}

// Transactor runs fn in one database transaction, so the stored row and its
// ledger entry commit or roll back together.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo     Repository
	dir      Directory
	access   Access
	anchorer Anchorer
	tx       Transactor
	log      zerolog.Logger
}

func NewService(repo Repository, dir Directory, access Access, anchorer Anchorer, tx Transactor, log zerolog.Logger) *Service {
	return &Service{repo: repo, dir: dir, access: access, anchorer: anchorer, tx: tx, log: log}
}

// Save validates and scores the vitals, persists the frozen record, and
// anchors it in the verification ledger. The returned prediction carries the
// transaction id the client renders as a QR code or verification URL.
func (s *Service) Save(ctx context.Context, patientUserID string, input Vitals) (*Prediction, error) {
	if err := ValidateVitals(input); err != nil {
		return nil, err
	}
	patientID, err := s.dir.PatientIDForUser(ctx, patientUserID)
	if err != nil {
		return nil, fmt.Errorf("patient profile required")
	}

	risk, category, score := ComputeRisk(input)
	p := &Prediction{
		PatientID: patientID,
		CreatedBy: patientUserID,
		Input:     input,
		Risk:      risk,
		Category:  category,
		Score:     score,
	}

	// The row and its ledger entry commit together: a failed anchor rolls the
	// prediction back so no content exists outside the chain.
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		entry, err := s.anchorer.AnchorPrediction(ctx, patientUserID, p.ID, payloadFor(p))
		if err != nil {
			return fmt.Errorf("anchor prediction: %w", err)
		}
		if err := s.repo.SetTransactionID(ctx, p.ID, entry.TransactionID); err != nil {
			return fmt.Errorf("store transaction id: %w", err)
		}
		p.TransactionID = entry.TransactionID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a prediction to its owner or to a doctor holding access.
func (s *Service) Get(ctx context.Context, id uuid.UUID, userID string) (*Prediction, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, userID, p.PatientID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListForPatient returns a patient's prediction history. Patients see their
// own; doctors need a granted consent.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, userID string, limit, offset int) ([]*Prediction, int, error) {
	if err := s.authorizeRead(ctx, userID, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ListOwn returns the calling patient's prediction history.
func (s *Service) ListOwn(ctx context.Context, userID string, limit, offset int) ([]*Prediction, int, error) {
	patientID, err := s.dir.PatientIDForUser(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("patient profile required")
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) authorizeRead(ctx context.Context, userID string, patientID uuid.UUID) error {
	if ownID, err := s.dir.PatientIDForUser(ctx, userID); err == nil && ownID == patientID {
		return nil
	}
	allowed, err := s.access.HasAccess(ctx, userID, patientID)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotFound
	}
	return nil
}

// payloadFor maps a stored prediction to its ledger payload. The verify path
// uses the same mapping, so write-time and verify-time snapshots cannot
// drift.
func payloadFor(p *Prediction) ledger.PredictionPayload {
	return ledger.PredictionPayload{
		PatientID:    p.PatientID,
		HeartRate:    p.Input.HeartRate,
		SystolicBP:   p.Input.SystolicBP,
		DiastolicBP:  p.Input.DiastolicBP,
		GlucoseMgdl:  p.Input.GlucoseMgdl,
		TemperatureC: p.Input.TemperatureC,
		Risk:         p.Risk,
		Category:     p.Category,
		Score:        p.Score,
		At:           p.CreatedAt,
	}
}

// LedgerPayload rebuilds the anchored payload for verification.
func (s *Service) LedgerPayload(ctx context.Context, predictionID uuid.UUID) (*ledger.PredictionPayload, error) {
	p, err := s.repo.GetByID(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	payload := payloadFor(p)
	return &payload, nil
}
