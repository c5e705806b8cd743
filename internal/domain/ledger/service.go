package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/portal/internal/platform/auth"
)

// Status is the outcome of a verification attempt. Authorization denials and
// hash mismatches are statuses, never errors; the client renders distinct
// guidance for each.
type Status string

const (
	StatusAuthRequired    Status = "auth_required"
	StatusNoAccess        Status = "no_access"
	StatusConsentRequired Status = "consent_required"
	StatusConsentPending  Status = "consent_pending"
	StatusValid           Status = "valid"
	StatusInvalid         Status = "invalid"
)

// Principal identifies the requester of a verification.
type Principal struct {
	UserID string
	Roles  []string
}

// Anonymous reports whether the request carries no authenticated user.
func (p Principal) Anonymous() bool { return p.UserID == "" }

// VerificationResult is what the verify endpoint renders. Payload is only
// populated for authorized requesters; hash validation itself does not
// disclose content.
type VerificationResult struct {
	Status        Status         `json:"status"`
	TransactionID string         `json:"transaction_id"`
	Kind          string         `json:"kind,omitempty"`
	AnchoredAt    *time.Time     `json:"anchored_at,omitempty"`
	StoredHash    string         `json:"stored_hash,omitempty"`
	ComputedHash  string         `json:"computed_hash,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// ErrPayloadNotFound is returned by a PayloadSource when the referenced
// prediction or note row no longer exists.
var ErrPayloadNotFound = errors.New("anchored payload not found")

// PayloadSource rebuilds the anchored payload for verification. Implemented
// in the composition root over the prediction and notes repositories so the
// ledger stays free of domain imports.
type PayloadSource interface {
	PredictionPayload(ctx context.Context, predictionID uuid.UUID) (*PredictionPayload, error)
	NotePayload(ctx context.Context, noteID uuid.UUID) (*NotePayload, error)
}

// AccessDecider answers whether a requester may read a patient's anchored
// content, and manages access requests. Implemented over the consent and
// identity domains in the composition root.
type AccessDecider interface {
	// HasAccess covers both "requester is the patient" and "requester holds
	// a granted clinical relationship".
	HasAccess(ctx context.Context, requesterUserID string, patientID uuid.UUID) (bool, error)
	HasPendingRequest(ctx context.Context, requesterUserID string, patientID uuid.UUID) (bool, error)
	// RequestAccess is idempotent: repeated requests reuse the open row.
	RequestAccess(ctx context.Context, requesterUserID string, patientID uuid.UUID, transactionID string) error
}

// Service implements the chain builder and the verifier.
type Service struct {
	repo     Repository
	payloads PayloadSource
	access   AccessDecider
	log      zerolog.Logger
}

func NewService(repo Repository, payloads PayloadSource, access AccessDecider, log zerolog.Logger) *Service {
	return &Service{repo: repo, payloads: payloads, access: access, log: log}
}

// AnchorRequest describes one entry to append. Exactly one of PredictionID
// and NoteID must be set.
type AnchorRequest struct {
	PatientID    uuid.UUID
	AuthorID     string
	PredictionID *uuid.UUID
	NoteID       *uuid.UUID
	Snapshot     map[string]any
}

// Anchor canonicalizes and hashes the snapshot, links the entry to the
// patient's most recent hash, and appends it. A transaction id collision is
// retried once with a fresh id.
//
// The previous-hash read is not synchronized with the insert; concurrent
// anchors for one patient may link to the same predecessor. The chain is a
// tamper-evidence device, not a consensus structure, so last-write-wins is
// acceptable here.
func (s *Service) Anchor(ctx context.Context, req AnchorRequest) (*Entry, error) {
	if (req.PredictionID == nil) == (req.NoteID == nil) {
		return nil, fmt.Errorf("anchor: exactly one of prediction_id and note_id must be set")
	}
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("anchor: patient_id is required")
	}
	if req.AuthorID == "" {
		return nil, fmt.Errorf("anchor: author_id is required")
	}

	canonical, err := Canonicalize(req.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("anchor: %w", err)
	}
	payloadHash := Hash(canonical)

	previousHash, err := s.repo.LatestHashForSubject(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("anchor: previous hash: %w", err)
	}

	entry := &Entry{
		PatientID:    req.PatientID,
		AuthorID:     req.AuthorID,
		PayloadHash:  payloadHash,
		PreviousHash: previousHash,
		PredictionID: req.PredictionID,
		NoteID:       req.NoteID,
	}

	for attempt := 0; attempt < 2; attempt++ {
		entry.TransactionID, err = NewTransactionID()
		if err != nil {
			return nil, err
		}
		err = s.repo.Append(ctx, entry)
		if err == nil {
			s.log.Info().
				Str("transaction_id", entry.TransactionID).
				Str("patient_id", entry.PatientID.String()).
				Str("kind", entry.Kind()).
				Msg("ledger entry anchored")
			return entry, nil
		}
		if !errors.Is(err, ErrDuplicateTransactionID) {
			return nil, fmt.Errorf("anchor: append: %w", err)
		}
	}
	return nil, fmt.Errorf("anchor: transaction id collision persisted after retry")
}

// AnchorPrediction anchors a saved prediction.
func (s *Service) AnchorPrediction(ctx context.Context, authorID string, predictionID uuid.UUID, p PredictionPayload) (*Entry, error) {
	id := predictionID
	return s.Anchor(ctx, AnchorRequest{
		PatientID:    p.PatientID,
		AuthorID:     authorID,
		PredictionID: &id,
		Snapshot:     PredictionSnapshot(p),
	})
}

// AnchorNote anchors a finalized consultation note.
func (s *Service) AnchorNote(ctx context.Context, authorID string, n NotePayload) (*Entry, error) {
	id := n.NoteID
	return s.Anchor(ctx, AnchorRequest{
		PatientID: n.PatientID,
		AuthorID:  authorID,
		NoteID:    &id,
		Snapshot:  NoteSnapshot(n),
	})
}

// Verify resolves a transaction id to a verification verdict for the given
// principal. Nonexistent ids, unreadable entries, and missing payloads all
// collapse into no_access so an unauthorized caller cannot probe which
// transaction ids exist.
func (s *Service) Verify(ctx context.Context, transactionID string, p Principal) (*VerificationResult, error) {
	res := &VerificationResult{TransactionID: transactionID}

	if p.Anonymous() {
		res.Status = StatusAuthRequired
		return res, nil
	}

	entry, err := s.repo.GetByTransactionID(ctx, transactionID)
	if errors.Is(err, ErrNotFound) {
		res.Status = StatusNoAccess
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	allowed, err := s.access.HasAccess(ctx, p.UserID, entry.PatientID)
	if err != nil {
		return nil, fmt.Errorf("verify: access check: %w", err)
	}
	if !allowed {
		if auth.HasRole(p.Roles, auth.RoleDoctor) {
			pending, err := s.access.HasPendingRequest(ctx, p.UserID, entry.PatientID)
			if err != nil {
				return nil, fmt.Errorf("verify: pending check: %w", err)
			}
			if pending {
				res.Status = StatusConsentPending
			} else {
				res.Status = StatusConsentRequired
			}
			return res, nil
		}
		res.Status = StatusNoAccess
		return res, nil
	}

	snapshot, err := s.rebuildSnapshot(ctx, entry)
	if errors.Is(err, ErrPayloadNotFound) {
		// Least disclosure: a dangling payload reference is indistinguishable
		// from an entry the caller may not read.
		res.Status = StatusNoAccess
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	canonical, err := Canonicalize(snapshot)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	computed := Hash(canonical)

	anchoredAt := entry.CreatedAt
	res.Kind = entry.Kind()
	res.AnchoredAt = &anchoredAt
	res.StoredHash = entry.PayloadHash
	res.ComputedHash = computed
	res.Payload = snapshot
	if computed == entry.PayloadHash {
		res.Status = StatusValid
	} else {
		res.Status = StatusInvalid
		s.log.Warn().
			Str("transaction_id", transactionID).
			Str("stored_hash", entry.PayloadHash).
			Str("computed_hash", computed).
			Msg("ledger hash mismatch")
	}
	return res, nil
}

func (s *Service) rebuildSnapshot(ctx context.Context, entry *Entry) (map[string]any, error) {
	switch {
	case entry.PredictionID != nil:
		p, err := s.payloads.PredictionPayload(ctx, *entry.PredictionID)
		if err != nil {
			return nil, err
		}
		return PredictionSnapshot(*p), nil
	case entry.NoteID != nil:
		n, err := s.payloads.NotePayload(ctx, *entry.NoteID)
		if err != nil {
			return nil, err
		}
		return NoteSnapshot(*n), nil
	default:
		return nil, fmt.Errorf("entry %s has no payload reference", entry.TransactionID)
	}
}

// RequestAccess opens (or reuses) an access request from a doctor to the
// entry's subject. The verdict moves to consent_pending; the client polls
// Verify until the patient decides.
func (s *Service) RequestAccess(ctx context.Context, transactionID string, p Principal) (*VerificationResult, error) {
	res := &VerificationResult{TransactionID: transactionID}

	if p.Anonymous() {
		res.Status = StatusAuthRequired
		return res, nil
	}
	if !auth.HasRole(p.Roles, auth.RoleDoctor) && !auth.HasRole(p.Roles, auth.RoleAdmin) {
		res.Status = StatusNoAccess
		return res, nil
	}

	entry, err := s.repo.GetByTransactionID(ctx, transactionID)
	if errors.Is(err, ErrNotFound) {
		res.Status = StatusNoAccess
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("request access: %w", err)
	}

	if err := s.access.RequestAccess(ctx, p.UserID, entry.PatientID, transactionID); err != nil {
		return nil, fmt.Errorf("request access: %w", err)
	}
	res.Status = StatusConsentPending
	return res, nil
}

// Metadata returns the privileged projection of an entry. Handlers guard
// this with the doctor/admin role; it never includes payload content.
func (s *Service) Metadata(ctx context.Context, transactionID string) (*EntryMetadata, error) {
	entry, err := s.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return &EntryMetadata{
		TransactionID: entry.TransactionID,
		PatientID:     entry.PatientID,
		Kind:          entry.Kind(),
		PayloadHash:   entry.PayloadHash,
		AnchoredAt:    entry.CreatedAt,
	}, nil
}
