package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/portal/internal/platform/auth"
)

// =========== Mocks ===========

type mockLedgerRepo struct {
	entries     []*Entry
	failAppends int // fail this many appends with ErrDuplicateTransactionID
}

func newMockLedgerRepo() *mockLedgerRepo {
	return &mockLedgerRepo{}
}

func (m *mockLedgerRepo) Append(_ context.Context, e *Entry) error {
	if m.failAppends > 0 {
		m.failAppends--
		return ErrDuplicateTransactionID
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now().UTC()
	stored := *e
	m.entries = append(m.entries, &stored)
	return nil
}

func (m *mockLedgerRepo) GetByTransactionID(_ context.Context, txID string) (*Entry, error) {
	for _, e := range m.entries {
		if e.TransactionID == txID {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockLedgerRepo) LatestHashForSubject(_ context.Context, patientID uuid.UUID) (*string, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].PatientID == patientID {
			h := m.entries[i].PayloadHash
			return &h, nil
		}
	}
	return nil, nil
}

type mockPayloadSource struct {
	predictions map[uuid.UUID]*PredictionPayload
	notes       map[uuid.UUID]*NotePayload
}

func newMockPayloadSource() *mockPayloadSource {
	return &mockPayloadSource{
		predictions: make(map[uuid.UUID]*PredictionPayload),
		notes:       make(map[uuid.UUID]*NotePayload),
	}
}

func (m *mockPayloadSource) PredictionPayload(_ context.Context, id uuid.UUID) (*PredictionPayload, error) {
	p, ok := m.predictions[id]
	if !ok {
		return nil, ErrPayloadNotFound
	}
	return p, nil
}

func (m *mockPayloadSource) NotePayload(_ context.Context, id uuid.UUID) (*NotePayload, error) {
	n, ok := m.notes[id]
	if !ok {
		return nil, ErrPayloadNotFound
	}
	return n, nil
}

type mockAccessDecider struct {
	granted  map[string]bool // key: userID + "/" + patientID
	pending  map[string]bool
	requests []string
}

func newMockAccessDecider() *mockAccessDecider {
	return &mockAccessDecider{
		granted: make(map[string]bool),
		pending: make(map[string]bool),
	}
}

func accessKey(userID string, patientID uuid.UUID) string {
	return userID + "/" + patientID.String()
}

func (m *mockAccessDecider) HasAccess(_ context.Context, userID string, patientID uuid.UUID) (bool, error) {
	return m.granted[accessKey(userID, patientID)], nil
}

func (m *mockAccessDecider) HasPendingRequest(_ context.Context, userID string, patientID uuid.UUID) (bool, error) {
	return m.pending[accessKey(userID, patientID)], nil
}

func (m *mockAccessDecider) RequestAccess(_ context.Context, userID string, patientID uuid.UUID, txID string) error {
	m.pending[accessKey(userID, patientID)] = true
	m.requests = append(m.requests, txID)
	return nil
}

func newTestService() (*Service, *mockLedgerRepo, *mockPayloadSource, *mockAccessDecider) {
	repo := newMockLedgerRepo()
	payloads := newMockPayloadSource()
	access := newMockAccessDecider()
	svc := NewService(repo, payloads, access, zerolog.Nop())
	return svc, repo, payloads, access
}

func examplePrediction(patientID uuid.UUID) PredictionPayload {
	return PredictionPayload{
		PatientID:    patientID,
		HeartRate:    76,
		SystolicBP:   126,
		DiastolicBP:  82,
		GlucoseMgdl:  108,
		TemperatureC: 36.9,
		Risk:         24,
		Category:     "Low",
		Score:        76,
		At:           time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

// =========== Anchor ===========

func TestAnchorGenesisHasNullPreviousHash(t *testing.T) {
	svc, _, _, _ := newTestService()
	patientID := uuid.New()

	entry, err := svc.AnchorPrediction(context.Background(), "user-p", uuid.New(), examplePrediction(patientID))
	if err != nil {
		t.Fatalf("AnchorPrediction: %v", err)
	}
	if entry.PreviousHash != nil {
		t.Errorf("genesis previous hash = %v, want nil", *entry.PreviousHash)
	}
	if entry.TransactionID == "" {
		t.Error("transaction id not assigned")
	}
	if entry.PayloadHash == "" || len(entry.PayloadHash) != 64 {
		t.Errorf("payload hash = %q", entry.PayloadHash)
	}
}

func TestAnchorSecondEntryLinksToFirst(t *testing.T) {
	svc, _, _, _ := newTestService()
	patientID := uuid.New()
	ctx := context.Background()

	first, err := svc.AnchorPrediction(ctx, "user-p", uuid.New(), examplePrediction(patientID))
	if err != nil {
		t.Fatalf("first anchor: %v", err)
	}

	second := examplePrediction(patientID)
	second.HeartRate = 90
	entry, err := svc.AnchorPrediction(ctx, "user-p", uuid.New(), second)
	if err != nil {
		t.Fatalf("second anchor: %v", err)
	}
	if entry.PreviousHash == nil || *entry.PreviousHash != first.PayloadHash {
		t.Errorf("second entry previous hash = %v, want %s", entry.PreviousHash, first.PayloadHash)
	}
}

func TestAnchorChainsPerSubject(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	patientA, patientB := uuid.New(), uuid.New()

	if _, err := svc.AnchorPrediction(ctx, "u", uuid.New(), examplePrediction(patientA)); err != nil {
		t.Fatalf("anchor A: %v", err)
	}
	entryB, err := svc.AnchorPrediction(ctx, "u", uuid.New(), examplePrediction(patientB))
	if err != nil {
		t.Fatalf("anchor B: %v", err)
	}
	if entryB.PreviousHash != nil {
		t.Error("first entry for a different patient should be genesis")
	}
}

func TestAnchorRejectsZeroOrTwoPayloadRefs(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	predID, noteID := uuid.New(), uuid.New()

	cases := []AnchorRequest{
		{PatientID: patientID, AuthorID: "u", Snapshot: map[string]any{"a": 1}},
		{PatientID: patientID, AuthorID: "u", PredictionID: &predID, NoteID: &noteID, Snapshot: map[string]any{"a": 1}},
	}
	for i, req := range cases {
		if _, err := svc.Anchor(ctx, req); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
	if len(repo.entries) != 0 {
		t.Errorf("expected no writes, got %d", len(repo.entries))
	}
}

func TestAnchorRetriesOnDuplicateTransactionID(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.failAppends = 1

	entry, err := svc.AnchorPrediction(context.Background(), "u", uuid.New(), examplePrediction(uuid.New()))
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if entry.TransactionID == "" {
		t.Error("transaction id missing after retry")
	}
}

func TestAnchorGivesUpAfterSecondCollision(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.failAppends = 2

	if _, err := svc.AnchorPrediction(context.Background(), "u", uuid.New(), examplePrediction(uuid.New())); err == nil {
		t.Error("expected error after repeated collisions")
	}
}

func TestAnchorRejectsNonFinitePayload(t *testing.T) {
	svc, repo, _, _ := newTestService()
	p := examplePrediction(uuid.New())
	p.TemperatureC = func() float64 { var z float64; return 1 / z }() // +Inf

	if _, err := svc.AnchorPrediction(context.Background(), "u", uuid.New(), p); err == nil {
		t.Error("expected canonicalization error for non-finite vital")
	}
	if len(repo.entries) != 0 {
		t.Error("expected no write on canonicalization failure")
	}
}

// =========== Verify ===========

func TestVerifyRoundTripValid(t *testing.T) {
	svc, _, payloads, access := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	predID := uuid.New()

	payload := examplePrediction(patientID)
	payloads.predictions[predID] = &payload
	access.granted[accessKey("patient-user", patientID)] = true

	entry, err := svc.AnchorPrediction(ctx, "patient-user", predID, payload)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}

	res, err := svc.Verify(ctx, entry.TransactionID, Principal{UserID: "patient-user", Roles: []string{auth.RolePatient}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != StatusValid {
		t.Fatalf("status = %s, want valid", res.Status)
	}
	if res.ComputedHash != res.StoredHash {
		t.Errorf("computed %s != stored %s", res.ComputedHash, res.StoredHash)
	}
	if res.Payload == nil {
		t.Error("authorized verification should include the payload")
	}
	if res.Kind != "prediction" {
		t.Errorf("kind = %s", res.Kind)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	svc, _, payloads, access := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	predID := uuid.New()

	payload := examplePrediction(patientID)
	payloads.predictions[predID] = &payload
	access.granted[accessKey("patient-user", patientID)] = true

	entry, err := svc.AnchorPrediction(ctx, "patient-user", predID, payload)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}

	// Simulate post-anchor modification of the stored prediction.
	tampered := payload
	tampered.GlucoseMgdl = 250
	payloads.predictions[predID] = &tampered

	res, err := svc.Verify(ctx, entry.TransactionID, Principal{UserID: "patient-user", Roles: []string{auth.RolePatient}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != StatusInvalid {
		t.Errorf("status = %s, want invalid", res.Status)
	}
	if res.ComputedHash == res.StoredHash {
		t.Error("hashes should differ after tampering")
	}
}

func TestVerifyAnonymousIsAuthRequired(t *testing.T) {
	svc, _, _, _ := newTestService()

	res, err := svc.Verify(context.Background(), "whatever", Principal{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != StatusAuthRequired {
		t.Errorf("status = %s, want auth_required", res.Status)
	}
}

func TestVerifyUnknownAndForbiddenAreIndistinguishable(t *testing.T) {
	svc, _, payloads, _ := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	predID := uuid.New()
	payload := examplePrediction(patientID)
	payloads.predictions[predID] = &payload

	entry, err := svc.AnchorPrediction(ctx, "someone", predID, payload)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}

	stranger := Principal{UserID: "other-patient", Roles: []string{auth.RolePatient}}

	existing, err := svc.Verify(ctx, entry.TransactionID, stranger)
	if err != nil {
		t.Fatalf("Verify existing: %v", err)
	}
	missing, err := svc.Verify(ctx, "does-not-exist", stranger)
	if err != nil {
		t.Fatalf("Verify missing: %v", err)
	}
	if existing.Status != StatusNoAccess || missing.Status != StatusNoAccess {
		t.Errorf("existing = %s, missing = %s, want no_access for both", existing.Status, missing.Status)
	}
	if existing.Kind != "" || existing.Payload != nil {
		t.Error("no_access result must not leak entry details")
	}
}

func TestVerifyDoctorWithoutConsent(t *testing.T) {
	svc, _, payloads, access := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	predID := uuid.New()
	payload := examplePrediction(patientID)
	payloads.predictions[predID] = &payload

	entry, err := svc.AnchorPrediction(ctx, "someone", predID, payload)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}

	doctor := Principal{UserID: "doctor-user", Roles: []string{auth.RoleDoctor}}

	res, err := svc.Verify(ctx, entry.TransactionID, doctor)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != StatusConsentRequired {
		t.Fatalf("status = %s, want consent_required", res.Status)
	}

	// Doctor requests access: verdict moves to pending.
	reqRes, err := svc.RequestAccess(ctx, entry.TransactionID, doctor)
	if err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if reqRes.Status != StatusConsentPending {
		t.Errorf("request status = %s, want consent_pending", reqRes.Status)
	}

	res, err = svc.Verify(ctx, entry.TransactionID, doctor)
	if err != nil {
		t.Fatalf("Verify after request: %v", err)
	}
	if res.Status != StatusConsentPending {
		t.Fatalf("status = %s, want consent_pending", res.Status)
	}

	// Patient grants out-of-band; the next poll validates.
	access.granted[accessKey("doctor-user", patientID)] = true
	res, err = svc.Verify(ctx, entry.TransactionID, doctor)
	if err != nil {
		t.Fatalf("Verify after grant: %v", err)
	}
	if res.Status != StatusValid {
		t.Errorf("status = %s, want valid", res.Status)
	}
}

func TestVerifyMissingPayloadCollapsesToNoAccess(t *testing.T) {
	svc, _, payloads, access := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	predID := uuid.New()
	payload := examplePrediction(patientID)
	payloads.predictions[predID] = &payload
	access.granted[accessKey("patient-user", patientID)] = true

	entry, err := svc.AnchorPrediction(ctx, "patient-user", predID, payload)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}

	delete(payloads.predictions, predID)

	res, err := svc.Verify(ctx, entry.TransactionID, Principal{UserID: "patient-user", Roles: []string{auth.RolePatient}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != StatusNoAccess {
		t.Errorf("status = %s, want no_access for dangling payload", res.Status)
	}
}

func TestVerifyNoteRoundTrip(t *testing.T) {
	svc, _, payloads, access := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	noteID := uuid.New()

	note := NotePayload{
		AppointmentID:   uuid.New(),
		NoteID:          noteID,
		PatientID:       patientID,
		DoctorID:        uuid.New(),
		Diagnosis:       "Seasonal allergic rhinitis",
		Recommendations: "Antihistamine daily for two weeks",
		FinalizedAt:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	payloads.notes[noteID] = &note
	access.granted[accessKey("patient-user", patientID)] = true

	entry, err := svc.AnchorNote(ctx, "doctor-user", note)
	if err != nil {
		t.Fatalf("AnchorNote: %v", err)
	}
	if entry.Kind() != "note" {
		t.Errorf("kind = %s", entry.Kind())
	}

	res, err := svc.Verify(ctx, entry.TransactionID, Principal{UserID: "patient-user", Roles: []string{auth.RolePatient}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != StatusValid {
		t.Errorf("status = %s, want valid", res.Status)
	}
}

// =========== RequestAccess / Metadata ===========

func TestRequestAccessRequiresDoctorRole(t *testing.T) {
	svc, _, payloads, _ := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	predID := uuid.New()
	payload := examplePrediction(patientID)
	payloads.predictions[predID] = &payload

	entry, _ := svc.AnchorPrediction(ctx, "u", predID, payload)

	res, err := svc.RequestAccess(ctx, entry.TransactionID, Principal{UserID: "p2", Roles: []string{auth.RolePatient}})
	if err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if res.Status != StatusNoAccess {
		t.Errorf("status = %s, want no_access for non-doctor", res.Status)
	}
}

func TestRequestAccessUnknownTransaction(t *testing.T) {
	svc, _, _, access := newTestService()

	res, err := svc.RequestAccess(context.Background(), "missing", Principal{UserID: "d", Roles: []string{auth.RoleDoctor}})
	if err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if res.Status != StatusNoAccess {
		t.Errorf("status = %s, want no_access", res.Status)
	}
	if len(access.requests) != 0 {
		t.Error("no request should be recorded for unknown transaction")
	}
}

func TestMetadataProjection(t *testing.T) {
	svc, _, payloads, _ := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	predID := uuid.New()
	payload := examplePrediction(patientID)
	payloads.predictions[predID] = &payload

	entry, _ := svc.AnchorPrediction(ctx, "u", predID, payload)

	meta, err := svc.Metadata(ctx, entry.TransactionID)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.PatientID != patientID || meta.Kind != "prediction" {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.PayloadHash != entry.PayloadHash {
		t.Error("metadata hash mismatch")
	}

	if _, err := svc.Metadata(ctx, "missing"); err == nil {
		t.Error("expected error for unknown transaction")
	}
}

// =========== Snapshot stability ===========

func TestPredictionSnapshotCanonicalForm(t *testing.T) {
	patientID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	p := examplePrediction(patientID)

	canonical, err := Canonicalize(PredictionSnapshot(p))
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"at":"2026-03-14T09:30:00Z",` +
		`"input":{"diastolicBp":82,"glucoseMgdl":108,"heartRate":76,"systolicBp":126,"temperatureC":36.9},` +
		`"patient_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8",` +
		`"risk":{"category":"Low","risk":24},` +
		`"score":76}`
	if canonical != want {
		t.Errorf("canonical form drifted:\n got %s\nwant %s", canonical, want)
	}
}

func TestSnapshotTimestampSecondPrecision(t *testing.T) {
	p := examplePrediction(uuid.New())
	p.At = time.Date(2026, 3, 14, 9, 30, 0, 999_000_000, time.UTC)
	withNanos := PredictionSnapshot(p)

	p.At = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	without := PredictionSnapshot(p)

	a, _ := Canonicalize(withNanos)
	b, _ := Canonicalize(without)
	if a != b {
		t.Error("sub-second precision leaked into the canonical form")
	}
}
