package notes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/portal/internal/domain/ledger"
	"github.com/careledger/portal/internal/platform/notification"
)

// =========== Mocks ===========

type mockNoteRepo struct {
	store map[uuid.UUID]*ConsultationNote
}

func newMockNoteRepo() *mockNoteRepo {
	return &mockNoteRepo{store: make(map[uuid.UUID]*ConsultationNote)}
}

func (m *mockNoteRepo) Create(_ context.Context, n *ConsultationNote) error {
	for _, existing := range m.store {
		if existing.AppointmentID == n.AppointmentID {
			return ErrAlreadyExists
		}
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()
	n.UpdatedAt = n.CreatedAt
	stored := *n
	m.store[n.ID] = &stored
	return nil
}

func (m *mockNoteRepo) GetByID(_ context.Context, id uuid.UUID) (*ConsultationNote, error) {
	n, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *n
	return &copied, nil
}

func (m *mockNoteRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*ConsultationNote, error) {
	for _, n := range m.store {
		if n.AppointmentID == appointmentID {
			copied := *n
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockNoteRepo) UpdateContent(_ context.Context, id uuid.UUID, diagnosis, recommendations string) error {
	n, ok := m.store[id]
	if !ok || n.Status != StatusDraft {
		return ErrNotFound
	}
	n.Diagnosis = diagnosis
	n.Recommendations = recommendations
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockNoteRepo) Finalize(_ context.Context, id uuid.UUID, finalizedAt time.Time) error {
	n, ok := m.store[id]
	if !ok || n.Status != StatusDraft {
		return ErrNotFound
	}
	n.Status = StatusFinal
	n.FinalizedAt = &finalizedAt
	return nil
}

func (m *mockNoteRepo) SetTransactionID(_ context.Context, id uuid.UUID, txID string) error {
	n, ok := m.store[id]
	if !ok || n.TransactionID != "" {
		return ErrNotFound
	}
	n.TransactionID = txID
	return nil
}

func (m *mockNoteRepo) ListByPatient(_ context.Context, patientID uuid.UUID, onlyFinal bool, limit, offset int) ([]*ConsultationNote, int, error) {
	var out []*ConsultationNote
	for _, n := range m.store {
		if n.PatientID != patientID {
			continue
		}
		if onlyFinal && n.Status != StatusFinal {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (m *mockNoteRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*ConsultationNote, int, error) {
	var out []*ConsultationNote
	for _, n := range m.store {
		if n.DoctorID == doctorID {
			out = append(out, n)
		}
	}
	return out, len(out), nil
}

type mockAppointments struct {
	store map[uuid.UUID]*AppointmentInfo
}

func (m *mockAppointments) AppointmentInfo(_ context.Context, id uuid.UUID) (*AppointmentInfo, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

type mockDirectory struct {
	patients       map[string]uuid.UUID
	doctors        map[string]uuid.UUID
	userForPatient map[uuid.UUID]string
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		patients:       make(map[string]uuid.UUID),
		doctors:        make(map[string]uuid.UUID),
		userForPatient: make(map[uuid.UUID]string),
	}
}

func (m *mockDirectory) PatientIDForUser(_ context.Context, userID string) (uuid.UUID, error) {
	id, ok := m.patients[userID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

func (m *mockDirectory) DoctorIDForUser(_ context.Context, userID string) (uuid.UUID, error) {
	id, ok := m.doctors[userID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

func (m *mockDirectory) UserIDForPatient(_ context.Context, patientID uuid.UUID) (string, error) {
	u, ok := m.userForPatient[patientID]
	if !ok {
		return "", ErrNotFound
	}
	return u, nil
}

type mockAccess struct {
	granted map[string]bool
}

func (m *mockAccess) HasAccess(_ context.Context, userID string, patientID uuid.UUID) (bool, error) {
	return m.granted[userID+"/"+patientID.String()], nil
}

type mockAnchorer struct {
	anchored []ledger.NotePayload
	err      error
}

func (m *mockAnchorer) AnchorNote(_ context.Context, authorID string, n ledger.NotePayload) (*ledger.Entry, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.anchored = append(m.anchored, n)
	id := n.NoteID
	return &ledger.Entry{
		TransactionID: "tx-" + n.NoteID.String()[:8],
		PatientID:     n.PatientID,
		AuthorID:      authorID,
		NoteID:        &id,
	}, nil
}

// mockTransactor snapshots the repo's rows before fn and restores them when fn
// errors, mirroring a database rollback.
type mockTransactor struct {
	repo *mockNoteRepo
}

func (m *mockTransactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := make(map[uuid.UUID]*ConsultationNote, len(m.repo.store))
	for id, n := range m.repo.store {
		copied := *n
		snapshot[id] = &copied
	}
	if err := fn(ctx); err != nil {
		m.repo.store = snapshot
		return err
	}
	return nil
}

type fixture struct {
	svc           *Service
	repo          *mockNoteRepo
	access        *mockAccess
	anchorer      *mockAnchorer
	notify        *notification.Center
	appointmentID uuid.UUID
	patientID     uuid.UUID
	doctorID      uuid.UUID
}

func newFixture() *fixture {
	repo := newMockNoteRepo()
	dir := newMockDirectory()
	access := &mockAccess{granted: make(map[string]bool)}
	anchorer := &mockAnchorer{}
	notify := notification.NewCenter()

	patientID := uuid.New()
	doctorID := uuid.New()
	appointmentID := uuid.New()

	dir.patients["patient-user"] = patientID
	dir.doctors["doctor-user"] = doctorID
	dir.doctors["other-doctor"] = uuid.New()
	dir.userForPatient[patientID] = "patient-user"

	appts := &mockAppointments{store: map[uuid.UUID]*AppointmentInfo{
		appointmentID: {ID: appointmentID, PatientID: patientID, DoctorID: doctorID, Held: true},
	}}

	svc := NewService(repo, appts, dir, access, anchorer, &mockTransactor{repo: repo}, notify, zerolog.Nop())
	return &fixture{
		svc:           svc,
		repo:          repo,
		access:        access,
		anchorer:      anchorer,
		notify:        notify,
		appointmentID: appointmentID,
		patientID:     patientID,
		doctorID:      doctorID,
	}
}

// =========== Tests ===========

func TestCreateDraft(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	n, err := f.svc.Create(ctx, "doctor-user", f.appointmentID, "hypertension stage 1", "reduce sodium intake")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Status != StatusDraft {
		t.Errorf("status = %s, want draft", n.Status)
	}
	if n.PatientID != f.patientID || n.DoctorID != f.doctorID {
		t.Error("note not bound to the appointment parties")
	}
	if n.TransactionID != "" || n.FinalizedAt != nil {
		t.Error("draft must not be anchored")
	}
}

func TestCreateRejectsForeignAppointment(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Create(context.Background(), "other-doctor", f.appointmentID, "dx", ""); err == nil {
		t.Error("another doctor must not open a note on this appointment")
	}
}

func TestCreateRequiresHeldAppointment(t *testing.T) {
	f := newFixture()
	pending := uuid.New()
	f.svc.appointments.(*mockAppointments).store[pending] = &AppointmentInfo{
		ID: pending, PatientID: f.patientID, DoctorID: f.doctorID, Held: false,
	}
	if _, err := f.svc.Create(context.Background(), "doctor-user", pending, "dx", ""); err == nil {
		t.Error("expected rejection for an appointment that was not held")
	}
}

func TestCreateOnePerAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, "doctor-user", f.appointmentID, "dx", ""); err != nil {
		t.Fatalf("first note: %v", err)
	}
	if _, err := f.svc.Create(ctx, "doctor-user", f.appointmentID, "dx2", ""); err == nil {
		t.Error("second note on the same appointment must be rejected")
	}
}

func TestUpdateDraft(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	n, _ := f.svc.Create(ctx, "doctor-user", f.appointmentID, "initial", "")

	updated, err := f.svc.Update(ctx, n.ID, "doctor-user", "revised diagnosis", "follow up in two weeks")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Diagnosis != "revised diagnosis" {
		t.Errorf("diagnosis = %q", updated.Diagnosis)
	}

	if _, err := f.svc.Update(ctx, n.ID, "other-doctor", "x", ""); err == nil {
		t.Error("only the author may edit")
	}
}

func TestFinalizeFreezesAndAnchors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	n, _ := f.svc.Create(ctx, "doctor-user", f.appointmentID, "hypertension stage 1", "reduce sodium intake")

	final, err := f.svc.Finalize(ctx, n.ID, "doctor-user")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.Status != StatusFinal || final.FinalizedAt == nil {
		t.Error("note not frozen")
	}
	if final.TransactionID == "" {
		t.Error("finalized note must carry a transaction id")
	}
	if len(f.anchorer.anchored) != 1 {
		t.Fatalf("anchored = %d, want 1", len(f.anchorer.anchored))
	}
	if f.anchorer.anchored[0].Diagnosis != "hypertension stage 1" {
		t.Error("anchored payload diverges from the note")
	}

	if items := f.notify.ListForUser(ctx, "patient-user", 10); len(items) != 1 {
		t.Fatalf("patient notifications = %d, want 1", len(items))
	}

	if _, err := f.svc.Update(ctx, n.ID, "doctor-user", "edited after freeze", ""); err == nil {
		t.Error("edits after finalize must be rejected")
	}
	if _, err := f.svc.Finalize(ctx, n.ID, "doctor-user"); err == nil {
		t.Error("double finalize must be rejected")
	}
}

func TestFinalizeRollsBackWhenAnchorFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	n, _ := f.svc.Create(ctx, "doctor-user", f.appointmentID, "hypertension stage 1", "reduce sodium intake")

	f.anchorer.err = errors.New("ledger unavailable")
	if _, err := f.svc.Finalize(ctx, n.ID, "doctor-user"); err == nil {
		t.Fatal("expected error when the ledger append fails")
	}

	stored, err := f.repo.GetByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusDraft || stored.TransactionID != "" || stored.FinalizedAt != nil {
		t.Fatalf("note must stay a draft after a failed anchor, got status=%s tx=%q", stored.Status, stored.TransactionID)
	}

	f.anchorer.err = nil
	final, err := f.svc.Finalize(ctx, n.ID, "doctor-user")
	if err != nil {
		t.Fatalf("retry after anchor recovery: %v", err)
	}
	if final.Status != StatusFinal || final.TransactionID == "" {
		t.Error("retry must freeze and anchor the note")
	}
	if got := f.repo.store[n.ID].TransactionID; got != final.TransactionID {
		t.Errorf("stored transaction id = %q, want %q", got, final.TransactionID)
	}
}

func TestFinalizeRequiresDiagnosis(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	n, _ := f.svc.Create(ctx, "doctor-user", f.appointmentID, "", "rest")
	if _, err := f.svc.Finalize(ctx, n.ID, "doctor-user"); err == nil {
		t.Error("finalize without a diagnosis must be rejected")
	}
}

func TestGetVisibility(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	n, _ := f.svc.Create(ctx, "doctor-user", f.appointmentID, "dx", "")

	if _, err := f.svc.Get(ctx, n.ID, "doctor-user"); err != nil {
		t.Errorf("author read of draft failed: %v", err)
	}
	if _, err := f.svc.Get(ctx, n.ID, "patient-user"); err == nil {
		t.Error("patient must not see drafts")
	}

	if _, err := f.svc.Finalize(ctx, n.ID, "doctor-user"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if _, err := f.svc.Get(ctx, n.ID, "patient-user"); err != nil {
		t.Errorf("patient read of final note failed: %v", err)
	}
	if _, err := f.svc.Get(ctx, n.ID, "other-doctor"); err == nil {
		t.Error("doctor without consent must not read")
	}
	f.access.granted["other-doctor/"+f.patientID.String()] = true
	if _, err := f.svc.Get(ctx, n.ID, "other-doctor"); err != nil {
		t.Errorf("consented doctor read failed: %v", err)
	}
}

func TestLedgerPayloadMatchesFinalize(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	n, _ := f.svc.Create(ctx, "doctor-user", f.appointmentID, "dx", "rx")

	if _, err := f.svc.LedgerPayload(ctx, n.ID); err == nil {
		t.Error("drafts have no anchored payload")
	}

	if _, err := f.svc.Finalize(ctx, n.ID, "doctor-user"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	rebuilt, err := f.svc.LedgerPayload(ctx, n.ID)
	if err != nil {
		t.Fatalf("LedgerPayload: %v", err)
	}

	wrote, _ := ledger.Canonicalize(ledger.NoteSnapshot(f.anchorer.anchored[0]))
	verified, _ := ledger.Canonicalize(ledger.NoteSnapshot(*rebuilt))
	if wrote != verified {
		t.Errorf("write and verify snapshots differ:\n%s\n%s", wrote, verified)
	}
}

func TestListForUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	n, _ := f.svc.Create(ctx, "doctor-user", f.appointmentID, "dx", "")

	items, total, err := f.svc.ListForUser(ctx, "doctor-user", 20, 0)
	if err != nil || total != 1 || len(items) != 1 {
		t.Errorf("doctor list = %d/%d (%v), want 1/1", len(items), total, err)
	}

	// Patient sees no drafts, then the finalized note.
	_, total, err = f.svc.ListForUser(ctx, "patient-user", 20, 0)
	if err != nil || total != 0 {
		t.Errorf("patient draft list total = %d (%v), want 0", total, err)
	}
	if _, err := f.svc.Finalize(ctx, n.ID, "doctor-user"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	_, total, err = f.svc.ListForUser(ctx, "patient-user", 20, 0)
	if err != nil || total != 1 {
		t.Errorf("patient final list total = %d (%v), want 1", total, err)
	}
}
