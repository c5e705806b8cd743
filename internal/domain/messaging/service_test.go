package messaging

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// =========== Mocks ===========

type mockMessagingRepo struct {
	convs    map[uuid.UUID]*Conversation
	messages map[uuid.UUID][]*Message
}

func newMockMessagingRepo() *mockMessagingRepo {
	return &mockMessagingRepo{
		convs:    make(map[uuid.UUID]*Conversation),
		messages: make(map[uuid.UUID][]*Message),
	}
}

func (m *mockMessagingRepo) CreateConversation(_ context.Context, conv *Conversation) error {
	conv.ID = uuid.New()
	conv.CreatedAt = time.Now()
	m.convs[conv.ID] = conv
	return nil
}

func (m *mockMessagingRepo) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	c, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockMessagingRepo) FindConversation(_ context.Context, patientID, doctorID uuid.UUID) (*Conversation, error) {
	for _, c := range m.convs {
		if c.PatientID == patientID && c.DoctorID == doctorID {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockMessagingRepo) ListConversationsByPatient(_ context.Context, patientID uuid.UUID) ([]*Conversation, error) {
	var out []*Conversation
	for _, c := range m.convs {
		if c.PatientID == patientID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockMessagingRepo) ListConversationsByDoctor(_ context.Context, doctorID uuid.UUID) ([]*Conversation, error) {
	var out []*Conversation
	for _, c := range m.convs {
		if c.DoctorID == doctorID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockMessagingRepo) CreateMessage(_ context.Context, msg *Message) error {
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

func (m *mockMessagingRepo) ListMessages(_ context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	list := m.messages[conversationID]
	return list, len(list), nil
}

func (m *mockMessagingRepo) MarkRead(_ context.Context, conversationID uuid.UUID, readerUserID string) error {
	now := time.Now()
	for _, msg := range m.messages[conversationID] {
		if msg.SenderUserID != readerUserID && msg.ReadAt == nil {
			msg.ReadAt = &now
		}
	}
	return nil
}

func (m *mockMessagingRepo) UnreadCount(_ context.Context, conversationID uuid.UUID, readerUserID string) (int, error) {
	count := 0
	for _, msg := range m.messages[conversationID] {
		if msg.SenderUserID != readerUserID && msg.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

type mockDirectory struct {
	patients map[string]uuid.UUID
	doctors  map[string]uuid.UUID
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		patients: make(map[string]uuid.UUID),
		doctors:  make(map[string]uuid.UUID),
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

func newTestService() (*Service, *mockDirectory) {
	dir := newMockDirectory()
	return NewService(newMockMessagingRepo(), dir), dir
}

// =========== Tests ===========

func TestStartConversation(t *testing.T) {
	svc, dir := newTestService()
	ctx := context.Background()
	doctorID := uuid.New()
	dir.patients["patient-user"] = uuid.New()

	conv, err := svc.Start(ctx, "patient-user", doctorID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if conv.DoctorID != doctorID {
		t.Errorf("doctor = %s", conv.DoctorID)
	}
}

func TestStartReusesExistingThread(t *testing.T) {
	svc, dir := newTestService()
	ctx := context.Background()
	doctorID := uuid.New()
	dir.patients["patient-user"] = uuid.New()

	first, _ := svc.Start(ctx, "patient-user", doctorID)
	second, err := svc.Start(ctx, "patient-user", doctorID)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.ID != second.ID {
		t.Error("expected one thread per patient/doctor pair")
	}
}

func TestSendAndRead(t *testing.T) {
	svc, dir := newTestService()
	ctx := context.Background()
	doctorID := uuid.New()
	dir.patients["patient-user"] = uuid.New()
	dir.doctors["doctor-user"] = doctorID

	conv, _ := svc.Start(ctx, "patient-user", doctorID)

	if _, err := svc.Send(ctx, conv.ID, "patient-user", "Hello doctor"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	unread, err := svc.Unread(ctx, conv.ID, "doctor-user")
	if err != nil {
		t.Fatalf("Unread: %v", err)
	}
	if unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}

	msgs, total, err := svc.Messages(ctx, conv.ID, "doctor-user", 20, 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if total != 1 || len(msgs) != 1 {
		t.Fatalf("messages = %d/%d", len(msgs), total)
	}

	unread, _ = svc.Unread(ctx, conv.ID, "doctor-user")
	if unread != 0 {
		t.Errorf("unread after read = %d, want 0", unread)
	}
	// Sender's own unread count is unaffected by their messages.
	unread, _ = svc.Unread(ctx, conv.ID, "patient-user")
	if unread != 0 {
		t.Errorf("sender unread = %d, want 0", unread)
	}
}

func TestSendValidation(t *testing.T) {
	svc, dir := newTestService()
	ctx := context.Background()
	doctorID := uuid.New()
	dir.patients["patient-user"] = uuid.New()

	conv, _ := svc.Start(ctx, "patient-user", doctorID)

	if _, err := svc.Send(ctx, conv.ID, "patient-user", "   "); err == nil {
		t.Error("expected error for blank body")
	}
	if _, err := svc.Send(ctx, conv.ID, "patient-user", strings.Repeat("x", maxMessageLength+1)); err == nil {
		t.Error("expected error for oversized body")
	}
}

func TestNonParticipantRejected(t *testing.T) {
	svc, dir := newTestService()
	ctx := context.Background()
	doctorID := uuid.New()
	dir.patients["patient-user"] = uuid.New()
	dir.patients["other-user"] = uuid.New()
	dir.doctors["other-doctor"] = uuid.New()

	conv, _ := svc.Start(ctx, "patient-user", doctorID)

	if _, err := svc.Send(ctx, conv.ID, "other-user", "hi"); err == nil {
		t.Error("expected error for foreign patient")
	}
	if _, _, err := svc.Messages(ctx, conv.ID, "other-doctor", 20, 0); err == nil {
		t.Error("expected error for foreign doctor")
	}
}

func TestListForUserByRole(t *testing.T) {
	svc, dir := newTestService()
	ctx := context.Background()
	doctorID := uuid.New()
	dir.patients["patient-user"] = uuid.New()
	dir.doctors["doctor-user"] = doctorID

	svc.Start(ctx, "patient-user", doctorID)
	svc.Start(ctx, "patient-user", uuid.New())

	patientConvs, err := svc.ListForUser(ctx, "patient-user")
	if err != nil {
		t.Fatalf("ListForUser patient: %v", err)
	}
	if len(patientConvs) != 2 {
		t.Errorf("patient conversations = %d, want 2", len(patientConvs))
	}

	doctorConvs, err := svc.ListForUser(ctx, "doctor-user")
	if err != nil {
		t.Fatalf("ListForUser doctor: %v", err)
	}
	if len(doctorConvs) != 1 {
		t.Errorf("doctor conversations = %d, want 1", len(doctorConvs))
	}

	if _, err := svc.ListForUser(ctx, "nobody"); err == nil {
		t.Error("expected error for user without profile")
	}
}
