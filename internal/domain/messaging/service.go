package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Directory resolves the caller's profile ids. Implemented over the identity
// service in the composition root.
type Directory interface {
	PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
	DoctorIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
}

const maxMessageLength = 4000

type Service struct {
	repo Repository
	dir  Directory
}

func NewService(repo Repository, dir Directory) *Service {
	return &Service{repo: repo, dir: dir}
}

// Start opens (or reuses) the conversation between the calling patient and a
// doctor. One thread per pair.
func (s *Service) Start(ctx context.Context, patientUserID string, doctorID uuid.UUID) (*Conversation, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("doctor_id is required")
	}
	patientID, err := s.dir.PatientIDForUser(ctx, patientUserID)
	if err != nil {
		return nil, fmt.Errorf("patient profile required")
	}

	existing, err := s.repo.FindConversation(ctx, patientID, doctorID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	conv := &Conversation{PatientID: patientID, DoctorID: doctorID}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListForUser returns the caller's conversations, resolved through whichever
// profile the user holds.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	if patientID, err := s.dir.PatientIDForUser(ctx, userID); err == nil {
		return s.repo.ListConversationsByPatient(ctx, patientID)
	}
	if doctorID, err := s.dir.DoctorIDForUser(ctx, userID); err == nil {
		return s.repo.ListConversationsByDoctor(ctx, doctorID)
	}
	return nil, fmt.Errorf("no profile for user")
}

// Send posts a message into a conversation the caller participates in.
func (s *Service) Send(ctx context.Context, conversationID uuid.UUID, senderUserID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("message body is required")
	}
	if len(body) > maxMessageLength {
		return nil, fmt.Errorf("message exceeds %d characters", maxMessageLength)
	}
	if _, err := s.authorizeParticipant(ctx, conversationID, senderUserID); err != nil {
		return nil, err
	}

	m := &Message{
		ConversationID: conversationID,
		SenderUserID:   senderUserID,
		Body:           body,
	}
	if err := s.repo.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Messages lists a conversation's messages for a participant and marks the
// counterpart's messages as read.
func (s *Service) Messages(ctx context.Context, conversationID uuid.UUID, userID string, limit, offset int) ([]*Message, int, error) {
	if _, err := s.authorizeParticipant(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := s.repo.MarkRead(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Unread returns how many counterpart messages the caller has not read.
func (s *Service) Unread(ctx context.Context, conversationID uuid.UUID, userID string) (int, error) {
	if _, err := s.authorizeParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.repo.UnreadCount(ctx, conversationID, userID)
}

func (s *Service) authorizeParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if patientID, err := s.dir.PatientIDForUser(ctx, userID); err == nil && patientID == conv.PatientID {
		return conv, nil
	}
	if doctorID, err := s.dir.DoctorIDForUser(ctx, userID); err == nil && doctorID == conv.DoctorID {
		return conv, nil
	}
	return nil, ErrNotFound
}
