package messaging

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("conversation not found")

type Repository interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	FindConversation(ctx context.Context, patientID, doctorID uuid.UUID) (*Conversation, error)
	ListConversationsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Conversation, error)
	ListConversationsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Conversation, error)

	CreateMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error)
	// MarkRead stamps read_at on all unread messages in the conversation not
	// sent by readerUserID.
	MarkRead(ctx context.Context, conversationID uuid.UUID, readerUserID string) error
	UnreadCount(ctx context.Context, conversationID uuid.UUID, readerUserID string) (int, error)
}
