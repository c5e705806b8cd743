package messaging

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careledger/portal/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type messagingRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &messagingRepoPG{pool: pool}
}

func (r *messagingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const convCols = `id, patient_id, doctor_id, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.PatientID, &c.DoctorID, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *messagingRepoPG) CreateConversation(ctx context.Context, conv *Conversation) error {
	conv.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO conversation (id, patient_id, doctor_id)
		VALUES ($1,$2,$3)`,
		conv.ID, conv.PatientID, conv.DoctorID)
	return err
}

func (r *messagingRepoPG) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c, err := scanConversation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+convCols+` FROM conversation WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *messagingRepoPG) FindConversation(ctx context.Context, patientID, doctorID uuid.UUID) (*Conversation, error) {
	c, err := scanConversation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+convCols+` FROM conversation WHERE patient_id = $1 AND doctor_id = $2`,
		patientID, doctorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *messagingRepoPG) listConversations(ctx context.Context, col string, id uuid.UUID) ([]*Conversation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+convCols+` FROM conversation WHERE `+col+` = $1 ORDER BY updated_at DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, nil
}

func (r *messagingRepoPG) ListConversationsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Conversation, error) {
	return r.listConversations(ctx, "patient_id", patientID)
}

func (r *messagingRepoPG) ListConversationsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Conversation, error) {
	return r.listConversations(ctx, "doctor_id", doctorID)
}

const messageCols = `id, conversation_id, sender_user_id, body, read_at, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderUserID, &m.Body, &m.ReadAt, &m.CreatedAt)
	return &m, err
}

func (r *messagingRepoPG) CreateMessage(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO message (id, conversation_id, sender_user_id, body)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		m.ID, m.ConversationID, m.SenderUserID, m.Body).Scan(&m.CreatedAt)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx,
		`UPDATE conversation SET updated_at=NOW() WHERE id = $1`, m.ConversationID)
	return err
}

func (r *messagingRepoPG) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM message WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+messageCols+` FROM message WHERE conversation_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, nil
}

func (r *messagingRepoPG) MarkRead(ctx context.Context, conversationID uuid.UUID, readerUserID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE message SET read_at=NOW()
		WHERE conversation_id = $1 AND sender_user_id <> $2 AND read_at IS NULL`,
		conversationID, readerUserID)
	return err
}

func (r *messagingRepoPG) UnreadCount(ctx context.Context, conversationID uuid.UUID, readerUserID string) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM message
		WHERE conversation_id = $1 AND sender_user_id <> $2 AND read_at IS NULL`,
		conversationID, readerUserID).Scan(&count)
	return count, err
}
