package notes

import (
	"context"
	"errors"
	"time"

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

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &noteRepoPG{pool: pool}
}

func (r *noteRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const noteCols = `id, appointment_id, patient_id, doctor_id, diagnosis, recommendations,
	status, transaction_id, finalized_at, created_at, updated_at`

func scanNote(row pgx.Row) (*ConsultationNote, error) {
	var n ConsultationNote
	var txID *string
	err := row.Scan(&n.ID, &n.AppointmentID, &n.PatientID, &n.DoctorID,
		&n.Diagnosis, &n.Recommendations, &n.Status, &txID,
		&n.FinalizedAt, &n.CreatedAt, &n.UpdatedAt)
	if txID != nil {
		n.TransactionID = *txID
	}
	return &n, err
}

func (r *noteRepoPG) Create(ctx context.Context, n *ConsultationNote) error {
	n.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultation_note (id, appointment_id, patient_id, doctor_id,
			diagnosis, recommendations, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		n.ID, n.AppointmentID, n.PatientID, n.DoctorID,
		n.Diagnosis, n.Recommendations, n.Status).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ConsultationNote, error) {
	n, err := scanNote(r.conn(ctx).QueryRow(ctx,
		`SELECT `+noteCols+` FROM consultation_note WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *noteRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*ConsultationNote, error) {
	n, err := scanNote(r.conn(ctx).QueryRow(ctx,
		`SELECT `+noteCols+` FROM consultation_note WHERE appointment_id = $1`, appointmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *noteRepoPG) UpdateContent(ctx context.Context, id uuid.UUID, diagnosis, recommendations string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultation_note SET diagnosis=$2, recommendations=$3, updated_at=now()
		WHERE id = $1 AND status = 'draft'`,
		id, diagnosis, recommendations)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *noteRepoPG) Finalize(ctx context.Context, id uuid.UUID, finalizedAt time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultation_note SET status='final', finalized_at=$2, updated_at=now()
		WHERE id = $1 AND status = 'draft'`,
		id, finalizedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *noteRepoPG) SetTransactionID(ctx context.Context, id uuid.UUID, transactionID string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE consultation_note SET transaction_id=$2, updated_at=now()
		 WHERE id = $1 AND transaction_id IS NULL`,
		id, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *noteRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, onlyFinal bool, limit, offset int) ([]*ConsultationNote, int, error) {
	filter := `patient_id = $1`
	if onlyFinal {
		filter += ` AND status = 'final'`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation_note WHERE `+filter, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+noteCols+` FROM consultation_note WHERE `+filter+
			` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectNotes(rows, total)
}

func (r *noteRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*ConsultationNote, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation_note WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+noteCols+` FROM consultation_note WHERE doctor_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectNotes(rows, total)
}

func collectNotes(rows pgx.Rows, total int) ([]*ConsultationNote, int, error) {
	var items []*ConsultationNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, nil
}
