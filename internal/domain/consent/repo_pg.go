package consent

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

type consentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &consentRepoPG{pool: pool}
}

func (r *consentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const grantCols = `id, doctor_user_id, patient_id, status, transaction_id,
	decided_at, created_at, updated_at`

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.DoctorUserID, &g.PatientID, &g.Status, &g.TransactionID,
		&g.DecidedAt, &g.CreatedAt, &g.UpdatedAt)
	return &g, err
}

func (r *consentRepoPG) Create(ctx context.Context, g *Grant) error {
	g.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_grant (id, doctor_user_id, patient_id, status, transaction_id)
		VALUES ($1,$2,$3,$4,$5)`,
		g.ID, g.DoctorUserID, g.PatientID, g.Status, g.TransactionID)
	return err
}

func (r *consentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	g, err := scanGrant(r.conn(ctx).QueryRow(ctx,
		`SELECT `+grantCols+` FROM consent_grant WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *consentRepoPG) FindActive(ctx context.Context, doctorUserID string, patientID uuid.UUID) (*Grant, error) {
	g, err := scanGrant(r.conn(ctx).QueryRow(ctx, `
		SELECT `+grantCols+` FROM consent_grant
		WHERE doctor_user_id = $1 AND patient_id = $2 AND status IN ('pending','granted')
		ORDER BY created_at DESC
		LIMIT 1`, doctorUserID, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *consentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_grant SET status=$2, decided_at=NOW(), updated_at=NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *consentRepoPG) list(ctx context.Context, query string, arg any) ([]*Grant, error) {
	rows, err := r.conn(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, nil
}

func (r *consentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Grant, error) {
	return r.list(ctx,
		`SELECT `+grantCols+` FROM consent_grant WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID)
}

func (r *consentRepoPG) ListByDoctor(ctx context.Context, doctorUserID string) ([]*Grant, error) {
	return r.list(ctx,
		`SELECT `+grantCols+` FROM consent_grant WHERE doctor_user_id = $1 ORDER BY created_at DESC`,
		doctorUserID)
}
