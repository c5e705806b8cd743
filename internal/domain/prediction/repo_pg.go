package prediction

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

type predictionRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &predictionRepoPG{pool: pool}
}

func (r *predictionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const predCols = `id, patient_id, created_by, heart_rate, systolic_bp, diastolic_bp,
	glucose_mgdl, temperature_c, risk, category, score, transaction_id, created_at`

func scanPrediction(row pgx.Row) (*Prediction, error) {
	var p Prediction
	var txID *string
	err := row.Scan(&p.ID, &p.PatientID, &p.CreatedBy,
		&p.Input.HeartRate, &p.Input.SystolicBP, &p.Input.DiastolicBP,
		&p.Input.GlucoseMgdl, &p.Input.TemperatureC,
		&p.Risk, &p.Category, &p.Score, &txID, &p.CreatedAt)
	if txID != nil {
		p.TransactionID = *txID
	}
	return &p, err
}

func (r *predictionRepoPG) Create(ctx context.Context, p *Prediction) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prediction (id, patient_id, created_by, heart_rate, systolic_bp,
			diastolic_bp, glucose_mgdl, temperature_c, risk, category, score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		p.ID, p.PatientID, p.CreatedBy,
		p.Input.HeartRate, p.Input.SystolicBP, p.Input.DiastolicBP,
		p.Input.GlucoseMgdl, p.Input.TemperatureC,
		p.Risk, p.Category, p.Score).Scan(&p.CreatedAt)
	return err
}

func (r *predictionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prediction, error) {
	p, err := scanPrediction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+predCols+` FROM prediction WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *predictionRepoPG) SetTransactionID(ctx context.Context, id uuid.UUID, transactionID string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prediction SET transaction_id=$2 WHERE id = $1 AND transaction_id IS NULL`,
		id, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *predictionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prediction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prediction WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+predCols+` FROM prediction WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}
