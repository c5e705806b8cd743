package ledger

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

type ledgerRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &ledgerRepoPG{pool: pool}
}

func (r *ledgerRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, transaction_id, patient_id, author_id, payload_hash,
	previous_hash, prediction_id, note_id, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.TransactionID, &e.PatientID, &e.AuthorID, &e.PayloadHash,
		&e.PreviousHash, &e.PredictionID, &e.NoteID, &e.CreatedAt)
	return &e, err
}

func (r *ledgerRepoPG) Append(ctx context.Context, e *Entry) error {
	// Inside an enclosing transaction the insert runs in a savepoint, so a
	// duplicate transaction id can be retried without aborting the caller's
	// transaction.
	if tx := db.TxFromContext(ctx); tx != nil {
		nested, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		if err := r.append(ctx, nested, e); err != nil {
			_ = nested.Rollback(ctx)
			return err
		}
		return nested.Commit(ctx)
	}
	return r.append(ctx, r.conn(ctx), e)
}

func (r *ledgerRepoPG) append(ctx context.Context, q queryable, e *Entry) error {
	e.ID = uuid.New()
	err := q.QueryRow(ctx, `
		INSERT INTO ledger_entry (id, transaction_id, patient_id, author_id,
			payload_hash, previous_hash, prediction_id, note_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		e.ID, e.TransactionID, e.PatientID, e.AuthorID,
		e.PayloadHash, e.PreviousHash, e.PredictionID, e.NoteID).Scan(&e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTransactionID
		}
		return err
	}
	return nil
}

func (r *ledgerRepoPG) GetByTransactionID(ctx context.Context, transactionID string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM ledger_entry WHERE transaction_id = $1`, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *ledgerRepoPG) LatestHashForSubject(ctx context.Context, patientID uuid.UUID) (*string, error) {
	var hash string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT payload_hash FROM ledger_entry
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, patientID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hash, nil
}
