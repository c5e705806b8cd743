package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careledger/portal/internal/platform/db"
	"github.com/careledger/portal/internal/platform/phi"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// patientRepoPG stores patient profiles, encrypting contact fields when an
// encryptor is configured. A nil encryptor stores plaintext (development).
type patientRepoPG struct {
	pool *pgxpool.Pool
	enc  *phi.Encryptor
}

func NewPatientRepoPG(pool *pgxpool.Pool, enc *phi.Encryptor) PatientRepository {
	return &patientRepoPG{pool: pool, enc: enc}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *patientRepoPG) sealContact(p *Patient) (email, phone, address string, err error) {
	if r.enc == nil {
		return p.Email, p.Phone, p.Address, nil
	}
	if email, err = r.enc.EncryptString(p.Email); err != nil {
		return "", "", "", fmt.Errorf("encrypt email: %w", err)
	}
	if phone, err = r.enc.EncryptString(p.Phone); err != nil {
		return "", "", "", fmt.Errorf("encrypt phone: %w", err)
	}
	if address, err = r.enc.EncryptString(p.Address); err != nil {
		return "", "", "", fmt.Errorf("encrypt address: %w", err)
	}
	return email, phone, address, nil
}

func (r *patientRepoPG) openContact(p *Patient) error {
	if r.enc == nil {
		return nil
	}
	var err error
	if p.Email, err = r.enc.DecryptString(p.Email); err != nil {
		return fmt.Errorf("decrypt email: %w", err)
	}
	if p.Phone, err = r.enc.DecryptString(p.Phone); err != nil {
		return fmt.Errorf("decrypt phone: %w", err)
	}
	if p.Address, err = r.enc.DecryptString(p.Address); err != nil {
		return fmt.Errorf("decrypt address: %w", err)
	}
	return nil
}

const patientCols = `id, user_id, first_name, last_name, date_of_birth, gender,
	email, phone, address, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender,
		&p.Email, &p.Phone, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	email, phone, address, err := r.sealContact(p)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, user_id, first_name, last_name, date_of_birth, gender,
			email, phone, address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.UserID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender,
		email, phone, address)
	return err
}

func (r *patientRepoPG) getOne(ctx context.Context, query string, arg any) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.openContact(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id)
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID string) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patient WHERE user_id = $1`, userID)
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	email, phone, address, err := r.sealContact(p)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE patient SET first_name=$2, last_name=$3, date_of_birth=$4, gender=$5,
			email=$6, phone=$7, address=$8, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender,
		email, phone, address)
	return err
}

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const doctorCols = `id, user_id, first_name, last_name, specialty, license_number,
	email, phone, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.FirstName, &d.LastName, &d.Specialty, &d.LicenseNumber,
		&d.Email, &d.Phone, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor (id, user_id, first_name, last_name, specialty, license_number,
			email, phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.UserID, d.FirstName, d.LastName, d.Specialty, d.LicenseNumber,
		d.Email, d.Phone)
	return err
}

func (r *doctorRepoPG) getOne(ctx context.Context, query string, arg any) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.getOne(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id)
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID string) (*Doctor, error) {
	return r.getOne(ctx, `SELECT `+doctorCols+` FROM doctor WHERE user_id = $1`, userID)
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor SET first_name=$2, last_name=$3, specialty=$4, license_number=$5,
			email=$6, phone=$7, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.FirstName, d.LastName, d.Specialty, d.LicenseNumber,
		d.Email, d.Phone)
	return err
}

func (r *doctorRepoPG) List(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	where := ``
	args := []any{limit, offset}
	countArgs := []any{}
	if specialty != "" {
		where = ` WHERE specialty = $3`
		args = append(args, specialty)
		countArgs = append(countArgs, specialty)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM doctor`
	if specialty != "" {
		countQuery += ` WHERE specialty = $1`
	}
	if err := r.conn(ctx).QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+doctorCols+` FROM doctor`+where+` ORDER BY last_name, first_name LIMIT $1 OFFSET $2`,
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, nil
}
