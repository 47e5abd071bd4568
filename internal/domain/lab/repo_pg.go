package lab

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// queryable abstracts pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const labColumns = `id, name, email, license_number, address, contact, status, subscription, settings, created_at, updated_at`

func scanLab(row pgx.Row) (*Lab, error) {
	var l Lab
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.LicenseNumber, &l.Address, &l.Contact,
		&l.Status, &l.Subscription, &l.Settings, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repoPG) Create(ctx context.Context, l *Lab) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.Email = strings.ToLower(l.Email)

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab (id, name, email, license_number, address, contact, status, subscription, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.Name, l.Email, l.LicenseNumber, l.Address, l.Contact, l.Status, l.Subscription, l.Settings)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Lab, error) {
	return scanLab(r.conn(ctx).QueryRow(ctx,
		`SELECT `+labColumns+` FROM lab WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, l *Lab) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab SET
			name = $2, email = $3, license_number = $4, address = $5, contact = $6,
			status = $7, settings = $8, updated_at = NOW()
		WHERE id = $1`,
		l.ID, l.Name, strings.ToLower(l.Email), l.LicenseNumber, l.Address, l.Contact,
		l.Status, l.Settings)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) UpdateSubscription(ctx context.Context, id uuid.UUID, s Subscription) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE lab SET subscription = $2, updated_at = NOW() WHERE id = $1`, id, s)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM lab WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Lab, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+labColumns+` FROM lab ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var labs []*Lab
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, 0, err
		}
		labs = append(labs, l)
	}
	return labs, total, rows.Err()
}

func (r *repoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lab WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *repoPG) subscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	var s Subscription
	err := r.conn(ctx).QueryRow(ctx, `SELECT subscription FROM lab WHERE id = $1`, id).Scan(&s)
	return s, err
}

func (r *repoPG) UserLimit(ctx context.Context, id uuid.UUID) (int, error) {
	s, err := r.subscription(ctx, id)
	if err != nil {
		return 0, err
	}
	return LimitsForTier(s).Users, nil
}

func (r *repoPG) ReportLimit(ctx context.Context, id uuid.UUID) (int, error) {
	s, err := r.subscription(ctx, id)
	if err != nil {
		return 0, err
	}
	return LimitsForTier(s).ReportsPerMonth, nil
}

func (r *repoPG) ReportBranding(ctx context.Context, id uuid.UUID) (name, header, footer string, err error) {
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT name,
		       COALESCE(settings->>'report_header', ''),
		       COALESCE(settings->>'report_footer', '')
		FROM lab WHERE id = $1`, id).Scan(&name, &header, &footer)
	return name, header, footer, err
}
