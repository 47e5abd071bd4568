package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/tenant"
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

const userColumns = `id, lab_id, name, email, password_hash, role, status, last_login, reset_token_hash, reset_token_expires, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u     User
		labID *uuid.UUID
	)
	err := row.Scan(&u.ID, &labID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Status,
		&u.LastLogin, &u.ResetTokenHash, &u.ResetTokenExpires, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if labID != nil {
		u.LabID = *labID
	}
	return &u, nil
}

// nullableID maps the zero UUID to SQL NULL. Super admins have no lab, and
// lab_id is a nullable foreign key.
func nullableID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// -- Credential path (global) --

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM app_user WHERE email = $1`, strings.ToLower(email)))
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM app_user WHERE id = $1`, id))
}

func (r *repoPG) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE app_user SET last_login = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

func (r *repoPG) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expires time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE app_user SET reset_token_hash = $2, reset_token_expires = $3, updated_at = NOW() WHERE id = $1`,
		id, tokenHash, expires)
	return err
}

func (r *repoPG) GetByResetToken(ctx context.Context, tokenHash string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM app_user WHERE reset_token_hash = $1 AND reset_token_expires > NOW()`,
		tokenHash))
}

func (r *repoPG) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE app_user
		SET password_hash = $2, reset_token_hash = NULL, reset_token_expires = NULL, updated_at = NOW()
		WHERE id = $1`, id, passwordHash)
	return err
}

// -- Tenant-scoped --

func (r *repoPG) Create(ctx context.Context, u *User) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if u.LabID == uuid.Nil && !scope.AllLabs() {
		u.LabID = scope.LabID
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = strings.ToLower(u.Email)

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO app_user (id, lab_id, name, email, password_hash, role, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, nullableID(u.LabID), u.Name, u.Email, u.PasswordHash, u.Role, u.Status)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + userColumns + ` FROM app_user WHERE id = $1`
	args := []interface{}{id}
	if !scope.AllLabs() {
		query += ` AND lab_id = $2`
		args = append(args, scope.LabID)
	}
	return scanUser(r.conn(ctx).QueryRow(ctx, query, args...))
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	query := `UPDATE app_user SET name = $2, email = $3, status = $4, updated_at = NOW() WHERE id = $1`
	args := []interface{}{u.ID, u.Name, strings.ToLower(u.Email), u.Status}
	if !scope.AllLabs() {
		query += ` AND lab_id = $5`
		args = append(args, scope.LabID)
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) UpdateRole(ctx context.Context, id uuid.UUID, role auth.Role) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	query := `UPDATE app_user SET role = $2, updated_at = NOW() WHERE id = $1`
	args := []interface{}{id, role}
	if !scope.AllLabs() {
		query += ` AND lab_id = $3`
		args = append(args, scope.LabID)
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	query := `DELETE FROM app_user WHERE id = $1`
	args := []interface{}{id}
	if !scope.AllLabs() {
		query += ` AND lab_id = $2`
		args = append(args, scope.LabID)
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, role auth.Role, limit, offset int) ([]*User, int, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if !scope.AllLabs() {
		where += fmt.Sprintf(` AND lab_id = $%d`, idx)
		args = append(args, scope.LabID)
		idx++
	}
	if role != "" {
		where += fmt.Sprintf(` AND role = $%d`, idx)
		args = append(args, role)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM app_user`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM app_user` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *repoPG) CountByLab(ctx context.Context, labID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM app_user WHERE lab_id = $1`, labID).Scan(&n)
	return n, err
}

func (r *repoPG) CountActiveByLab(ctx context.Context, labID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM app_user WHERE lab_id = $1 AND status = $2`, labID, StatusActive).Scan(&n)
	return n, err
}

func (r *repoPG) CountsByRole(ctx context.Context, labID uuid.UUID) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT role, COUNT(*) FROM app_user WHERE lab_id = $1 GROUP BY role`, labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[role] = n
	}
	return counts, rows.Err()
}
