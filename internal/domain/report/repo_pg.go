package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/tenant"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

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

const reportColumns = `id, lab_id, report_id, patient_id, test_type, category, priority, status, assigned_to, created_by, results, comments, attachments, verified_by, verified_at, completed_at, delivered_at, delivery_method, version, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	err := row.Scan(&rep.ID, &rep.LabID, &rep.ReportID, &rep.PatientID, &rep.TestType,
		&rep.Category, &rep.Priority, &rep.Status, &rep.AssignedTo, &rep.CreatedBy,
		&rep.Results, &rep.Comments, &rep.Attachments, &rep.VerifiedBy, &rep.VerifiedAt,
		&rep.CompletedAt, &rep.DeliveredAt, &rep.DeliveryMethod, &rep.Version,
		&rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *repoPG) Create(ctx context.Context, rep *Report) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if rep.LabID == uuid.Nil && !scope.AllLabs() {
		rep.LabID = scope.LabID
	}
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	rep.Version = 1

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO report (id, lab_id, report_id, patient_id, test_type, category, priority, status, assigned_to, created_by, results, comments, attachments, delivery_method, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rep.ID, rep.LabID, rep.ReportID, rep.PatientID, rep.TestType, rep.Category,
		rep.Priority, rep.Status, rep.AssignedTo, rep.CreatedBy, rep.Results,
		rep.Comments, rep.Attachments, rep.DeliveryMethod, rep.Version)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + reportColumns + ` FROM report WHERE id = $1`
	args := []interface{}{id}
	if !scope.AllLabs() {
		query += ` AND lab_id = $2`
		args = append(args, scope.LabID)
	}
	return scanReport(r.conn(ctx).QueryRow(ctx, query, args...))
}

func (r *repoPG) Update(ctx context.Context, rep *Report) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	query := `
		UPDATE report
		SET test_type = $2, category = $3, priority = $4, status = $5, assigned_to = $6,
		    results = $7, comments = $8, attachments = $9, verified_by = $10, verified_at = $11,
		    completed_at = $12, delivered_at = $13, delivery_method = $14, version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $15`
	args := []interface{}{rep.ID, rep.TestType, rep.Category, rep.Priority, rep.Status,
		rep.AssignedTo, rep.Results, rep.Comments, rep.Attachments, rep.VerifiedBy,
		rep.VerifiedAt, rep.CompletedAt, rep.DeliveredAt, rep.DeliveryMethod, rep.Version}
	if !scope.AllLabs() {
		query += ` AND lab_id = $16`
		args = append(args, scope.LabID)
	}

	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a stale version from a missing (or foreign) row.
		if _, err := r.Get(ctx, rep.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	rep.Version++
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	query := `DELETE FROM report WHERE id = $1`
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

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error) {
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
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Priority != "" {
		where += fmt.Sprintf(` AND priority = $%d`, idx)
		args = append(args, f.Priority)
		idx++
	}
	if f.TestType != "" {
		where += fmt.Sprintf(` AND test_type ILIKE $%d`, idx)
		args = append(args, f.TestType)
		idx++
	}
	if f.PatientID != uuid.Nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.AssignedTo != uuid.Nil {
		where += fmt.Sprintf(` AND assigned_to = $%d`, idx)
		args = append(args, f.AssignedTo)
		idx++
	}
	if !f.From.IsZero() {
		where += fmt.Sprintf(` AND created_at >= $%d`, idx)
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		where += fmt.Sprintf(` AND created_at < $%d`, idx)
		args = append(args, f.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM report`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + reportColumns + ` FROM report` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, rep)
	}
	return reports, total, rows.Err()
}

func (r *repoPG) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	where := ``
	var args []interface{}
	if !scope.AllLabs() {
		where = ` WHERE lab_id = $1`
		args = append(args, scope.LabID)
	}

	st := &Stats{ByStatus: make(map[string]int)}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM report`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.ByStatus[status] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	monthWhere := ` WHERE created_at >= $1`
	monthArgs := []interface{}{since}
	if !scope.AllLabs() {
		monthWhere += ` AND lab_id = $2`
		monthArgs = append(monthArgs, scope.LabID)
	}
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM report`+monthWhere, monthArgs...).Scan(&st.ThisMonth); err != nil {
		return nil, err
	}

	turnWhere := ` WHERE delivered_at IS NOT NULL`
	var turnArgs []interface{}
	if !scope.AllLabs() {
		turnWhere += ` AND lab_id = $1`
		turnArgs = append(turnArgs, scope.LabID)
	}
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM delivered_at - created_at) / 3600) FROM report`+turnWhere,
		turnArgs...).Scan(&st.AvgTurnaroundHours); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *repoPG) CountByLab(ctx context.Context, labID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM report WHERE lab_id = $1`, labID).Scan(&n)
	return n, err
}

func (r *repoPG) CountByLabSince(ctx context.Context, labID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM report WHERE lab_id = $1 AND created_at >= $2`, labID, since).Scan(&n)
	return n, err
}

func (r *repoPG) CountsByStatus(ctx context.Context, labID uuid.UUID) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM report WHERE lab_id = $1 GROUP BY status`, labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
