package patient

import (
	"context"
	"fmt"

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

const patientColumns = `id, lab_id, patient_id, name, age, gender, phone, email, address, blood_group, medical_history, emergency_contact, registered_by, status, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.LabID, &p.PatientID, &p.Name, &p.Age, &p.Gender, &p.Phone,
		&p.Email, &p.Address, &p.BloodGroup, &p.MedicalHistory, &p.EmergencyContact,
		&p.RegisteredBy, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if p.LabID == uuid.Nil && !scope.AllLabs() {
		p.LabID = scope.LabID
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, lab_id, patient_id, name, age, gender, phone, email, address, blood_group, medical_history, emergency_contact, registered_by, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.LabID, p.PatientID, p.Name, p.Age, p.Gender, p.Phone, p.Email, p.Address,
		p.BloodGroup, p.MedicalHistory, p.EmergencyContact, p.RegisteredBy, p.Status)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + patientColumns + ` FROM patient WHERE id = $1`
	args := []interface{}{id}
	if !scope.AllLabs() {
		query += ` AND lab_id = $2`
		args = append(args, scope.LabID)
	}
	return scanPatient(r.conn(ctx).QueryRow(ctx, query, args...))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	query := `
		UPDATE patient
		SET name = $2, age = $3, gender = $4, phone = $5, email = $6, address = $7,
		    blood_group = $8, medical_history = $9, emergency_contact = $10, status = $11,
		    updated_at = NOW()
		WHERE id = $1`
	args := []interface{}{p.ID, p.Name, p.Age, p.Gender, p.Phone, p.Email, p.Address,
		p.BloodGroup, p.MedicalHistory, p.EmergencyContact, p.Status}
	if !scope.AllLabs() {
		query += ` AND lab_id = $12`
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
	query := `DELETE FROM patient WHERE id = $1`
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

func (r *repoPG) List(ctx context.Context, status Status, limit, offset int) ([]*Patient, int, error) {
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
	if status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + patientColumns + ` FROM patient` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func (r *repoPG) Search(ctx context.Context, q string, limit int) ([]*Patient, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	where := ` WHERE (name ILIKE $1 OR phone = $2 OR patient_id = $3)`
	args := []interface{}{"%" + q + "%", q, q}
	if !scope.AllLabs() {
		where += ` AND lab_id = $4`
		args = append(args, scope.LabID)
	}

	query := `SELECT ` + patientColumns + ` FROM patient` + where +
		fmt.Sprintf(` ORDER BY name LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}
