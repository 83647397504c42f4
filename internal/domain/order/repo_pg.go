package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct{ db queryable }

// NewStorePG returns a Store backed by PostgreSQL.
func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{db: pool}
}

const patientCols = `id, first_name, last_name, mrn, diagnosis, medical_history, created_at`

const providerCols = `id, first_name, last_name, npi, created_at`

// orderJoin selects an order with its patient and provider in one row.
const orderJoin = `SELECT o.id, o.patient_id, o.provider_id, o.medication, o.status, o.care_plan,
		o.created_at, o.updated_at,
		p.id, p.first_name, p.last_name, p.mrn, p.diagnosis, p.medical_history, p.created_at,
		pr.id, pr.first_name, pr.last_name, pr.npi, pr.created_at
	FROM care_order o
	JOIN patient p ON p.id = o.patient_id
	JOIN provider pr ON pr.id = o.provider_id`

func (r *storePG) FindOrCreatePatient(ctx context.Context, mrn string, defaults Patient) (*Patient, error) {
	var p Patient
	err := r.db.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE mrn = $1 ORDER BY id LIMIT 1`, mrn).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.MRN, &p.Diagnosis, &p.MedicalHistory, &p.CreatedAt)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find patient by mrn: %w", err)
	}

	p = defaults
	p.MRN = mrn
	err = r.db.QueryRow(ctx, `
		INSERT INTO patient (first_name, last_name, mrn, diagnosis, medical_history)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		p.FirstName, p.LastName, p.MRN, p.Diagnosis, p.MedicalHistory).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return &p, nil
}

func (r *storePG) FindOrCreateProvider(ctx context.Context, npi string, defaults Provider) (*Provider, error) {
	var p Provider
	err := r.db.QueryRow(ctx, `SELECT `+providerCols+` FROM provider WHERE npi = $1 ORDER BY id LIMIT 1`, npi).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.NPI, &p.CreatedAt)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find provider by npi: %w", err)
	}

	p = defaults
	p.NPI = npi
	err = r.db.QueryRow(ctx, `
		INSERT INTO provider (first_name, last_name, npi)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		p.FirstName, p.LastName, p.NPI).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert provider: %w", err)
	}
	return &p, nil
}

func (r *storePG) CreateOrder(ctx context.Context, o *Order) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO care_order (patient_id, provider_id, medication, status, care_plan)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		o.PatientID, o.ProviderID, o.Medication, string(o.Status), o.CarePlan).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (r *storePG) UpdateOrder(ctx context.Context, o *Order) error {
	err := r.db.QueryRow(ctx, `
		UPDATE care_order SET status = $2, care_plan = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, string(o.Status), o.CarePlan).
		Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *storePG) scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		p      Patient
		pr     Provider
		status string
	)
	err := row.Scan(&o.ID, &o.PatientID, &o.ProviderID, &o.Medication, &status, &o.CarePlan,
		&o.CreatedAt, &o.UpdatedAt,
		&p.ID, &p.FirstName, &p.LastName, &p.MRN, &p.Diagnosis, &p.MedicalHistory, &p.CreatedAt,
		&pr.ID, &pr.FirstName, &pr.LastName, &pr.NPI, &pr.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.Patient = &p
	o.Provider = &pr
	return &o, nil
}

func (r *storePG) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := r.scanOrder(r.db.QueryRow(ctx, orderJoin+` WHERE o.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

func (r *storePG) SearchOrders(ctx context.Context, text string) ([]*Order, error) {
	rows, err := r.db.Query(ctx, orderJoin+`
		WHERE p.first_name ILIKE $1 OR p.last_name ILIKE $1 OR p.mrn ILIKE $1
		ORDER BY o.id`, containsPattern(text))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}
