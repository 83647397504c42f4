package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type patientRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	FirstName      string    `gorm:"size:100;not null"`
	LastName       string    `gorm:"size:100;not null"`
	MRN            string    `gorm:"column:mrn;size:50;not null;index:idx_patient_mrn"`
	Diagnosis      string    `gorm:"type:text;not null"`
	MedicalHistory string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (patientRow) TableName() string { return "patient" }

type providerRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	FirstName string    `gorm:"size:100;not null"`
	LastName  string    `gorm:"size:100;not null"`
	NPI       string    `gorm:"column:npi;size:20;not null;index:idx_provider_npi"`
	CreatedAt time.Time `gorm:"not null"`
}

func (providerRow) TableName() string { return "provider" }

type orderRow struct {
	ID         int64       `gorm:"primaryKey;autoIncrement"`
	PatientID  int64       `gorm:"not null;index"`
	Patient    patientRow  `gorm:"constraint:OnDelete:CASCADE"`
	ProviderID int64       `gorm:"not null;index"`
	Provider   providerRow `gorm:"constraint:OnDelete:CASCADE"`
	Medication string      `gorm:"size:200;not null"`
	Status     string      `gorm:"size:20;not null;index"`
	CarePlan   string      `gorm:"type:text;not null"`
	CreatedAt  time.Time   `gorm:"not null"`
	UpdatedAt  time.Time   `gorm:"not null"`
}

func (orderRow) TableName() string { return "care_order" }

// AutoMigrate creates or updates the tables used by the gorm store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&patientRow{},
		&providerRow{},
		&orderRow{},
	)
}

type storeGorm struct {
	db *gorm.DB
}

// NewStoreGorm returns a Store backed by gorm. It is used with SQLite for
// embedded deployments and tests.
func NewStoreGorm(db *gorm.DB) Store {
	return &storeGorm{db: db}
}

func (r *storeGorm) FindOrCreatePatient(ctx context.Context, mrn string, defaults Patient) (*Patient, error) {
	var row patientRow
	err := r.db.WithContext(ctx).
		Where("mrn = ?", mrn).
		Attrs(patientRow{
			FirstName:      defaults.FirstName,
			LastName:       defaults.LastName,
			MRN:            mrn,
			Diagnosis:      defaults.Diagnosis,
			MedicalHistory: defaults.MedicalHistory,
		}).
		FirstOrCreate(&row).Error
	if err != nil {
		return nil, fmt.Errorf("find or create patient: %w", err)
	}
	return row.toPatient(), nil
}

func (r *storeGorm) FindOrCreateProvider(ctx context.Context, npi string, defaults Provider) (*Provider, error) {
	var row providerRow
	err := r.db.WithContext(ctx).
		Where("npi = ?", npi).
		Attrs(providerRow{
			FirstName: defaults.FirstName,
			LastName:  defaults.LastName,
			NPI:       npi,
		}).
		FirstOrCreate(&row).Error
	if err != nil {
		return nil, fmt.Errorf("find or create provider: %w", err)
	}
	return row.toProvider(), nil
}

func (r *storeGorm) CreateOrder(ctx context.Context, o *Order) error {
	row := orderRow{
		PatientID:  o.PatientID,
		ProviderID: o.ProviderID,
		Medication: o.Medication,
		Status:     string(o.Status),
		CarePlan:   o.CarePlan,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return err
	}
	o.ID = row.ID
	o.CreatedAt = row.CreatedAt
	o.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *storeGorm) UpdateOrder(ctx context.Context, o *Order) error {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&orderRow{}).
		Where("id = ?", o.ID).
		Updates(map[string]interface{}{
			"status":     string(o.Status),
			"care_plan":  o.CarePlan,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	o.UpdatedAt = now
	return nil
}

func (r *storeGorm) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var row orderRow
	err := r.db.WithContext(ctx).
		Preload("Patient").
		Preload("Provider").
		First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return row.toOrder(), nil
}

func (r *storeGorm) SearchOrders(ctx context.Context, text string) ([]*Order, error) {
	pattern := containsPattern(text)
	matching := r.db.Model(&patientRow{}).
		Select("id").
		Where(`unicode_lower(first_name) LIKE unicode_lower(?) ESCAPE '\' OR unicode_lower(last_name) LIKE unicode_lower(?) ESCAPE '\' OR unicode_lower(mrn) LIKE unicode_lower(?) ESCAPE '\'`,
			pattern, pattern, pattern)

	var rows []orderRow
	err := r.db.WithContext(ctx).
		Preload("Patient").
		Preload("Provider").
		Where("patient_id IN (?)", matching).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	items := make([]*Order, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].toOrder())
	}
	return items, nil
}

func (r *patientRow) toPatient() *Patient {
	return &Patient{
		ID:             r.ID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		MRN:            r.MRN,
		Diagnosis:      r.Diagnosis,
		MedicalHistory: r.MedicalHistory,
		CreatedAt:      r.CreatedAt,
	}
}

func (r *providerRow) toProvider() *Provider {
	return &Provider{
		ID:        r.ID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		NPI:       r.NPI,
		CreatedAt: r.CreatedAt,
	}
}

func (r *orderRow) toOrder() *Order {
	return &Order{
		ID:         r.ID,
		PatientID:  r.PatientID,
		ProviderID: r.ProviderID,
		Medication: r.Medication,
		Status:     Status(r.Status),
		CarePlan:   r.CarePlan,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Patient:    r.Patient.toPatient(),
		Provider:   r.Provider.toProvider(),
	}
}
