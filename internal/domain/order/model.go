package order

import (
	"time"
)

// Status is the lifecycle state of an Order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Patient maps to the patient table. Rows are never updated after insert.
type Patient struct {
	ID             int64     `db:"id" json:"id"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	MRN            string    `db:"mrn" json:"mrn"`
	Diagnosis      string    `db:"diagnosis" json:"diagnosis"`
	MedicalHistory string    `db:"medical_history" json:"medical_history"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

func (p *Patient) DisplayName() string {
	return p.FirstName + " " + p.LastName
}

// Provider maps to the provider table. Rows are never updated after insert.
type Provider struct {
	ID        int64     `db:"id" json:"id"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	NPI       string    `db:"npi" json:"npi"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (p *Provider) DisplayName() string {
	return "Dr. " + p.FirstName + " " + p.LastName
}

// Order maps to the care_order table. CarePlan holds the generated plan when
// Status is completed and the failure description when it is failed.
type Order struct {
	ID         int64     `db:"id" json:"id"`
	PatientID  int64     `db:"patient_id" json:"patient_id"`
	ProviderID int64     `db:"provider_id" json:"provider_id"`
	Medication string    `db:"medication" json:"medication"`
	Status     Status    `db:"status" json:"status"`
	CarePlan   string    `db:"care_plan" json:"care_plan"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	// Loaded by the store on reads.
	Patient  *Patient  `db:"-" json:"-"`
	Provider *Provider `db:"-" json:"-"`
}

// PlanText returns the care plan and true only for completed orders.
func (o *Order) PlanText() (string, bool) {
	if o.Status != StatusCompleted {
		return "", false
	}
	return o.CarePlan, true
}

// OrderDetail is the read model returned for a single order.
type OrderDetail struct {
	OrderID    int64     `json:"order_id"`
	Status     Status    `json:"status"`
	Patient    string    `json:"patient"`
	Provider   string    `json:"provider"`
	Medication string    `json:"medication"`
	CreatedAt  time.Time `json:"created_at"`
	CarePlan   *string   `json:"care_plan,omitempty"`
}

// OrderSummary is one search hit.
type OrderSummary struct {
	OrderID    int64     `json:"order_id"`
	Status     Status    `json:"status"`
	Patient    string    `json:"patient"`
	MRN        string    `json:"mrn"`
	Medication string    `json:"medication"`
	CreatedAt  time.Time `json:"created_at"`
}

func newDetail(o *Order) *OrderDetail {
	d := &OrderDetail{
		OrderID:    o.ID,
		Status:     o.Status,
		Medication: o.Medication,
		CreatedAt:  o.CreatedAt,
	}
	if o.Patient != nil {
		d.Patient = o.Patient.DisplayName()
	}
	if o.Provider != nil {
		d.Provider = o.Provider.DisplayName()
	}
	if plan, ok := o.PlanText(); ok {
		d.CarePlan = &plan
	}
	return d
}

func newSummary(o *Order) OrderSummary {
	s := OrderSummary{
		OrderID:    o.ID,
		Status:     o.Status,
		Medication: o.Medication,
		CreatedAt:  o.CreatedAt,
	}
	if o.Patient != nil {
		s.Patient = o.Patient.DisplayName()
		s.MRN = o.Patient.MRN
	}
	return s
}
