package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/careplan/careplan/internal/platform/generator"
)

// CarePlanGenerator produces care-plan text for one order.
type CarePlanGenerator interface {
	Generate(ctx context.Context, req generator.Request) (string, error)
}

// Event describes one persisted status change of an order.
type Event struct {
	OrderID     int64
	Status      Status
	PatientMRN  string
	ProviderNPI string
	Medication  string
	At          time.Time
}

// EventPublisher receives order status changes. Failures are logged only.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, e Event) error
}

// Metrics records workflow outcomes.
type Metrics interface {
	OrderFinished(status string)
	GenerationObserved(outcome string, d time.Duration)
}

type Service struct {
	store     Store
	generator CarePlanGenerator
	publisher EventPublisher
	metrics   Metrics
	logger    zerolog.Logger
}

func NewService(store Store, gen CarePlanGenerator, logger zerolog.Logger) *Service {
	return &Service{store: store, generator: gen, logger: logger}
}

// SetPublisher attaches an optional event publisher.
func (s *Service) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// SetMetrics attaches optional workflow metrics.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// Column widths in migrations/001_careplan.sql.
const (
	maxNameLen       = 100
	maxMRNLen        = 50
	maxNPILen        = 20
	maxMedicationLen = 200
)

// CreateOrderInput is the create-order request payload.
type CreateOrderInput struct {
	MRN               string `json:"mrn"`
	PatientFirstName  string `json:"patient_first_name"`
	PatientLastName   string `json:"patient_last_name"`
	Diagnosis         string `json:"diagnosis"`
	MedicalHistory    string `json:"medical_history"`
	NPI               string `json:"npi"`
	ProviderFirstName string `json:"provider_first_name"`
	ProviderLastName  string `json:"provider_last_name"`
	Medication        string `json:"medication"`
}

func (in *CreateOrderInput) normalize() {
	for _, f := range []*string{
		&in.MRN, &in.PatientFirstName, &in.PatientLastName, &in.Diagnosis, &in.MedicalHistory,
		&in.NPI, &in.ProviderFirstName, &in.ProviderLastName, &in.Medication,
	} {
		*f = strings.TrimSpace(*f)
	}
}

// Validate reports every required field that is empty and every field
// longer than its column allows. Lengths are counted in characters.
func (in *CreateOrderInput) Validate() error {
	fields := []struct {
		name   string
		value  string
		maxLen int
	}{
		{"mrn", in.MRN, maxMRNLen},
		{"patient_first_name", in.PatientFirstName, maxNameLen},
		{"patient_last_name", in.PatientLastName, maxNameLen},
		{"npi", in.NPI, maxNPILen},
		{"provider_first_name", in.ProviderFirstName, maxNameLen},
		{"provider_last_name", in.ProviderLastName, maxNameLen},
		{"medication", in.Medication, maxMedicationLen},
	}

	var missing, invalid []string
	for _, f := range fields {
		switch {
		case f.value == "":
			missing = append(missing, f.name)
		case utf8.RuneCountInString(f.value) > f.maxLen:
			invalid = append(invalid, f.name)
		}
	}
	if len(missing) > 0 || len(invalid) > 0 {
		return &ValidationError{Missing: missing, Invalid: invalid}
	}
	return nil
}

// CreateOrder resolves the patient and provider, records a new order and
// generates its care plan synchronously. The returned order is always in a
// terminal status; a generation failure is stored on the order, not returned.
// Patient and provider rows are kept even when a later step fails.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	patient, err := s.store.FindOrCreatePatient(ctx, in.MRN, Patient{
		FirstName:      in.PatientFirstName,
		LastName:       in.PatientLastName,
		MRN:            in.MRN,
		Diagnosis:      in.Diagnosis,
		MedicalHistory: in.MedicalHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve patient: %w", err)
	}

	provider, err := s.store.FindOrCreateProvider(ctx, in.NPI, Provider{
		FirstName: in.ProviderFirstName,
		LastName:  in.ProviderLastName,
		NPI:       in.NPI,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	o := &Order{
		PatientID:  patient.ID,
		ProviderID: provider.ID,
		Medication: in.Medication,
		Status:     StatusPending,
		Patient:    patient,
		Provider:   provider,
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.publish(ctx, o)

	if err := s.advance(ctx, o, StatusProcessing, ""); err != nil {
		return nil, err
	}

	start := time.Now()
	plan, genErr := s.generator.Generate(ctx, generationRequest(patient, provider, o))
	elapsed := time.Since(start)

	// The order must reach a terminal status even if the caller went away.
	ctx = context.WithoutCancel(ctx)

	if genErr != nil {
		s.logger.Warn().
			Err(genErr).
			Int64("order_id", o.ID).
			Dur("elapsed", elapsed).
			Msg("care plan generation failed")
		s.observeGeneration("error", elapsed)
		if err := s.advance(ctx, o, StatusFailed, failureText(genErr)); err != nil {
			return nil, err
		}
	} else {
		s.observeGeneration("success", elapsed)
		if err := s.advance(ctx, o, StatusCompleted, plan); err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.OrderFinished(string(o.Status))
	}
	return o, nil
}

func failureText(err error) string {
	var genErr *generator.GenerationError
	if errors.As(err, &genErr) {
		return genErr.Error()
	}
	return err.Error()
}

func generationRequest(p *Patient, pr *Provider, o *Order) generator.Request {
	return generator.Request{
		PatientFirstName:  p.FirstName,
		PatientLastName:   p.LastName,
		MRN:               p.MRN,
		Diagnosis:         p.Diagnosis,
		MedicalHistory:    p.MedicalHistory,
		Medication:        o.Medication,
		ProviderFirstName: pr.FirstName,
		ProviderLastName:  pr.LastName,
		NPI:               pr.NPI,
	}
}

// advance moves o to next, storing carePlan, and persists the change.
func (s *Service) advance(ctx context.Context, o *Order, next Status, carePlan string) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	prev := o.Status
	o.Status = next
	o.CarePlan = carePlan
	if err := s.store.UpdateOrder(ctx, o); err != nil {
		o.Status = prev
		return fmt.Errorf("update order %d to %s: %w", o.ID, next, err)
	}
	s.publish(ctx, o)
	return nil
}

func (s *Service) publish(ctx context.Context, o *Order) {
	if s.publisher == nil {
		return
	}
	e := Event{
		OrderID:    o.ID,
		Status:     o.Status,
		Medication: o.Medication,
		At:         o.UpdatedAt,
	}
	if o.Patient != nil {
		e.PatientMRN = o.Patient.MRN
	}
	if o.Provider != nil {
		e.ProviderNPI = o.Provider.NPI
	}
	if err := s.publisher.PublishOrderEvent(ctx, e); err != nil {
		s.logger.Error().Err(err).Int64("order_id", o.ID).Str("status", string(o.Status)).Msg("publish order event")
	}
}

func (s *Service) observeGeneration(outcome string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.GenerationObserved(outcome, d)
	}
}

func (s *Service) GetOrderDetail(ctx context.Context, id int64) (*OrderDetail, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return newDetail(o), nil
}

// SearchOrders matches q against patient names and MRN. An empty q matches
// every order.
func (s *Service) SearchOrders(ctx context.Context, q string) ([]OrderSummary, error) {
	orders, err := s.store.SearchOrders(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search orders: %w", err)
	}
	return lo.Map(orders, func(o *Order, _ int) OrderSummary {
		return newSummary(o)
	}), nil
}

// ExportCarePlanText renders a completed order's care plan as a text
// attachment.
func (s *Service) ExportCarePlanText(ctx context.Context, id int64) (*CarePlanExport, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusCompleted {
		return nil, ErrNotReady
	}
	return &CarePlanExport{
		Filename: ExportFilename(o.ID),
		Content:  RenderCarePlanText(o),
	}, nil
}
