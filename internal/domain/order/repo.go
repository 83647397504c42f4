package order

import (
	"context"
	"strings"
)

// Store persists patients, providers and orders.
type Store interface {
	// FindOrCreatePatient returns the oldest patient with the MRN, or inserts
	// defaults when there is none. Defaults never update an existing row.
	FindOrCreatePatient(ctx context.Context, mrn string, defaults Patient) (*Patient, error)
	// FindOrCreateProvider has the same contract keyed on NPI.
	FindOrCreateProvider(ctx context.Context, npi string, defaults Provider) (*Provider, error)
	CreateOrder(ctx context.Context, o *Order) error
	// UpdateOrder persists Status and CarePlan and refreshes UpdatedAt.
	UpdateOrder(ctx context.Context, o *Order) error
	// GetOrder loads an order with its patient and provider, or ErrNotFound.
	GetOrder(ctx context.Context, id int64) (*Order, error)
	// SearchOrders returns, once each and ordered by id, the orders whose
	// patient first name, last name or MRN contains text case-insensitively.
	SearchOrders(ctx context.Context, text string) ([]*Order, error)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns text into a LIKE pattern matching it literally
// anywhere in a value. Backslash is the escape character.
func containsPattern(text string) string {
	return "%" + likeEscaper.Replace(text) + "%"
}
