package store

import (
	"context"

	"schedula/agenda/internal/domain"
)

// AppointmentStore holds the most recently fetched appointment collection per
// business. Get reports ok=false when nothing was fetched yet or the snapshot
// was invalidated.
type AppointmentStore interface {
	Get(ctx context.Context, businessID string) (appts []domain.Appointment, ok bool, err error)
	Set(ctx context.Context, businessID string, appts []domain.Appointment) error
	Invalidate(ctx context.Context, businessID string) error
}

// Clone copies a snapshot so callers never share backing arrays with a store.
func Clone(in []domain.Appointment) []domain.Appointment {
	if in == nil {
		return nil
	}
	out := make([]domain.Appointment, len(in))
	copy(out, in)
	return out
}
