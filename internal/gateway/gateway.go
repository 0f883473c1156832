package gateway

import (
	"context"
	"errors"
	"strings"

	"schedula/agenda/internal/domain"
)

// Gateway is the set of backend calls the agenda core depends on.
type Gateway interface {
	FetchAppointments(ctx context.Context, businessID string) ([]domain.Appointment, error)
	FetchAppointmentByID(ctx context.Context, id string) (domain.Appointment, error)
	CreateAppointment(ctx context.Context, p CreatePayload) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, p UpdatePayload) (domain.Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error
	SetAppointmentStatus(ctx context.Context, id string, status domain.Status) (domain.Appointment, error)
	RescheduleAppointment(ctx context.Context, id string, s Schedule) (domain.Appointment, error)
}

type CreatePayload struct {
	Business        string `json:"business"`
	Client          string `json:"client"`
	Service         string `json:"service"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"durationMinutes"`
	Notes           string `json:"notes,omitempty"`
}

var ErrIncompletePayload = errors.New("incomplete create payload")

// Validate rejects a payload missing any field the backend requires.
func (p CreatePayload) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"business", p.Business},
		{"client", p.Client},
		{"service", p.Service},
		{"date", p.Date},
		{"time", p.Time},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if p.DurationMinutes <= 0 {
		missing = append(missing, "durationMinutes")
	}
	if len(missing) > 0 {
		return &PayloadError{Missing: missing}
	}
	return nil
}

type PayloadError struct {
	Missing []string
}

func (e *PayloadError) Error() string {
	return "missing " + strings.Join(e.Missing, ", ")
}

func (e *PayloadError) Unwrap() error {
	return ErrIncompletePayload
}

// UpdatePayload carries the editable fields; nil leaves a field unchanged.
type UpdatePayload struct {
	CustomerID      *string `json:"client,omitempty"`
	ServiceID       *string `json:"service,omitempty"`
	Date            *string `json:"date,omitempty"`
	Time            *string `json:"time,omitempty"`
	DurationMinutes *int    `json:"durationMinutes,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type Schedule struct {
	Date string `json:"date"`
	Time string `json:"time"`
}
