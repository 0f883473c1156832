package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/gateway"
)

type appointmentRow struct {
	bun.BaseModel `bun:"table:appointments"`

	ID              uuid.UUID `bun:"id,pk,type:uuid"`
	BusinessID      string    `bun:"business_id,notnull"`
	CustomerID      string    `bun:"customer_id,notnull"`
	ServiceID       string    `bun:"service_id,notnull"`
	Date            string    `bun:"appt_date,notnull"`
	Time            string    `bun:"appt_time,notnull"`
	DurationMinutes int       `bun:"duration_minutes,notnull"`
	Status          string    `bun:"status,notnull"`
	Notes           string    `bun:"notes"`
	CustomerName    string    `bun:"customer_name"`
	CustomerPhone   string    `bun:"customer_phone"`
	ServiceName     string    `bun:"service_name"`
	ServicePrice    float64   `bun:"service_price"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

func (r *appointmentRow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

func (r appointmentRow) toDomain() domain.Appointment {
	status, ok := domain.ParseStatus(r.Status)
	if !ok {
		status = domain.Status(r.Status)
	}
	return domain.Appointment{
		ID:              r.ID.String(),
		BusinessID:      r.BusinessID,
		CustomerID:      r.CustomerID,
		ServiceID:       r.ServiceID,
		Date:            r.Date,
		Time:            r.Time,
		DurationMinutes: r.DurationMinutes,
		Status:          status,
		Notes:           r.Notes,
		CustomerName:    r.CustomerName,
		CustomerPhone:   r.CustomerPhone,
		ServiceName:     r.ServiceName,
		ServicePrice:    r.ServicePrice,
	}
}

// Gateway serves the agenda core straight from the booking database. It is
// used by self-hosted deployments that have no REST backend in between.
type Gateway struct {
	db *bun.DB
}

func NewGateway(db *bun.DB) *Gateway {
	return &Gateway{db: db}
}

var _ gateway.Gateway = (*Gateway)(nil)

func (g *Gateway) FetchAppointments(ctx context.Context, businessID string) ([]domain.Appointment, error) {
	var rows []appointmentRow
	err := g.db.NewSelect().
		Model(&rows).
		Where("business_id = ?", businessID).
		OrderExpr("appt_date ASC, appt_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.Appointment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (g *Gateway) FetchAppointmentByID(ctx context.Context, id string) (domain.Appointment, error) {
	row, err := g.load(ctx, g.db, id, false)
	if err != nil {
		return domain.Appointment{}, err
	}
	return row.toDomain(), nil
}

func (g *Gateway) CreateAppointment(ctx context.Context, p gateway.CreatePayload) (domain.Appointment, error) {
	if err := p.Validate(); err != nil {
		return domain.Appointment{}, err
	}
	row := appointmentRow{
		BusinessID:      p.Business,
		CustomerID:      p.Client,
		ServiceID:       p.Service,
		Date:            p.Date,
		Time:            p.Time,
		DurationMinutes: p.DurationMinutes,
		Status:          string(domain.StatusBooked),
		Notes:           p.Notes,
	}
	err := g.inBusinessTransaction(ctx, p.Business, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&row).Exec(ctx)
		return err
	})
	if err != nil {
		return domain.Appointment{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (g *Gateway) UpdateAppointment(ctx context.Context, id string, p gateway.UpdatePayload) (domain.Appointment, error) {
	return g.mutate(ctx, id, func(row *appointmentRow) error {
		if p.CustomerID != nil {
			row.CustomerID = *p.CustomerID
		}
		if p.ServiceID != nil {
			row.ServiceID = *p.ServiceID
		}
		if p.Date != nil {
			row.Date = *p.Date
		}
		if p.Time != nil {
			row.Time = *p.Time
		}
		if p.DurationMinutes != nil {
			row.DurationMinutes = *p.DurationMinutes
		}
		if p.Notes != nil {
			row.Notes = *p.Notes
		}
		return nil
	})
}

func (g *Gateway) DeleteAppointment(ctx context.Context, id string) error {
	apptID, err := uuid.Parse(id)
	if err != nil {
		return gateway.ErrNotFound
	}
	res, err := g.db.NewDelete().
		Model((*appointmentRow)(nil)).
		Where("id = ?", apptID).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// SetAppointmentStatus writes the status as given. The backend does not
// second-guess the client's transition table.
func (g *Gateway) SetAppointmentStatus(ctx context.Context, id string, status domain.Status) (domain.Appointment, error) {
	return g.mutate(ctx, id, func(row *appointmentRow) error {
		row.Status = string(status)
		return nil
	})
}

func (g *Gateway) RescheduleAppointment(ctx context.Context, id string, s gateway.Schedule) (domain.Appointment, error) {
	return g.mutate(ctx, id, func(row *appointmentRow) error {
		row.Date = s.Date
		row.Time = s.Time
		return nil
	})
}

func (g *Gateway) mutate(ctx context.Context, id string, apply func(row *appointmentRow) error) (domain.Appointment, error) {
	var out appointmentRow
	err := g.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := g.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := apply(&row); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().Model(&row).WherePK().Exec(ctx); err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return domain.Appointment{}, mapError(err)
	}
	return out.toDomain(), nil
}

func (g *Gateway) load(ctx context.Context, db bun.IDB, id string, forUpdate bool) (appointmentRow, error) {
	apptID, err := uuid.Parse(id)
	if err != nil {
		return appointmentRow{}, gateway.ErrNotFound
	}
	var row appointmentRow
	q := db.NewSelect().Model(&row).Where("id = ?", apptID).Limit(1)
	if forUpdate {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return appointmentRow{}, mapError(err)
	}
	return row, nil
}

func (g *Gateway) inBusinessTransaction(ctx context.Context, businessID string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return g.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", businessID).Exec(ctx); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// mapError folds database failures into the gateway's error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gateway.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "53300", "53400":
			return fmt.Errorf("%w: %s", gateway.ErrRateLimited, pgErr.Message)
		case "57P01", "57P03", "08006", "08001":
			return fmt.Errorf("%w: %s", gateway.ErrUnavailable, pgErr.Message)
		}
	}
	return err
}
