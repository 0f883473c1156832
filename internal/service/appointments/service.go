package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"schedula/agenda/internal/clock"
	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/gateway"
	"schedula/agenda/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

var (
	ErrNotFound         = store.ErrNotFound
	ErrMutationInFlight = errors.New("another change to this appointment is in progress")
)

type Freshness string

const (
	// FreshnessFresh means the data came from the backend during this call.
	FreshnessFresh Freshness = "fresh"
	// FreshnessCached means the data is the current cache snapshot.
	FreshnessCached Freshness = "cached"
	// FreshnessStale means the backend call failed and older or empty data
	// was served instead. Cause holds the failure.
	FreshnessStale Freshness = "stale"
)

// Result is a list query outcome. List queries never fail because of the
// backend; they degrade to Stale and record the Cause.
type Result struct {
	Appointments []domain.Appointment
	Freshness    Freshness
	Cause        error
}

func (r Result) Stale() bool {
	return r.Freshness == FreshnessStale
}

func (r Result) RateLimited() bool {
	return gateway.Classify(r.Cause) == gateway.KindRateLimited
}

type Service struct {
	gw    gateway.Gateway
	store store.AppointmentStore
	clock clock.Clock
	loc   *time.Location
	log   *slog.Logger

	fetches singleflight.Group

	// genMu orders cache writes against invalidations. gens counts the
	// invalidations per business.
	genMu sync.Mutex
	gens  map[string]uint64

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLocation sets the zone "today" and combined date-times are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(gw gateway.Gateway, st store.AppointmentStore, opts ...Option) *Service {
	s := &Service{
		gw:       gw,
		store:    st,
		clock:    clock.NewRealClock(),
		loc:      time.Local,
		log:      slog.Default(),
		gens:     make(map[string]uint64),
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	s.log = s.log.With(slog.String("component", "service.appointments"))
	return s
}

// GetAll returns the business's full appointment collection. A cached
// snapshot is served unless forceRefresh is set.
func (s *Service) GetAll(ctx context.Context, businessID string, forceRefresh bool) (Result, error) {
	if strings.TrimSpace(businessID) == "" {
		return Result{}, validationError("business_id is required")
	}
	log := s.log.With(slog.String("business_id", businessID), slog.Bool("force", forceRefresh))

	previous, hadPrevious, err := s.store.Get(ctx, businessID)
	if err != nil {
		log.Warn("cache read failed", slog.Any("err", err))
		hadPrevious = false
	}

	if !forceRefresh && hadPrevious {
		return Result{Appointments: previous, Freshness: FreshnessCached}, nil
	}

	// Reaching here means the snapshot is missing or being replaced.
	if forceRefresh {
		if err := s.dropSnapshot(ctx, businessID); err != nil {
			log.Warn("cache invalidate failed", slog.Any("err", err))
		}
	}
	gen := s.generation(businessID)

	appts, err := s.fetchAll(ctx, businessID)
	if err == nil {
		return Result{Appointments: appts, Freshness: FreshnessFresh}, nil
	}

	kind := gateway.Classify(err)
	if kind == gateway.KindRateLimited && hadPrevious {
		// Throttling never clears data the user is looking at, unless a
		// mutation has invalidated it in the meantime.
		if !s.commit(ctx, businessID, gen, previous) {
			log.Debug("snapshot restore skipped, invalidated during fetch")
		}
		log.Warn("backend rate limited, serving previous snapshot", slog.Int("count", len(previous)))
		return Result{Appointments: previous, Freshness: FreshnessStale, Cause: err}, nil
	}
	log.Warn("appointments fetch failed, no snapshot available", slog.Any("err", err), slog.String("kind", string(kind)))
	return Result{Appointments: []domain.Appointment{}, Freshness: FreshnessStale, Cause: err}, nil
}

// fetchAll collapses concurrent fetches for one business into a single
// backend call. A fetch that overlaps an invalidation still answers its
// callers but does not become the cached snapshot.
func (s *Service) fetchAll(ctx context.Context, businessID string) ([]domain.Appointment, error) {
	v, err, _ := s.fetches.Do(businessID, func() (any, error) {
		gen := s.generation(businessID)
		appts, err := s.gw.FetchAppointments(ctx, businessID)
		if err != nil {
			return nil, err
		}
		appts = domain.Dedupe(appts)
		cached := s.commit(ctx, businessID, gen, appts)
		s.log.Debug(
			"appointments fetched",
			slog.String("business_id", businessID),
			slog.Int("count", len(appts)),
			slog.Bool("cached", cached),
		)
		return appts, nil
	})
	if err != nil {
		return nil, err
	}
	return store.Clone(v.([]domain.Appointment)), nil
}

// GetByDateRange filters the full collection to start <= date <= end.
// ISO dates compare correctly as strings.
func (s *Service) GetByDateRange(ctx context.Context, businessID, startDate, endDate string) (Result, error) {
	if _, err := time.Parse(domain.DateLayout, startDate); err != nil {
		return Result{}, validationError("start_date must be YYYY-MM-DD")
	}
	if _, err := time.Parse(domain.DateLayout, endDate); err != nil {
		return Result{}, validationError("end_date must be YYYY-MM-DD")
	}
	if endDate < startDate {
		return Result{}, validationError("end_date must not be before start_date")
	}

	res, err := s.GetAll(ctx, businessID, false)
	if err != nil {
		return Result{}, err
	}
	res.Appointments = filter(res.Appointments, func(a domain.Appointment) bool {
		return a.Date >= startDate && a.Date <= endDate
	})
	return res, nil
}

func (s *Service) GetToday(ctx context.Context, businessID string) (Result, error) {
	return s.getOn(ctx, businessID, s.today())
}

func (s *Service) GetTomorrow(ctx context.Context, businessID string) (Result, error) {
	return s.getOn(ctx, businessID, s.today().AddDate(0, 0, 1))
}

func (s *Service) getOn(ctx context.Context, businessID string, day time.Time) (Result, error) {
	date := domain.FormatDate(day)
	res, err := s.GetAll(ctx, businessID, false)
	if err != nil {
		return Result{}, err
	}
	res.Appointments = filter(res.Appointments, func(a domain.Appointment) bool {
		return a.Date == date
	})
	return res, nil
}

func (s *Service) today() time.Time {
	now := s.clock.Now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

// GetByID looks the appointment up directly and falls back to scanning the
// business's collection. ErrNotFound is returned only when the answer is
// authoritative: the backend said so, or a freshly fetched collection lacks
// the id. Otherwise the lookup failure itself is returned.
func (s *Service) GetByID(ctx context.Context, businessID, id string) (domain.Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	appt, directErr := s.gw.FetchAppointmentByID(ctx, id)
	if directErr == nil {
		return appt, nil
	}
	if errors.Is(directErr, context.Canceled) {
		return domain.Appointment{}, directErr
	}

	log := s.log.With(slog.String("appointment_id", id), slog.String("business_id", businessID))
	log.Info("direct lookup failed, scanning collection", slog.Any("err", directErr))

	if strings.TrimSpace(businessID) != "" {
		res, err := s.GetAll(ctx, businessID, false)
		if err == nil {
			for _, a := range res.Appointments {
				if a.ID == id {
					return a, nil
				}
			}
			if res.Freshness == FreshnessFresh {
				return domain.Appointment{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
			}
		}
	}

	if gateway.Classify(directErr) == gateway.KindNotFound {
		return domain.Appointment{}, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return domain.Appointment{}, fmt.Errorf("lookup appointment %s: %w", id, directErr)
}

type CreateInput struct {
	// Business reference; the first non-empty alias wins.
	Business   string
	BusinessID string

	// Customer reference aliases.
	Client     string
	ClientID   string
	Customer   string
	CustomerID string

	// Service reference aliases.
	Service   string
	ServiceID string

	// Either DateTime or Date+Time must be set.
	DateTime *time.Time
	Date     string
	Time     string

	DurationMinutes int
	Notes           string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Appointment, error) {
	payload, err := s.createPayload(in)
	if err != nil {
		return domain.Appointment{}, err
	}

	appt, err := s.gw.CreateAppointment(ctx, payload)
	if err != nil {
		s.log.Warn("appointment create failed", slog.Any("err", err), slog.String("business_id", payload.Business))
		return domain.Appointment{}, err
	}
	s.invalidate(ctx, payload.Business)

	s.log.Info(
		"appointment created",
		slog.String("appointment_id", appt.ID),
		slog.String("business_id", payload.Business),
		slog.String("date", payload.Date),
		slog.String("time", payload.Time),
	)
	return appt, nil
}

func (s *Service) createPayload(in CreateInput) (gateway.CreatePayload, error) {
	business := firstNonEmpty(in.Business, in.BusinessID)
	if business == "" {
		return gateway.CreatePayload{}, validationError("business is required")
	}
	client := firstNonEmpty(in.Client, in.ClientID, in.Customer, in.CustomerID)
	if client == "" {
		return gateway.CreatePayload{}, validationError("client is required")
	}
	service := firstNonEmpty(in.Service, in.ServiceID)
	if service == "" {
		return gateway.CreatePayload{}, validationError("service is required")
	}

	date := strings.TrimSpace(in.Date)
	clockTime := strings.TrimSpace(in.Time)
	if date == "" || clockTime == "" {
		if in.DateTime == nil {
			return gateway.CreatePayload{}, validationError("date and time are required")
		}
		date, clockTime = domain.SplitDateTime(in.DateTime.In(s.loc))
	}
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return gateway.CreatePayload{}, validationError("date must be YYYY-MM-DD")
	}
	minutes, err := domain.MinutesSinceMidnight(clockTime)
	if err != nil {
		return gateway.CreatePayload{}, validationError("time must be HH:mm")
	}
	if in.DurationMinutes <= 0 {
		return gateway.CreatePayload{}, validationError("duration_minutes must be positive")
	}

	p := gateway.CreatePayload{
		Business:        business,
		Client:          client,
		Service:         service,
		Date:            date,
		Time:            domain.FormatMinutes(minutes),
		DurationMinutes: in.DurationMinutes,
		Notes:           in.Notes,
	}
	if err := p.Validate(); err != nil {
		return gateway.CreatePayload{}, validationError(err.Error())
	}
	return p, nil
}

type UpdateInput = gateway.UpdatePayload

func (s *Service) Update(ctx context.Context, businessID, id string, in UpdateInput) (domain.Appointment, error) {
	if in.Date != nil {
		if _, err := time.Parse(domain.DateLayout, *in.Date); err != nil {
			return domain.Appointment{}, validationError("date must be YYYY-MM-DD")
		}
	}
	if in.Time != nil {
		if _, err := domain.MinutesSinceMidnight(*in.Time); err != nil {
			return domain.Appointment{}, validationError("time must be HH:mm")
		}
	}
	if in.DurationMinutes != nil && *in.DurationMinutes <= 0 {
		return domain.Appointment{}, validationError("duration_minutes must be positive")
	}
	return s.mutate(ctx, businessID, id, "update", func(ctx context.Context) (domain.Appointment, error) {
		return s.gw.UpdateAppointment(ctx, id, in)
	})
}

func (s *Service) Delete(ctx context.Context, businessID, id string) error {
	_, err := s.mutate(ctx, businessID, id, "delete", func(ctx context.Context) (domain.Appointment, error) {
		return domain.Appointment{}, s.gw.DeleteAppointment(ctx, id)
	})
	return err
}

func (s *Service) Reschedule(ctx context.Context, businessID, id string, newDateTime time.Time) (domain.Appointment, error) {
	if newDateTime.IsZero() {
		return domain.Appointment{}, validationError("new date-time is required")
	}
	date, clockTime := domain.SplitDateTime(newDateTime.In(s.loc))
	return s.mutate(ctx, businessID, id, "reschedule", func(ctx context.Context) (domain.Appointment, error) {
		return s.gw.RescheduleAppointment(ctx, id, gateway.Schedule{Date: date, Time: clockTime})
	})
}

// SetStatus writes a status without checking the current one. Use Transition
// when the current record is known.
func (s *Service) SetStatus(ctx context.Context, businessID, id string, status domain.Status) (domain.Appointment, error) {
	if !status.Valid() {
		return domain.Appointment{}, validationError("unknown status " + string(status))
	}
	return s.mutate(ctx, businessID, id, "set_status", func(ctx context.Context) (domain.Appointment, error) {
		return s.gw.SetAppointmentStatus(ctx, id, status)
	})
}

// mutate runs one backend mutation for id. A second mutation for the same id
// is rejected while the first is outstanding. Success always invalidates the
// business's cache; failure leaves it untouched.
func (s *Service) mutate(ctx context.Context, businessID, id, op string, call func(ctx context.Context) (domain.Appointment, error)) (domain.Appointment, error) {
	if strings.TrimSpace(businessID) == "" {
		return domain.Appointment{}, validationError("business_id is required")
	}
	if strings.TrimSpace(id) == "" {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	release, err := s.acquire(id)
	if err != nil {
		s.log.Info("mutation rejected", slog.String("op", op), slog.String("appointment_id", id))
		return domain.Appointment{}, err
	}
	defer release()

	appt, err := call(ctx)
	if err != nil {
		s.log.Warn(
			"appointment mutation failed",
			slog.String("op", op),
			slog.String("appointment_id", id),
			slog.String("kind", string(gateway.Classify(err))),
			slog.Any("err", err),
		)
		return domain.Appointment{}, err
	}
	s.invalidate(ctx, businessID)

	s.log.Info("appointment mutated", slog.String("op", op), slog.String("appointment_id", id), slog.String("business_id", businessID))
	return appt, nil
}

func (s *Service) acquire(id string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return nil, ErrMutationInFlight
	}
	s.inFlight[id] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inFlight, id)
		s.mu.Unlock()
	}, nil
}

// InFlight reports whether a mutation for id is outstanding, so callers can
// disable the controls that would start another one.
func (s *Service) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[id]
	return busy
}

func (s *Service) invalidate(ctx context.Context, businessID string) {
	// The mutation already happened server side; a failed invalidation is
	// logged rather than reported as a failed mutation.
	if err := s.dropSnapshot(context.WithoutCancel(ctx), businessID); err != nil {
		s.log.Error("cache invalidate after mutation failed", slog.Any("err", err), slog.String("business_id", businessID))
	}
}

func (s *Service) generation(businessID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[businessID]
}

// dropSnapshot invalidates the cached collection and detaches any fetch
// already in flight, so later readers start a new one.
func (s *Service) dropSnapshot(ctx context.Context, businessID string) error {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[businessID]++
	s.fetches.Forget(businessID)
	return s.store.Invalidate(ctx, businessID)
}

// commit stores appts as the snapshot unless the business was invalidated
// after gen was read. It reports whether the snapshot was written.
func (s *Service) commit(ctx context.Context, businessID string, gen uint64, appts []domain.Appointment) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[businessID] != gen {
		return false
	}
	if err := s.store.Set(ctx, businessID, appts); err != nil {
		s.log.Warn("cache write failed", slog.Any("err", err), slog.String("business_id", businessID))
	}
	return true
}

func filter(in []domain.Appointment, keep func(domain.Appointment) bool) []domain.Appointment {
	out := make([]domain.Appointment, 0, len(in))
	for _, a := range in {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
