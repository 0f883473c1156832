package appointments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"schedula/agenda/internal/clock"
	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/gateway"
	"schedula/agenda/internal/store/memory"
)

type fakeGateway struct {
	fetchFn      func(ctx context.Context, businessID string) ([]domain.Appointment, error)
	fetchByIDFn  func(ctx context.Context, id string) (domain.Appointment, error)
	createFn     func(ctx context.Context, p gateway.CreatePayload) (domain.Appointment, error)
	updateFn     func(ctx context.Context, id string, p gateway.UpdatePayload) (domain.Appointment, error)
	deleteFn     func(ctx context.Context, id string) error
	setStatusFn  func(ctx context.Context, id string, status domain.Status) (domain.Appointment, error)
	rescheduleFn func(ctx context.Context, id string, s gateway.Schedule) (domain.Appointment, error)
}

func (f *fakeGateway) FetchAppointments(ctx context.Context, businessID string) ([]domain.Appointment, error) {
	if f.fetchFn == nil {
		panic("FetchAppointments not configured")
	}
	return f.fetchFn(ctx, businessID)
}

func (f *fakeGateway) FetchAppointmentByID(ctx context.Context, id string) (domain.Appointment, error) {
	if f.fetchByIDFn == nil {
		panic("FetchAppointmentByID not configured")
	}
	return f.fetchByIDFn(ctx, id)
}

func (f *fakeGateway) CreateAppointment(ctx context.Context, p gateway.CreatePayload) (domain.Appointment, error) {
	if f.createFn == nil {
		panic("CreateAppointment not configured")
	}
	return f.createFn(ctx, p)
}

func (f *fakeGateway) UpdateAppointment(ctx context.Context, id string, p gateway.UpdatePayload) (domain.Appointment, error) {
	if f.updateFn == nil {
		panic("UpdateAppointment not configured")
	}
	return f.updateFn(ctx, id, p)
}

func (f *fakeGateway) DeleteAppointment(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		panic("DeleteAppointment not configured")
	}
	return f.deleteFn(ctx, id)
}

func (f *fakeGateway) SetAppointmentStatus(ctx context.Context, id string, status domain.Status) (domain.Appointment, error) {
	if f.setStatusFn == nil {
		panic("SetAppointmentStatus not configured")
	}
	return f.setStatusFn(ctx, id, status)
}

func (f *fakeGateway) RescheduleAppointment(ctx context.Context, id string, s gateway.Schedule) (domain.Appointment, error) {
	if f.rescheduleFn == nil {
		panic("RescheduleAppointment not configured")
	}
	return f.rescheduleFn(ctx, id, s)
}

func newTestService(gw gateway.Gateway, opts ...Option) (*Service, *memory.Store) {
	st := memory.New(0)
	opts = append([]Option{
		WithLocation(time.UTC),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
	}, opts...)
	return NewService(gw, st, opts...), st
}

func sampleAppointments() []domain.Appointment {
	return []domain.Appointment{
		{ID: "A", BusinessID: "b1", Date: "2024-06-10", Time: "09:15", DurationMinutes: 30, Status: domain.StatusBooked},
		{ID: "B", BusinessID: "b1", Date: "2024-06-10", Time: "09:40", DurationMinutes: 30, Status: domain.StatusBooked},
		{ID: "C", BusinessID: "b1", Date: "2024-06-11", Time: "14:00", DurationMinutes: 60, Status: domain.StatusBooked},
	}
}

func TestServiceGetAll_ServesCacheUntilForced(t *testing.T) {
	calls := 0
	svc, _ := newTestService(&fakeGateway{
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			calls++
			return sampleAppointments(), nil
		},
	})

	res, err := svc.GetAll(context.Background(), "b1", false)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if res.Freshness != FreshnessFresh || len(res.Appointments) != 3 {
		t.Fatalf("first GetAll = %s/%d, want fresh/3", res.Freshness, len(res.Appointments))
	}

	res, err = svc.GetAll(context.Background(), "b1", false)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if res.Freshness != FreshnessCached {
		t.Fatalf("second GetAll freshness = %s, want cached", res.Freshness)
	}
	if calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", calls)
	}

	if _, err := svc.GetAll(context.Background(), "b1", true); err != nil {
		t.Fatalf("GetAll(force) error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("gateway calls after force = %d, want 2", calls)
	}
}

func TestServiceGetAll_RequiresBusinessID(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})

	_, err := svc.GetAll(context.Background(), "  ", false)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}

func TestServiceGetAll_FailureWithoutSnapshotIsEmptyStale(t *testing.T) {
	boom := errors.New("connection reset")
	svc, _ := newTestService(&fakeGateway{
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			return nil, boom
		},
	})

	res, err := svc.GetAll(context.Background(), "b1", false)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if !res.Stale() || len(res.Appointments) != 0 {
		t.Fatalf("GetAll = %s/%d, want stale/0", res.Freshness, len(res.Appointments))
	}
	if !errors.Is(res.Cause, boom) {
		t.Fatalf("cause = %v, want %v", res.Cause, boom)
	}
	if gateway.Classify(res.Cause) != gateway.KindTransient {
		t.Fatalf("kind = %s, want transient", gateway.Classify(res.Cause))
	}
}

func TestServiceGetAll_ForcedRateLimitKeepsSnapshot(t *testing.T) {
	limited := false
	svc, st := newTestService(&fakeGateway{
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			if limited {
				return nil, &gateway.StatusError{Code: 429}
			}
			return sampleAppointments(), nil
		},
	})
	ctx := context.Background()

	if _, err := svc.GetAll(ctx, "b1", false); err != nil {
		t.Fatalf("GetAll error: %v", err)
	}

	limited = true
	res, err := svc.GetAll(ctx, "b1", true)
	if err != nil {
		t.Fatalf("GetAll(force) error: %v", err)
	}
	if !res.Stale() || !res.RateLimited() {
		t.Fatalf("result = %s cause=%v, want stale rate limited", res.Freshness, res.Cause)
	}
	if len(res.Appointments) != 3 {
		t.Fatalf("appointments = %d, want previous 3", len(res.Appointments))
	}

	cached, ok, err := st.Get(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("cache after 429: ok=%v err=%v, want populated", ok, err)
	}
	if len(cached) != 3 {
		t.Fatalf("cached = %d, want 3", len(cached))
	}
}

func TestServiceGetByDateRange_Inclusive(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			return sampleAppointments(), nil
		},
	})

	res, err := svc.GetByDateRange(context.Background(), "b1", "2024-06-10", "2024-06-10")
	if err != nil {
		t.Fatalf("GetByDateRange error: %v", err)
	}
	if len(res.Appointments) != 2 {
		t.Fatalf("appointments = %d, want 2", len(res.Appointments))
	}

	_, err = svc.GetByDateRange(context.Background(), "b1", "2024-06-11", "2024-06-10")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}

func TestServiceGetTodayAndTomorrow_UseClock(t *testing.T) {
	mc := clock.NewMockClock(time.Date(2024, 6, 10, 23, 30, 0, 0, time.UTC))
	svc, _ := newTestService(&fakeGateway{
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			return sampleAppointments(), nil
		},
	}, WithClock(mc))

	today, err := svc.GetToday(context.Background(), "b1")
	if err != nil {
		t.Fatalf("GetToday error: %v", err)
	}
	if len(today.Appointments) != 2 {
		t.Fatalf("today = %d, want 2", len(today.Appointments))
	}

	tomorrow, err := svc.GetTomorrow(context.Background(), "b1")
	if err != nil {
		t.Fatalf("GetTomorrow error: %v", err)
	}
	if len(tomorrow.Appointments) != 1 || tomorrow.Appointments[0].ID != "C" {
		t.Fatalf("tomorrow = %+v, want [C]", tomorrow.Appointments)
	}
}

func TestServiceGetByID_FallsBackToCollection(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{
		fetchByIDFn: func(ctx context.Context, id string) (domain.Appointment, error) {
			return domain.Appointment{}, gateway.ErrUnavailable
		},
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			return sampleAppointments(), nil
		},
	})

	got, err := svc.GetByID(context.Background(), "b1", "B")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.Time != "09:40" {
		t.Fatalf("time = %q, want 09:40", got.Time)
	}
}

func TestServiceGetByID_DistinguishesAbsentFromUnreachable(t *testing.T) {
	svc, st := newTestService(&fakeGateway{
		fetchByIDFn: func(ctx context.Context, id string) (domain.Appointment, error) {
			return domain.Appointment{}, gateway.ErrUnavailable
		},
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			return sampleAppointments(), nil
		},
	})
	ctx := context.Background()

	// Freshly fetched collection without the id: authoritative miss.
	_, err := svc.GetByID(ctx, "b1", "Z")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	// Cached collection without the id: the lookup failure is surfaced.
	if err := st.Set(ctx, "b1", sampleAppointments()); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	_, err = svc.GetByID(ctx, "b1", "Z")
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, should not be ErrNotFound", err)
	}
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable in chain", err)
	}
}

func TestServiceCreate_ValidationErrorType(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})

	_, err := svc.Create(context.Background(), CreateInput{
		Business: "b1",
		Service:  "s1",
		Date:     "2024-06-10",
		Time:     "09:00",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if vErr.Error() != "client is required" {
		t.Fatalf("error = %q, want %q", vErr.Error(), "client is required")
	}
}

func TestServiceCreate_AliasesAndCombinedDateTime(t *testing.T) {
	var got gateway.CreatePayload
	svc, st := newTestService(&fakeGateway{
		createFn: func(ctx context.Context, p gateway.CreatePayload) (domain.Appointment, error) {
			got = p
			return domain.Appointment{ID: "N", BusinessID: p.Business, Date: p.Date, Time: p.Time}, nil
		},
	})
	ctx := context.Background()
	if err := st.Set(ctx, "b1", sampleAppointments()); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	dt := time.Date(2024, 6, 12, 14, 30, 0, 0, time.UTC)
	_, err := svc.Create(ctx, CreateInput{
		BusinessID:      "b1",
		CustomerID:      "c1",
		ServiceID:       "s1",
		DateTime:        &dt,
		DurationMinutes: 45,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.Business != "b1" || got.Client != "c1" || got.Service != "s1" {
		t.Fatalf("payload refs = %+v", got)
	}
	if got.Date != "2024-06-12" || got.Time != "14:30" {
		t.Fatalf("payload date/time = %s %s, want 2024-06-12 14:30", got.Date, got.Time)
	}
	if _, ok, _ := st.Get(ctx, "b1"); ok {
		t.Fatalf("cache still populated after create")
	}
}

func TestServiceCreate_PropagatesGatewayErrorsAndKeepsCache(t *testing.T) {
	svc, st := newTestService(&fakeGateway{
		createFn: func(ctx context.Context, p gateway.CreatePayload) (domain.Appointment, error) {
			return domain.Appointment{}, &gateway.StatusError{Code: 500}
		},
	})
	ctx := context.Background()
	if err := st.Set(ctx, "b1", sampleAppointments()); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	_, err := svc.Create(ctx, CreateInput{
		Business: "b1", Client: "c1", Service: "s1",
		Date: "2024-06-10", Time: "10:00", DurationMinutes: 30,
	})
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if _, ok, _ := st.Get(ctx, "b1"); !ok {
		t.Fatalf("cache cleared after failed create")
	}
}

func TestServiceMutations_InvalidateOnSuccess(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{
		updateFn: func(ctx context.Context, id string, p gateway.UpdatePayload) (domain.Appointment, error) {
			return domain.Appointment{ID: id}, nil
		},
		deleteFn: func(ctx context.Context, id string) error { return nil },
		rescheduleFn: func(ctx context.Context, id string, s gateway.Schedule) (domain.Appointment, error) {
			if s.Date != "2024-06-14" || s.Time != "11:00" {
				t.Errorf("schedule = %+v, want 2024-06-14 11:00", s)
			}
			return domain.Appointment{ID: id, Date: s.Date, Time: s.Time}, nil
		},
		setStatusFn: func(ctx context.Context, id string, status domain.Status) (domain.Appointment, error) {
			return domain.Appointment{ID: id, Status: status}, nil
		},
	}
	svc, st := newTestService(gw)

	notes := "bring forms"
	ops := map[string]func() error{
		"update": func() error {
			_, err := svc.Update(ctx, "b1", "A", UpdateInput{Notes: &notes})
			return err
		},
		"delete": func() error { return svc.Delete(ctx, "b1", "A") },
		"reschedule": func() error {
			_, err := svc.Reschedule(ctx, "b1", "A", time.Date(2024, 6, 14, 11, 0, 0, 0, time.UTC))
			return err
		},
		"set_status": func() error {
			_, err := svc.SetStatus(ctx, "b1", "A", domain.StatusCanceled)
			return err
		},
	}
	for name, op := range ops {
		if err := st.Set(ctx, "b1", sampleAppointments()); err != nil {
			t.Fatalf("Set error: %v", err)
		}
		if err := op(); err != nil {
			t.Fatalf("%s error: %v", name, err)
		}
		if _, ok, _ := st.Get(ctx, "b1"); ok {
			t.Fatalf("%s left the cache populated", name)
		}
	}
}

func TestServiceTransition_IllegalNeverCallsGateway(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})

	_, err := svc.Transition(context.Background(), "b1", domain.Appointment{ID: "A", Status: domain.StatusNoShow}, domain.StatusBooked)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
	var tErr *TransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("error type = %T, want *TransitionError", err)
	}
	if tErr.From != domain.StatusNoShow || tErr.To != domain.StatusBooked {
		t.Fatalf("transition error = %+v", tErr)
	}
}

func TestServiceTransition_ReturnsServerRecord(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{
		setStatusFn: func(ctx context.Context, id string, status domain.Status) (domain.Appointment, error) {
			return domain.Appointment{ID: id, Status: status, Notes: "closed by front desk"}, nil
		},
	})

	got, err := svc.Transition(context.Background(), "", domain.Appointment{ID: "A", BusinessID: "b1", Status: domain.StatusBooked}, domain.StatusCompleted)
	if err != nil {
		t.Fatalf("Transition error: %v", err)
	}
	if got.Status != domain.StatusCompleted || got.Notes != "closed by front desk" {
		t.Fatalf("got = %+v, want server record", got)
	}
}

func TestServiceMutation_RejectsConcurrentMutationOfSameID(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	svc, _ := newTestService(&fakeGateway{
		setStatusFn: func(ctx context.Context, id string, status domain.Status) (domain.Appointment, error) {
			close(entered)
			<-release
			return domain.Appointment{ID: id, Status: status}, nil
		},
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.SetStatus(ctx, "b1", "A", domain.StatusCompleted)
		done <- err
	}()
	<-entered

	if !svc.InFlight("A") {
		t.Fatalf("InFlight(A) = false during mutation")
	}
	if err := svc.Delete(ctx, "b1", "A"); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("second mutation error = %v, want ErrMutationInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first mutation error: %v", err)
	}
	if svc.InFlight("A") {
		t.Fatalf("InFlight(A) = true after completion")
	}
}

func TestServiceCompleteThenRangeQuery_ReflectsServerState(t *testing.T) {
	backend := sampleAppointments()
	calls := 0
	svc, _ := newTestService(&fakeGateway{
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			calls++
			out := make([]domain.Appointment, len(backend))
			copy(out, backend)
			return out, nil
		},
		setStatusFn: func(ctx context.Context, id string, status domain.Status) (domain.Appointment, error) {
			for i := range backend {
				if backend[i].ID == id {
					backend[i].Status = status
					return backend[i], nil
				}
			}
			return domain.Appointment{}, gateway.ErrNotFound
		},
	})
	ctx := context.Background()

	res, err := svc.GetByDateRange(ctx, "b1", "2024-06-10", "2024-06-10")
	if err != nil {
		t.Fatalf("GetByDateRange error: %v", err)
	}
	if _, err := svc.Transition(ctx, "b1", res.Appointments[0], domain.StatusCompleted); err != nil {
		t.Fatalf("Transition error: %v", err)
	}

	res, err = svc.GetByDateRange(ctx, "b1", "2024-06-10", "2024-06-10")
	if err != nil {
		t.Fatalf("GetByDateRange error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("fetches = %d, want 2 (refetch after invalidation)", calls)
	}
	byID := map[string]domain.Status{}
	for _, a := range res.Appointments {
		byID[a.ID] = a.Status
	}
	if byID["A"] != domain.StatusCompleted || byID["B"] != domain.StatusBooked {
		t.Fatalf("statuses = %v, want A completed and B booked", byID)
	}
}

func TestServiceMutations_FailureKeepsCacheAndReturnsError(t *testing.T) {
	ctx := context.Background()
	unavailable := &gateway.StatusError{Code: 500}
	gw := &fakeGateway{
		updateFn: func(ctx context.Context, id string, p gateway.UpdatePayload) (domain.Appointment, error) {
			return domain.Appointment{}, unavailable
		},
		deleteFn: func(ctx context.Context, id string) error { return gateway.ErrNotFound },
		rescheduleFn: func(ctx context.Context, id string, s gateway.Schedule) (domain.Appointment, error) {
			return domain.Appointment{}, unavailable
		},
		setStatusFn: func(ctx context.Context, id string, status domain.Status) (domain.Appointment, error) {
			return domain.Appointment{}, gateway.ErrRateLimited
		},
	}
	svc, st := newTestService(gw)

	notes := "bring forms"
	cases := []struct {
		name string
		want error
		op   func() error
	}{
		{"update", gateway.ErrUnavailable, func() error {
			_, err := svc.Update(ctx, "b1", "A", UpdateInput{Notes: &notes})
			return err
		}},
		{"delete", gateway.ErrNotFound, func() error { return svc.Delete(ctx, "b1", "A") }},
		{"reschedule", gateway.ErrUnavailable, func() error {
			_, err := svc.Reschedule(ctx, "b1", "A", time.Date(2024, 6, 14, 11, 0, 0, 0, time.UTC))
			return err
		}},
		{"set_status", gateway.ErrRateLimited, func() error {
			_, err := svc.SetStatus(ctx, "b1", "A", domain.StatusCompleted)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := st.Set(ctx, "b1", sampleAppointments()); err != nil {
				t.Fatalf("Set error: %v", err)
			}
			if err := tc.op(); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			got, ok, err := st.Get(ctx, "b1")
			if err != nil || !ok {
				t.Fatalf("cache after failed %s = ok %v err %v, want snapshot", tc.name, ok, err)
			}
			if len(got) != 3 || got[0].Status != domain.StatusBooked {
				t.Fatalf("cache after failed %s = %+v, want untouched snapshot", tc.name, got)
			}
			if svc.InFlight("A") {
				t.Fatalf("InFlight(A) = true after failed %s", tc.name)
			}
		})
	}
}

func TestServiceGetAll_FetchOverlappingMutationIsNotCached(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	svc, st := newTestService(&fakeGateway{
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			appts := sampleAppointments()
			if calls.Add(1) == 1 {
				close(entered)
				<-release
				return appts, nil
			}
			appts[0].Status = domain.StatusCompleted
			return appts, nil
		},
		setStatusFn: func(ctx context.Context, id string, status domain.Status) (domain.Appointment, error) {
			return domain.Appointment{ID: id, Status: status}, nil
		},
	})
	ctx := context.Background()

	done := make(chan Result, 1)
	go func() {
		res, err := svc.GetAll(ctx, "b1", false)
		if err != nil {
			t.Errorf("GetAll error: %v", err)
		}
		done <- res
	}()
	<-entered

	if _, err := svc.SetStatus(ctx, "b1", "A", domain.StatusCompleted); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	close(release)
	<-done

	if _, ok, _ := st.Get(ctx, "b1"); ok {
		t.Fatalf("fetch started before the mutation was cached")
	}

	res, err := svc.GetAll(ctx, "b1", false)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if res.Freshness != FreshnessFresh {
		t.Fatalf("freshness = %s, want fresh", res.Freshness)
	}
	if res.Appointments[0].Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Appointments[0].Status)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("gateway calls = %d, want 2", got)
	}
}

func TestServiceGetAll_MutationDuringFetchStartsNewFlight(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	svc, _ := newTestService(&fakeGateway{
		fetchFn: func(ctx context.Context, businessID string) ([]domain.Appointment, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return sampleAppointments(), nil
		},
		deleteFn: func(ctx context.Context, id string) error { return nil },
	})
	ctx := context.Background()

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = svc.GetAll(ctx, "b1", false)
	}()
	<-entered

	if err := svc.Delete(ctx, "b1", "C"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	// The blocked flight was detached, so this read runs its own fetch.
	if _, err := svc.GetAll(ctx, "b1", false); err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("gateway calls = %d, want 2", got)
	}
	close(release)
	<-first
}
