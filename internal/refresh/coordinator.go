package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"schedula/agenda/internal/clock"
	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/service/appointments"
	"schedula/agenda/internal/store"
)

const (
	DefaultFocusThrottle = 10 * time.Second
	DefaultDebounce      = 2 * time.Second
)

// Loader is the part of the access layer the coordinator drives.
type Loader interface {
	GetAll(ctx context.Context, businessID string, forceRefresh bool) (appointments.Result, error)
}

type Options struct {
	FocusThrottle time.Duration
	Debounce      time.Duration
	Clock         clock.Clock
	Log           *slog.Logger
}

// Outcome is what a refresh trigger produced. Dropped means the trigger was
// gated and no backend call was made; Appointments then holds the last good
// snapshot.
type Outcome struct {
	Appointments []domain.Appointment
	Fetched      bool
	Dropped      bool
	Result       appointments.Result
}

// Coordinator gates the refresh triggers of one business's agenda. It keeps
// the timestamps the gates need and the last good snapshot, so throttled or
// failed refreshes never blank the view.
type Coordinator struct {
	loader     Loader
	businessID string
	clock      clock.Clock
	log        *slog.Logger

	focusThrottle time.Duration
	debounce      time.Duration

	mu            sync.Mutex
	lastFocusAt   time.Time
	focusBusy     bool
	lastRefreshAt time.Time
	refreshing    bool
	last          []domain.Appointment
	hasLast       bool
}

func New(loader Loader, businessID string, opts Options) *Coordinator {
	if opts.FocusThrottle <= 0 {
		opts.FocusThrottle = DefaultFocusThrottle
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Coordinator{
		loader:        loader,
		businessID:    businessID,
		clock:         opts.Clock,
		focusThrottle: opts.FocusThrottle,
		debounce:      opts.Debounce,
		log: opts.Log.With(
			slog.String("component", "refresh"),
			slog.String("business_id", businessID),
		),
	}
}

// Load reads through the cache without any gate. Used for the first render.
func (c *Coordinator) Load(ctx context.Context) (Outcome, error) {
	return c.run(ctx, false)
}

// OnFocus refreshes when the view regains focus. It is dropped while a focus
// refresh is running or if the previous one completed less than the focus
// throttle ago.
func (c *Coordinator) OnFocus(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	now := c.clock.Now()
	if c.focusBusy || (!c.lastFocusAt.IsZero() && now.Sub(c.lastFocusAt) < c.focusThrottle) {
		out := c.droppedLocked()
		c.mu.Unlock()
		c.log.Debug("focus refresh throttled")
		return out, nil
	}
	c.focusBusy = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.focusBusy = false
		c.lastFocusAt = c.clock.Now()
		c.mu.Unlock()
	}()
	return c.run(ctx, true)
}

// Refresh is the general refresh entry point. A call within the debounce
// window of the previous call, debounced or not, returns the last snapshot.
func (c *Coordinator) Refresh(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	now := c.clock.Now()
	previous := c.lastRefreshAt
	c.lastRefreshAt = now
	if !previous.IsZero() && now.Sub(previous) < c.debounce {
		out := c.droppedLocked()
		c.mu.Unlock()
		c.log.Debug("refresh debounced")
		return out, nil
	}
	c.mu.Unlock()

	return c.run(ctx, true)
}

// PullToRefresh always fetches. Refreshing reports true for its duration.
func (c *Coordinator) PullToRefresh(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	c.refreshing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	return c.run(ctx, true)
}

func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Snapshot returns the last good appointment collection.
func (c *Coordinator) Snapshot() ([]domain.Appointment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return store.Clone(c.last), c.hasLast
}

func (c *Coordinator) run(ctx context.Context, force bool) (Outcome, error) {
	res, err := c.loader.GetAll(ctx, c.businessID, force)
	if err != nil {
		return Outcome{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !res.Stale() {
		c.last = store.Clone(res.Appointments)
		c.hasLast = true
		return Outcome{
			Appointments: res.Appointments,
			Fetched:      res.Freshness == appointments.FreshnessFresh,
			Result:       res,
		}, nil
	}

	if res.RateLimited() {
		c.log.Warn("backend rate limited, keeping last snapshot", slog.Int("count", len(c.last)))
	} else {
		c.log.Warn("refresh failed, keeping last snapshot", slog.Any("err", res.Cause))
	}
	if !c.hasLast {
		return Outcome{Appointments: res.Appointments, Result: res}, nil
	}
	return Outcome{Appointments: store.Clone(c.last), Result: res}, nil
}

func (c *Coordinator) droppedLocked() Outcome {
	return Outcome{
		Appointments: store.Clone(c.last),
		Dropped:      true,
		Result: appointments.Result{
			Appointments: store.Clone(c.last),
			Freshness:    appointments.FreshnessCached,
		},
	}
}
