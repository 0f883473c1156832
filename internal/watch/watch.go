package watch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"schedula/agenda/internal/refresh"
)

// Focuser is the focus path of a refresh coordinator. Scheduled ticks go
// through it so they are throttled like any other foreground trigger.
type Focuser interface {
	OnFocus(ctx context.Context) (refresh.Outcome, error)
}

// Watcher fires a focus refresh on a cron schedule and hands every outcome
// that was not dropped to the callback.
type Watcher struct {
	cron     *cron.Cron
	target   Focuser
	onResult func(refresh.Outcome)
	log      *slog.Logger
	ctx      context.Context
}

// New parses spec (standard five-field cron, or descriptors like "@every 30s").
func New(spec string, target Focuser, onResult func(refresh.Outcome), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		cron:     cron.New(),
		target:   target,
		onResult: onResult,
		log:      log.With(slog.String("component", "watch")),
		ctx:      context.Background(),
	}
	if _, err := w.cron.AddFunc(spec, w.tick); err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	return w, nil
}

// Run blocks until ctx is done, then waits for a running tick to finish.
func (w *Watcher) Run(ctx context.Context) {
	w.ctx = ctx
	w.cron.Start()
	w.log.Info("watching for changes")
	<-ctx.Done()
	<-w.cron.Stop().Done()
	w.log.Info("watch stopped")
}

func (w *Watcher) tick() {
	out, err := w.target.OnFocus(w.ctx)
	if err != nil {
		w.log.Error("scheduled refresh failed", slog.Any("err", err))
		return
	}
	if out.Dropped {
		w.log.Debug("scheduled refresh throttled")
		return
	}
	if w.onResult != nil {
		w.onResult(out)
	}
}
