package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"schedula/agenda/internal/clock"
	"schedula/agenda/internal/config"
	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/gateway"
	"schedula/agenda/internal/gateway/httpapi"
	"schedula/agenda/internal/gateway/postgres"
	"schedula/agenda/internal/refresh"
	"schedula/agenda/internal/service/appointments"
	"schedula/agenda/internal/store"
	"schedula/agenda/internal/store/memory"
	redisstore "schedula/agenda/internal/store/redis"
	"schedula/agenda/internal/watch"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "schedula-agenda"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "schedula-agenda"),
	)
	slog.SetDefault(log)

	var (
		businessID = flag.String("business", os.Getenv("SCHEDULA_BUSINESS_ID"), "business id")
		viewName   = flag.String("view", "day", "day, week, month, timeline or list")
		dateFlag   = flag.String("date", "", "reference date YYYY-MM-DD (default today)")
		format     = flag.String("format", "json", "json or yaml")
		hours      = flag.String("hours", "", "business hours for the timeline view, HH:mm-HH:mm")
		setStatus  = flag.String("set-status", "", "move an appointment to a status, id=status")
		watchMode  = flag.Bool("watch", false, "keep running and re-render on the refresh schedule")
	)
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		log.Error("missing -business")
		os.Exit(2)
	}

	req, err := newViewRequest(*viewName, *dateFlag, *hours, *format, cfg, clock.NewRealClock())
	if err != nil {
		log.Error("invalid flags", slog.Any("err", err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, closeGateway, err := buildGateway(ctx, cfg, log)
	if err != nil {
		log.Error("gateway setup failed", slog.Any("err", err), slog.String("gateway_kind", cfg.GatewayKind))
		os.Exit(1)
	}
	defer closeGateway()

	st, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		log.Error("cache setup failed", slog.Any("err", err), slog.String("cache_kind", cfg.CacheKind))
		os.Exit(1)
	}
	defer closeStore()

	svc := appointments.NewService(gw, st,
		appointments.WithLocation(cfg.Location),
		appointments.WithLogger(log),
	)
	coord := refresh.New(svc, *businessID, refresh.Options{
		FocusThrottle: cfg.FocusThrottle,
		Debounce:      cfg.Debounce,
		Log:           log,
	})

	if *setStatus != "" {
		if err := applyStatus(ctx, svc, *businessID, *setStatus); err != nil {
			log.Error("status change failed", slog.Any("err", err))
			os.Exit(1)
		}
	}

	out, err := coord.Load(ctx)
	if err != nil {
		log.Error("load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if out.Result.Stale() {
		log.Warn("showing stale agenda", slog.Any("err", out.Result.Cause), slog.String("kind", string(gateway.Classify(out.Result.Cause))))
	}
	if err := req.render(os.Stdout, out.Appointments, time.Now()); err != nil {
		log.Error("render failed", slog.Any("err", err))
		os.Exit(1)
	}

	if !*watchMode {
		return
	}

	w, err := watch.New(cfg.RefreshCron, coord, func(o refresh.Outcome) {
		if err := req.render(os.Stdout, o.Appointments, time.Now()); err != nil {
			log.Error("render failed", slog.Any("err", err))
		}
	}, log)
	if err != nil {
		log.Error("watch setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	w.Run(ctx)
}

func buildGateway(ctx context.Context, cfg config.Config, log *slog.Logger) (gateway.Gateway, func(), error) {
	switch cfg.GatewayKind {
	case "postgres":
		log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
		g, err := postgres.Connect(ctx, postgres.Options{
			DatabaseURL:     cfg.DatabaseURL,
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
			PingTimeout:     cfg.GatewayTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := g.Close(); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		}
		return g, closeDB, nil
	default:
		c, err := httpapi.New(httpapi.Options{
			BaseURL:    cfg.GatewayBaseURL,
			Token:      cfg.GatewayToken,
			Timeout:    cfg.GatewayTimeout,
			RatePerSec: cfg.GatewayRatePerSec,
			Burst:      cfg.GatewayBurst,
			Log:        log,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}
}

func buildStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.AppointmentStore, func(), error) {
	if cfg.CacheKind != "redis" {
		return memory.New(cfg.CacheTTL), func() {}, nil
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	log.Info("using redis cache", slog.String("redis_addr", cfg.RedisAddr), slog.String("redis_prefix", cfg.RedisPrefix))

	closeRedis := func() {
		if err := rdb.Close(); err != nil {
			log.Warn("redis close failed", slog.Any("err", err))
		}
	}
	return redisstore.New(rdb, cfg.RedisPrefix, cfg.CacheTTL), closeRedis, nil
}

// applyStatus handles -set-status id=status through the transition table.
func applyStatus(ctx context.Context, svc *appointments.Service, businessID, arg string) error {
	id, raw, ok := strings.Cut(arg, "=")
	if !ok || strings.TrimSpace(id) == "" {
		return errors.New("-set-status wants id=status")
	}
	target, ok := domain.ParseStatus(raw)
	if !ok {
		return fmt.Errorf("unknown status %q", raw)
	}

	current, err := svc.GetByID(ctx, businessID, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	updated, err := svc.Transition(ctx, businessID, current, target)
	if err != nil {
		if errors.Is(err, appointments.ErrIllegalTransition) {
			return fmt.Errorf("%w (allowed from %s: %v)", err, current.Status, domain.AllowedTransitions(current.Status))
		}
		return err
	}
	slog.Info("appointment status changed", slog.String("appointment_id", updated.ID), slog.String("status", string(updated.Status)))
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
