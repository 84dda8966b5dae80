package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/homevisit/visitgrid/internal/config"
	"github.com/homevisit/visitgrid/internal/domain/interaction"
	"github.com/homevisit/visitgrid/internal/domain/routing"
	"github.com/homevisit/visitgrid/internal/domain/visit"
	"github.com/homevisit/visitgrid/internal/platform/auth"
	"github.com/homevisit/visitgrid/internal/platform/db"
	"github.com/homevisit/visitgrid/internal/platform/geo"
	"github.com/homevisit/visitgrid/internal/platform/middleware"
	"github.com/homevisit/visitgrid/internal/platform/syncq"
	"github.com/homevisit/visitgrid/internal/platform/websocket"
)

const (
	version      = "0.1.0"
	boardMaxIdle = 30 * time.Minute
)

// app holds the wired components of one server or CLI run.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	svc      *visit.Service
	hub      *websocket.Hub
	tracker  *routing.LegTracker
	arranger *routing.Arranger
	syncer   *syncq.Syncer
	boards   *interaction.Registry

	closers []func()
}

// newApp connects the stores and wires every component. An empty
// DATABASE_URL runs on the in-memory store.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	grid, err := cfg.Grid()
	if err != nil {
		return nil, err
	}
	policy, err := routing.ParsePolicy(cfg.RoutePolicy)
	if err != nil {
		return nil, err
	}

	var (
		appts    visit.AppointmentRepository
		patients visit.PatientRepository
	)
	if cfg.DatabaseURL != "" {
		a.pool, err = db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.pool.Close)
		appts, patients = visit.NewAppointmentRepoPG(a.pool), visit.NewPatientRepoPG(a.pool)
		logger.Info().Msg("connected to database")
	} else {
		appts, patients = visit.NewMemoryAppointmentRepo(), visit.NewMemoryPatientRepo()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
	}

	var cache geo.CoordCache = geo.NewMemoryCache()
	if cfg.RedisURL != "" {
		rc, err := geo.NewRedisCache(ctx, cfg.RedisURL, cfg.CoordCacheTTL, logger.With().Str("component", "coord-cache").Logger())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { rc.Close() })
		cache = rc
	}
	resolverOpts := []geo.ResolverOption{
		geo.WithLogger(logger.With().Str("component", "resolver").Logger()),
		geo.WithRateLimit(cfg.GeocoderRPS, 1),
	}
	if cfg.GeocoderURL != "" {
		resolverOpts = append(resolverOpts, geo.WithGeocoder(geo.NewHTTPGeocoder(cfg.GeocoderURL)))
	}
	resolver := geo.NewResolver(cache, resolverOpts...)

	var outbox syncq.Outbox = syncq.NewInMemoryOutbox()
	if cfg.SyncOutboxDir != "" {
		if outbox, err = syncq.NewDiskOutbox(cfg.SyncOutboxDir); err != nil {
			return nil, err
		}
	}
	var remote syncq.Remote = unconfiguredRemote{}
	if cfg.SyncRemoteURL != "" {
		remote = syncq.NewHTTPRemote(cfg.SyncRemoteURL, cfg.SyncRemoteToken)
	}

	a.hub = websocket.NewHub(logger.With().Str("component", "hub").Logger())

	sink := &syncStatusSink{hub: a.hub, logger: logger.With().Str("component", "sync-status").Logger()}
	a.syncer = syncq.NewSyncer(outbox, remote,
		syncq.WithStatusSink(sink),
		syncq.WithLogger(logger.With().Str("component", "syncer").Logger()),
	)

	notifiers := &visit.Notifiers{}
	moves := &visit.PatientNotifiers{}
	svcOpts := []visit.ServiceOption{
		visit.WithChangeRecorder(outboxRecorder{syncer: a.syncer}),
		visit.WithNotifier(notifiers),
		visit.WithPatientNotifier(moves),
		visit.WithLogger(logger.With().Str("component", "visit").Logger()),
	}
	// Without a remote, changes wait in the outbox and nothing is pushed.
	if cfg.SyncRemoteURL != "" {
		svcOpts = append(svcOpts, visit.WithSyncTrigger(a.syncer))
	}
	a.svc = visit.NewService(appts, patients, svcOpts...)
	sink.svc = a.svc

	home := cfg.Home()
	trackerOpts := []routing.TrackerOption{
		routing.WithTrackerHome(home),
		routing.WithTrackerLogger(logger.With().Str("component", "legs").Logger()),
	}
	if cfg.DistanceMatrixURL != "" {
		trackerOpts = append(trackerOpts, routing.WithDistanceMatrix(geo.NewCachedMatrix(geo.NewHTTPDistanceMatrix(cfg.DistanceMatrixURL))))
	}
	a.tracker = routing.NewLegTracker(a.svc, a.svc, resolver, trackerOpts...)
	a.arranger = routing.NewArranger(a.svc, a.svc, resolver,
		routing.WithHome(home),
		routing.WithPolicy(policy),
		routing.WithDayStart(grid.DayStart),
		routing.WithArrangerLogger(logger.With().Str("component", "arranger").Logger()),
	)
	a.boards = interaction.NewRegistry(a.svc,
		interaction.WithGrid(grid),
		interaction.WithClickToCreate(true),
		interaction.WithNoticeSink(boardNotices{hub: a.hub}),
		interaction.WithLogger(logger.With().Str("component", "board").Logger()),
	)

	notifiers.Add(a.tracker)
	notifiers.Add(a.hub)
	notifiers.Add(a.boards)
	// The tracker and arranger share resolver, so one Forget serves both.
	moves.Add(a.tracker)

	ok = true
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// server builds the echo instance with every route registered.
func (a *app) server() *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if a.pool != nil {
		pool := a.pool
		e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	} else {
		e.GET("/health/db", db.HealthHandler(nil, nil))
	}

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(a.jwtConfig()))
	}
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	visit.NewHandler(a.svc).RegisterRoutes(apiV1)
	routing.NewHandler(a.tracker, a.arranger).RegisterRoutes(apiV1)
	syncq.NewHandler(a.syncer).RegisterRoutes(apiV1)
	interaction.NewHandler(a.boards).RegisterRoutes(apiV1)
	websocket.NewWebSocketHandler(a.hub).RegisterRoutes(apiV1)

	return e
}

func (a *app) jwtConfig() auth.JWTConfig {
	return auth.JWTConfig{Issuer: a.cfg.JWTIssuer, SigningKey: []byte(a.cfg.JWTSecret)}
}

// scheduler runs the periodic sync sweep and closes idle boards.
func (a *app) scheduler(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	if a.cfg.SyncRemoteURL != "" {
		if _, err := c.AddFunc(a.cfg.SyncSweepSpec, func() {
			rep, err := a.syncer.SyncOnce(ctx)
			if err != nil {
				a.logger.Error().Err(err).Msg("sync sweep failed")
				return
			}
			if rep.Pushed+rep.Retried+rep.Failed > 0 {
				a.logger.Info().Int("pushed", rep.Pushed).Int("retried", rep.Retried).
					Int("failed", rep.Failed).Int("waiting", rep.Waiting).Msg("sync sweep")
			}
		}); err != nil {
			return nil, fmt.Errorf("SYNC_SWEEP_SPEC %q: %w", a.cfg.SyncSweepSpec, err)
		}
	}
	if _, err := c.AddFunc("@every 5m", func() {
		if n := a.boards.Sweep(time.Now(), boardMaxIdle); n > 0 {
			a.logger.Debug().Int("closed", n).Msg("closed idle boards")
		}
	}); err != nil {
		return nil, err
	}
	return c, nil
}
