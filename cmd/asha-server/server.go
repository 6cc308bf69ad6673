package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/asha/records/internal/config"
	"github.com/asha/records/internal/domain/alert"
	"github.com/asha/records/internal/domain/analytics"
	"github.com/asha/records/internal/domain/offline"
	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/domain/qrcode"
	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/internal/platform/blobstore"
	"github.com/asha/records/internal/platform/cache"
	"github.com/asha/records/internal/platform/db"
	"github.com/asha/records/internal/platform/events"
	"github.com/asha/records/internal/platform/metrics"
	"github.com/asha/records/internal/platform/middleware"
	"github.com/asha/records/internal/platform/mongostore"
	"github.com/asha/records/internal/platform/notify"
	"github.com/asha/records/internal/platform/tracing"
	"github.com/asha/records/internal/platform/websocket"
)

const serviceName = "asha-records"

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests are authenticated from X-Actor-* headers, do not expose this server")
	}

	ctx := context.Background()
	srv, err := newServer(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise server")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = srv.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.echo.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// server is the assembled HTTP application and the resources it owns.
type server struct {
	echo    *echo.Echo
	hub     *websocket.Hub
	closers []func(context.Context) error
}

// Shutdown stops accepting requests, then releases resources in reverse
// order of acquisition.
func (s *server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if cerr := s.release(ctx); err == nil {
		err = cerr
	}
	return err
}

// release runs the registered closers newest first and returns the first
// error.
func (s *server) release(ctx context.Context) error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if cerr := s.closers[i](ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.closers = nil
	return err
}

func (s *server) onClose(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

type stores struct {
	patients patient.Repository
	alerts   alert.Repository
	checks   []db.Check
}

func openStores(ctx context.Context, cfg *config.Config, srv *server, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		srv.onClose(func(context.Context) error { pool.Close(); return nil })
		logger.Info().Msg("connected to database")
		return &stores{
			patients: patient.NewPatientRepoPG(pool),
			alerts:   alert.NewAlertRepoPG(pool),
			checks:   []db.Check{db.PoolCheck(pool)},
		}, nil

	case config.BackendMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		srv.onClose(client.Disconnect)
		database := client.Database(cfg.MongoDatabase)
		if err := patient.EnsurePatientIndexes(ctx, database); err != nil {
			return nil, err
		}
		if err := alert.EnsureAlertIndexes(ctx, database); err != nil {
			return nil, err
		}
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to mongo")
		return &stores{
			patients: patient.NewPatientRepoMongo(database),
			alerts:   alert.NewAlertRepoMongo(database),
			checks: []db.Check{{
				Name: "mongo",
				Ping: func(ctx context.Context) error { return mongostore.Ping(ctx, client) },
			}},
		}, nil

	case config.BackendMemory:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return &stores{
			patients: patient.NewMemoryRepository(),
			alerts:   alert.NewMemoryRepository(),
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// newServer wires every component. reg receives the Prometheus collectors.
// Resources opened before a failure are released before it returns.
func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (_ *server, err error) {
	started := time.Now()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.Server.ReadHeaderTimeout = 10 * time.Second

	hub := websocket.NewHub(logger)
	srv := &server{echo: e, hub: hub}
	defer func() {
		if err != nil {
			if cerr := srv.release(ctx); cerr != nil {
				logger.Warn().Err(cerr).Msg("release after failed start")
			}
		}
	}()

	st, err := openStores(ctx, cfg, srv, logger)
	if err != nil {
		return nil, err
	}

	var ledger offline.Ledger = offline.NewMemoryLedger(cfg.SyncDedupTTL)
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		srv.onClose(func(context.Context) error { return client.Close() })
		ledger = offline.NewRedisLedger(client, cfg.SyncDedupTTL)
		st.checks = append(st.checks, db.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return cache.Ping(ctx, client) },
		})
	}

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
		Insecure:    !cfg.IsProduction(),
	})
	if err != nil {
		return nil, err
	}
	srv.onClose(tp.Shutdown)

	collector := metrics.NewCollector("asha", reg)

	// Broadcasts always reach the hub; Kafka and the webhook are optional.
	pub := events.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		srv.onClose(func(context.Context) error { return kp.Close() })
		pub = append(pub, kp)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka publishing enabled")
	}
	if cfg.AlertWebhook != "" {
		pub = append(pub, events.Filter{
			Types: []string{events.TypeEmergencyAlert},
			Next:  notify.NewWebhook(cfg.AlertWebhook),
		})
	}

	var blobs blobstore.BlobStore = blobstore.NewInMemoryBlobStore(cfg.MaxUploadBytes())
	if cfg.UploadDir != "" {
		fs, err := blobstore.NewFileSystemBlobStore(cfg.UploadDir, cfg.MaxUploadBytes())
		if err != nil {
			return nil, err
		}
		blobs = fs
	}

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Tracing(tp))
	e.Use(middleware.Metrics(collector))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	uploadLimit := fmt.Sprintf("%dM", cfg.MaxUploadMB+1)
	e.Use(middleware.BodyLimit("1M", map[string]string{
		"/api/v1/sync":     "20M",
		"/api/v1/blobs":    uploadLimit,
		"/api/v1/patients": uploadLimit,
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: cfg.SigningKey(),
		}, auth.IsPublicPath))
	}
	e.Use(middleware.Audit(logger))

	// Operational endpoints
	e.GET("/api/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"service":     serviceName,
			"environment": cfg.Env,
			"uptime":      time.Since(started).Round(time.Second).String(),
			"timestamp":   time.Now().UTC(),
		})
	})
	e.GET("/health/db", db.HealthHandler(st.checks...))
	e.GET("/metrics", echo.WrapHandler(metrics.MetricsHandler()))
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))

	component := func(name string) zerolog.Logger {
		return logger.With().Str("component", name).Logger()
	}

	patientSvc := patient.NewService(st.patients)
	patientSvc.SetHealthIDGenerator(patient.NewHealthIDGenerator(cfg.HealthIDPrefix))
	patientSvc.SetPublisher(pub)
	patientSvc.SetMetrics(collector)
	patientSvc.SetLogger(component("patient"))
	patient.NewHandler(patientSvc, blobs).RegisterRoutes(apiV1)

	alertSvc := alert.NewService(st.alerts)
	alertSvc.SetPatients(patientSvc)
	alertSvc.SetPublisher(pub)
	alertSvc.SetMetrics(collector)
	alertSvc.SetLogger(component("alert"))
	alert.NewHandler(alertSvc).RegisterRoutes(apiV1)

	analyticsSvc := analytics.NewService(st.patients)
	analyticsSvc.SetLogger(component("analytics"))
	analytics.NewHandler(analyticsSvc).RegisterRoutes(apiV1)

	qrcode.NewHandler(qrcode.NewService(patientSvc)).RegisterRoutes(apiV1)

	syncSvc := offline.NewService(patientSvc, ledger)
	syncSvc.SetMetrics(collector)
	syncSvc.SetLogger(component("offline"))
	offline.NewHandler(syncSvc).RegisterRoutes(apiV1)

	blobstore.NewBlobHandler(blobs).RegisterRoutes(apiV1)

	return srv, nil
}
