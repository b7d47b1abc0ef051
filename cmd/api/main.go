package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/Jingik/S.F.D/internal/application"
	appai "github.com/Jingik/S.F.D/internal/application/ai"
	"github.com/Jingik/S.F.D/internal/application/live"
	"github.com/Jingik/S.F.D/internal/application/records"
	scannerapp "github.com/Jingik/S.F.D/internal/application/scanner"
	"github.com/Jingik/S.F.D/internal/application/trigger"
	"github.com/Jingik/S.F.D/internal/config"
	"github.com/Jingik/S.F.D/internal/domain/detection"
	scandomain "github.com/Jingik/S.F.D/internal/domain/scanner"
	openaiclient "github.com/Jingik/S.F.D/internal/infra/ai/openai"
	"github.com/Jingik/S.F.D/internal/infra/broker"
	mysqlp "github.com/Jingik/S.F.D/internal/infra/db/mysql"
	postgresp "github.com/Jingik/S.F.D/internal/infra/db/postgres"
	"github.com/Jingik/S.F.D/internal/infra/httpserver"
	minioStore "github.com/Jingik/S.F.D/internal/infra/storage"
	"github.com/Jingik/S.F.D/internal/logging"
	"github.com/Jingik/S.F.D/internal/middleware"
)

const version = "1.0.0"

func main() {
	log := logging.New("sfd-api", version)

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("config load error")
	}

	ctx := context.Background()

	var (
		conn          *sql.DB
		detectionRepo detection.Repository
		analysisRepo  detection.AnalysisRepository
		scannerRepo   scandomain.Repository
	)

	switch cfg.Database.Driver {
	case "postgres":
		conn, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connect error")
		}
		detectionRepo = postgresp.NewDetectionRepository(conn)
		analysisRepo = postgresp.NewAnalysisRepository(conn)
		scannerRepo = postgresp.NewScannerRepository(conn)
	default:
		conn, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("mysql connect error")
		}
		detectionRepo = mysqlp.NewDetectionRepository(conn)
		analysisRepo = mysqlp.NewAnalysisRepository(conn)
		scannerRepo = mysqlp.NewScannerRepository(conn)
	}
	defer conn.Close()

	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("minio init error")
	}

	var publisher trigger.EventPublisher
	if cfg.AMQP.URL != "" {
		pub, err := broker.NewAMQPPublisher(cfg.AMQP.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connect error")
		}
		defer pub.Close()
		publisher = pub
	}

	var aiSvc *appai.Service
	if cfg.OpenAI.APIKey != "" {
		aiSvc = appai.NewService(openaiclient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model))
	}

	reg := live.NewRegistry(cfg.Stream.SendBuffer, log)
	reg.OnPrune(middleware.IncrementConnectionsPruned)

	scanners := scannerapp.NewManager(scannerRepo, application.SystemClock{}, log)

	recordsSvc := &records.Service{
		Detections: detectionRepo,
		Analyses:   analysisRepo,
		Scanners:   scannerRepo,
		Store:      store,
		Clock:      application.SystemClock{},
		Log:        log,
	}

	triggerSvc := &trigger.Service{
		Scanners:   scanners,
		Detections: detectionRepo,
		Analyses:   analysisRepo,
		Live:       reg,
		Publisher:  publisher,
		Exchange:   cfg.AMQP.Exchange,
		Log:        log,
		Delivered:  middleware.AddEventsDelivered,
	}

	limiter := middleware.NewRateLimiter(100, 50)

	mux := chi.NewRouter()
	mux.Use(
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}),
		middleware.Logging(log),
		middleware.MetricsMiddleware,
		limiter.Middleware,
	)

	mux.Get("/healthz", middleware.LivenessHandler)
	mux.Get("/health", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: conn},
	}))
	mux.Get("/metrics", middleware.MetricsHandler(reg.Len))

	mux.Mount("/", httpserver.NewRouter(reg, scanners, triggerSvc, recordsSvc, aiSvc, httpserver.Options{
		SerialNumber: cfg.Scanner.SerialNumber,
		IdleTimeout:  cfg.Stream.IdleTimeout,
	}, log))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout stays zero: event streams outlive any fixed deadline.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down server")

	reg.UnsubscribeAll()

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
