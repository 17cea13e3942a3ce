package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"login-management-go/config"
	"login-management-go/internal/api/handlers"
	"login-management-go/internal/audit"
	"login-management-go/internal/db"
	"login-management-go/internal/db/repository"
	"login-management-go/internal/integrations/mqtt"
	"login-management-go/internal/integrations/partner"
	"login-management-go/internal/logger"
	"login-management-go/internal/observability"
	"login-management-go/internal/scheduler"
	"login-management-go/internal/server"
	"login-management-go/internal/server/sse"
	"login-management-go/internal/services/management"
	"login-management-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultConfigPath = "/config/config.yaml"

func main() {
	configPath := flag.String("config", envOr("LOGIN_MGMT_CONFIG", defaultConfigPath), "path to the config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	timezone.Initialize(cfg.Server.Timezone)

	// Initialize database connection
	log.Info("Initializing database...")
	database, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			log.Warnf("Failed to close database: %v", err)
		}
	}()
	repo := repository.NewGormRepository(database)

	registry := observability.NewRegistry()
	otel.SetMeterProvider(registry.MeterProvider())
	metrics := observability.NewMetrics(registry.MeterProvider())

	catalog, err := audit.NewCatalog(cfg.Audit.Locale)
	if err != nil {
		log.Fatalf("Failed to load audit messages: %v", err)
	}

	tokens := partner.NewTokenCache(partner.TokenConfig{
		AuthURL:             cfg.Partner.AuthURL,
		AuthorizationHeader: cfg.Partner.AuthorizationHeader,
		Scope:               cfg.Partner.Scope,
		Timeout:             cfg.Partner.Timeout,
	}, metrics)
	client := partner.NewClient(partner.Config{
		BaseURL:       cfg.Partner.BaseURL,
		PartnerUUID:   cfg.Partner.PartnerUUID,
		UserProfileID: cfg.Partner.UserProfileID,
		History:       cfg.Partner.History,
		Timeout:       cfg.Partner.Timeout,
	}, tokens, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outcomes always go to the SSE hub, and to MQTT when enabled
	hub := sse.NewHub()
	go hub.Run(ctx)
	publishers := management.Publishers{hub}

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.NewPublisher(cfg.MQTT)
		if err := publisher.Start(); err != nil {
			log.Warnf("Failed to connect MQTT publisher: %v. Continuing without MQTT.", err)
			publisher = nil
		} else {
			publishers = append(publishers, publisher)
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	service := management.NewService(repo, client, management.Options{
		BaseContext: ctx,
		PacingDelay: cfg.Scheduler.PacingDelay,
		Catalog:     catalog,
		Publisher:   publishers,
		Metrics:     metrics,
		Now:         timezone.Now,
	})

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(service, cfg.Scheduler.Interval)
		sched.Start(ctx)
	} else {
		log.Info("Scheduler is disabled; drains run only via the API.")
	}

	srv := server.New(cfg.Server)
	srv.Mount("/api/login-management", handlers.NewLoginManagementHandler(service, repo))
	srv.Mount("/api/monitoring", handlers.NewMonitoringHandler(service, repo, tokens, client))
	srv.Mount("/api/monitoring", handlers.NewEventsHandler(hub))
	srv.Mount("/api/monitoring", handlers.NewMetricsHandler(registry))
	srv.Start()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	if sched != nil {
		sched.Stop()
	}
	if publisher != nil {
		publisher.Stop()
	}

	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Failed to shut down metrics: %v", err)
	}

	log.Info("Server exiting")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
