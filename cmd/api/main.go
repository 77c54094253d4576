// @title Eventregistry API
// @version 1.0
// @description Event registration service with an atomic capacity-accounting registration engine.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eventregistry/config"
	_ "eventregistry/docs"
	"eventregistry/internal/adapters/auth"
	"eventregistry/internal/adapters/email"
	"eventregistry/internal/database"
	delivery "eventregistry/internal/delivery/http"
	"eventregistry/internal/delivery/http/controllers"
	"eventregistry/internal/delivery/http/middleware"
	"eventregistry/internal/metrics"
	"eventregistry/internal/repository/postgres"
	"eventregistry/internal/services"
)

const bcryptCost = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := config.NewLogger()

	// The database handle is the single store connection for the process:
	// acquired here, closed on shutdown, and passed down explicitly.
	if err := database.RunMigrations(cfg.DBUrl); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	db, err := database.Open(cfg.DBUrl)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Adapters
	hasher := auth.NewBcryptHasher(bcryptCost)
	tokenIssuer, tokenVerifier := auth.NewJWTTokens(cfg.JWTSecret)
	mailer, err := email.NewMailer(email.MailerConfig{
		Provider:    cfg.Mailer.Provider,
		FromAddress: cfg.Mailer.FromAddress,
		FromName:    cfg.Mailer.FromName,
		SES: email.SESConfig{
			Region:          cfg.Mailer.SESRegion,
			AccessKeyID:     cfg.Mailer.SESAccessKey,
			SecretAccessKey: cfg.Mailer.SESSecretKey,
		},
	})
	if err != nil {
		logger.Error("mailer setup failed", "err", err)
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// Repositories and services
	userRepo := postgres.NewUserRepository(db)
	eventRepo := postgres.NewEventRepository(db)
	registrationStore := postgres.NewRegistrationStore(db)

	emailService := services.NewEmailService(mailer, email.NewTemplateRenderer())
	userService := services.NewUserService(userRepo, hasher, tokenIssuer, cfg.TokenExpiry, emailService)
	eventService := services.NewEventService(eventRepo, 5*time.Second)
	engine := services.NewRegistrationService(registrationStore, emailService, collector, logger, cfg.RegistrationTxTimeout)

	// HTTP wiring
	mux := delivery.NewRouter(delivery.RouterDeps{
		Logger:                 logger,
		DB:                     db,
		TokenVerifier:          tokenVerifier,
		MetricsRegistry:        registry,
		AuthController:         controllers.NewAuthController(logger, userService),
		UserController:         controllers.NewUserController(logger, userService),
		EventController:        controllers.NewEventController(logger, eventService),
		RegistrationController: controllers.NewRegistrationController(logger, engine, eventService),
	})

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(logger, handler)
	handler = middleware.RequestID(handler)
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(cfg.CORSAllowedOrigins, handler)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server started", "port", cfg.Port, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
}
