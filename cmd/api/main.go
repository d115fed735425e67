package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/diagnosis/staybook/internal/http/middleware"
	"github.com/diagnosis/staybook/internal/http/router"
	"github.com/diagnosis/staybook/internal/platform/auth"
	"github.com/diagnosis/staybook/internal/repo/postgres"
	"github.com/diagnosis/staybook/internal/service"
	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/database"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		logger.Error("Auth API stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger.Setup(os.Stdout, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("Database migrations applied")
	}

	// Event bus is optional
	var publisher events.Publisher = events.Noop{}
	if cfg.NATS.URL != "" {
		bus, err := events.NewNATSEventBus(cfg.NATS.URL)
		if err != nil {
			logger.Warn("NATS unavailable, events disabled", "error", err)
		} else {
			publisher = bus
		}
	}
	defer publisher.Close()

	// Login throttle is optional
	var limiter *middleware.RateLimiter
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		trusted, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = middleware.NewRateLimiter(rdb, "staybook:login", cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow,
			middleware.WithTrustedProxies(trusted))
	}

	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	m := metrics.NewAuth()
	authService := service.NewAuthService(
		postgres.NewUsersRepo(pool),
		auth.NewPasswordHasher(nil),
		issuer,
		publisher,
		m,
	)

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: router.New(router.Deps{
			Auth:           authService,
			Verifier:       issuer,
			Metrics:        m,
			LoginLimiter:   limiter,
			HealthCheck:    pool.Ping,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting auth API", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down auth API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
