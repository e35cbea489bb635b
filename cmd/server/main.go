package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/bostarter/backend/internal/auth"
	"github.com/bostarter/backend/internal/config"
	"github.com/bostarter/backend/internal/events"
	"github.com/bostarter/backend/internal/health"
	"github.com/bostarter/backend/internal/logger"
	"github.com/bostarter/backend/internal/metrics"
	appmw "github.com/bostarter/backend/internal/middleware"
	"github.com/bostarter/backend/internal/ratelimit"
	"github.com/bostarter/backend/internal/repository"
	"github.com/bostarter/backend/internal/security"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if cfg.JWT.AccessSecret == "" {
		log.Error("JWT_ACCESS_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.JWT.RefreshSecret == "" {
		log.Error("JWT_REFRESH_SECRET environment variable is required")
		os.Exit(1)
	}

	db, err := setupDatabase(cfg, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoClient, err := events.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.MaxPoolSize, cfg.Mongo.MinPoolSize)
	cancel()
	if err != nil {
		log.Error("failed to connect to event store", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Warn("event store disconnect failed", "error", err)
		}
	}()

	eventStore := events.NewMongoStore(
		mongoClient.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := eventStore.EnsureIndexes(ctx); err != nil {
		log.Warn("event store index bootstrap failed", "error", err)
	}
	cancel()

	eventLogger := events.NewLogger(eventStore, log, events.Config{
		MaxRetries:    cfg.Events.MaxRetries,
		RetryBaseWait: cfg.Events.RetryBaseWait,
		RetryDeadline: cfg.Events.RetryDeadline,
		CacheTTL:      cfg.Events.CacheTTL,
		CacheSize:     cfg.Events.CacheSize,
		DedupWindow:   cfg.Events.DedupWindow,
		VolumeCap:     cfg.Events.VolumeCap,
		VolumeWindow:  cfg.Events.VolumeWindow,
	})

	// Redis is optional; without it each instance keeps its own windows.
	var redisClient *redis.Client
	var limiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = ratelimit.NewRedisLimiter(redisClient)
		log.Info("rate limiting backed by redis", "addr", cfg.Redis.Addr)
	} else {
		limiter = ratelimit.NewWindowLimiter()
		log.Info("rate limiting in process memory")
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret:       cfg.JWT.AccessSecret,
		RefreshSecret:      cfg.JWT.RefreshSecret,
		AccessTokenExpiry:  cfg.JWT.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.JWT.RefreshTokenExpiry,
		Issuer:             cfg.JWT.Issuer,
	})

	passwordValidator := auth.NewPasswordValidator(auth.PasswordPolicy{
		MinLength:     cfg.Security.PasswordMinLength,
		RequireUpper:  cfg.Security.PasswordRequireUpper,
		RequireLower:  cfg.Security.PasswordRequireLower,
		RequireDigit:  cfg.Security.PasswordRequireDigit,
		RequireSymbol: cfg.Security.PasswordRequireSymbol,
	})

	csrfTokens := security.NewTokenStore(cfg.Security.CSRFTokenTTL)
	sanitizer := security.NewSanitizer(cfg.Security.MaxFieldLength)

	authService := auth.NewAuthService(
		userRepo,
		sessionRepo,
		tokenService,
		passwordValidator,
		csrfTokens,
		sanitizer,
		limiter,
		eventLogger,
		log,
		auth.Config{
			LoginMaxAttempts:   cfg.Security.LoginMaxAttempts,
			LoginWindow:        cfg.Security.LoginWindow,
			AdminCodeWindow:    cfg.Security.AdminCodeWindow,
			SessionIdleTimeout: cfg.Security.SessionIdleTimeout,
		},
	)

	authHandler := auth.NewAuthHandler(authService, cfg.Server.SecureCookies, cfg.JWT.RefreshTokenExpiry)
	eventsHandler := events.NewHandler(eventLogger)

	authMiddleware := appmw.NewAuthMiddleware(tokenService, authService)
	csrfMiddleware := appmw.NewCSRFMiddleware(csrfTokens, eventLogger)
	rateLimitMiddleware := appmw.NewRateLimitMiddleware(limiter, eventLogger, log)

	dbStats := metrics.NewDBStatsCollector(db.DB, log)
	dbStats.Start(30 * time.Second)
	defer dbStats.Stop()

	healthHandler := health.NewHandler(health.Config{
		DB:          db,
		MongoClient: mongoClient,
		RedisClient: redisClient,
		Version:     version,
	})

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(appmw.StructuredLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(security.Headers)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://bostarter.example", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimitMiddleware.Limit(appmw.ProfileAuth))
			auth.RegisterRoutes(r, authHandler, csrfMiddleware.Verify)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimitMiddleware.Limit(appmw.ProfileAdmin))
			r.Use(authMiddleware.Authenticate)
			r.Use(authMiddleware.RequireRole(repository.RoleAdmin))
			eventsHandler.RegisterRoutes(r)
		})
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server exited")
}

// setupDatabase opens and configures the MySQL connection pool
func setupDatabase(cfg *config.Config, log *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database",
		"db", cfg.Database.DBName,
		"host", cfg.Database.Host,
		"port", cfg.Database.Port)
	return db, nil
}
