package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-twofa/pkg/client"
	"github.com/tendant/simple-twofa/pkg/config"
	"github.com/tendant/simple-twofa/pkg/metrics"
	"github.com/tendant/simple-twofa/pkg/ratelimit"
	"github.com/tendant/simple-twofa/pkg/twofa"
	"github.com/tendant/simple-twofa/pkg/twofa/api"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	loadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to read configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting 2FA service", "persistence", cfg.TwoFA.Persistence, "prefix", cfg.TwoFA.Prefix)

	var pool *pgxpool.Pool
	if cfg.TwoFA.UsesPostgres() {
		pool, err = dbutils.NewDbPool(context.Background(), cfg.Database.ToDbConfig())
		if err != nil {
			slog.Error("Failed to connect to database",
				"host", cfg.Database.Host,
				"port", cfg.Database.Port,
				"database", cfg.Database.Database,
				"error", err)
			os.Exit(1)
		}
		defer pool.Close()
		slog.Info("Database connected", "database", cfg.Database.Database)
	}

	stores, err := twofa.NewTwoFactorStores(cfg.TwoFA.Persistence, twofa.StoreConfig{
		Pool:    pool,
		DataDir: cfg.TwoFA.DataDir,
	})
	if err != nil {
		slog.Error("Failed to create 2FA stores", "error", err)
		os.Exit(1)
	}
	seedMemoryStores(stores)

	opts := []twofa.Option{twofa.WithIssuer(cfg.TwoFA.AppName)}
	if redisClient := cfg.Redis.NewClient(); redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, twofa.WithBackupCodeLimiter(
			twofa.NewBackupCodeLimiter(redisClient, cfg.TwoFA.BackupMaxAttempts, cfg.TwoFA.BackupCooldown),
		))
		slog.Info("Backup code attempt limiter enabled", "addr", cfg.Redis.Addr)
	} else {
		slog.Warn("REDIS_ADDR not set, backup code attempts are not limited")
	}

	twoFaService := twofa.NewTwoFaService(twofa.NewResolver(stores.Users, stores.Admins), opts...)

	metrics.MustRegister()

	verifyRoutes := make([]string, 0, len(api.VerifyRoutes))
	for _, route := range api.VerifyRoutes {
		verifyRoutes = append(verifyRoutes, prefixRoute(cfg.TwoFA.Prefix, route))
	}
	rateLimiter := ratelimit.NewMiddleware(cfg.RateLimit.ToMiddlewareConfig(verifyRoutes...))
	defer rateLimiter.Close()

	tokenAuth := cfg.JWT.NewJWTAuth()
	handle := api.NewHandle(twoFaService,
		api.WithDebugRoutes(cfg.TwoFA.DebugRoutes),
		api.WithElevatedGuard(client.Elevated(client.Verifier(tokenAuth), cfg.JWT.ElevatedRoles...)),
	)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	server.R.Handle("/metrics", promhttp.Handler())
	server.R.Route(cfg.TwoFA.Prefix, func(r chi.Router) {
		if cfg.RateLimit.TrustProxy {
			r.Use(middleware.RealIP)
		}
		r.Use(rateLimiter.Handler)
		r.Mount("/", api.TwoFaHandler(handle))
	})

	server.Run()
}

// prefixRoute turns "POST /verify" into "POST /2fa/verify"
func prefixRoute(prefix, route string) string {
	method, path, ok := strings.Cut(route, " ")
	if !ok {
		return route
	}
	return method + " " + prefix + path
}

// seedMemoryStores gives the in-memory backend one user and one admin to enroll
func seedMemoryStores(stores twofa.Stores) {
	users, ok := stores.Users.(*twofa.InMemoryStore)
	if !ok {
		return
	}
	admins, ok := stores.Admins.(*twofa.InMemoryStore)
	if !ok {
		return
	}

	userID := uuid.New().String()
	adminID := uuid.New().String()
	users.Put(twofa.Record{PrincipalID: userID, Email: "user@example.com"})
	admins.Put(twofa.Record{PrincipalID: adminID, Email: "admin@example.com"})

	slog.Info("Seeded in-memory principals", "userId", userID, "adminId", adminID)
}

func loadEnvFile() {
	execPath, err := os.Executable()
	if err != nil {
		return
	}

	envFile := filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		cwd, _ := os.Getwd()
		envFile = filepath.Join(cwd, ".env")
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		slog.Debug("No .env file found (using environment variables or defaults)")
		return
	}

	slog.Info("Loading configuration from .env file", "path", envFile)
	if err := godotenv.Load(envFile); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}
}
