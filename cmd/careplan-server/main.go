package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careplan/careplan/internal/config"
	"github.com/careplan/careplan/internal/domain/order"
	"github.com/careplan/careplan/internal/platform/db"
	"github.com/careplan/careplan/internal/platform/events"
	"github.com/careplan/careplan/internal/platform/generator"
	"github.com/careplan/careplan/internal/platform/middleware"
	"github.com/careplan/careplan/internal/platform/telemetry"
	"github.com/careplan/careplan/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careplan-server",
		Short: "Care-plan order API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the care-plan API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if cfg.DatabaseDriver == config.DriverSQLite {
				gdb, err := db.OpenSQLite(cfg.DatabaseURL)
				if err != nil {
					return err
				}
				if err := order.AutoMigrate(gdb); err != nil {
					return fmt.Errorf("auto-migrate: %w", err)
				}
				fmt.Println("SQLite schema is up to date.")
				return nil
			}

			migrator, closeFn, err := newMigrator(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	addMigrateFlags(upCmd)
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseDriver == config.DriverSQLite {
				fmt.Println("SQLite databases are migrated with gorm AutoMigrate; no versioned status is kept.")
				return nil
			}

			ctx := context.Background()
			migrator, closeFn, err := newMigrator(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			schema, _ := cmd.Flags().GetString("schema")
			fmt.Printf("Migration status for schema: %s\n", schemaOrDefault(schema, cfg))
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	addMigrateFlags(statusCmd)
	cmd.AddCommand(statusCmd)

	return cmd
}

func addMigrateFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.Flags().String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func schemaOrDefault(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.DBSchema
}

// migrationSource picks the override directory when one is given and the
// embedded migrations otherwise.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func newMigrator(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*db.Migrator, func(), error) {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	schema = schemaOrDefault(schema, cfg)
	if !db.ValidSchema(schema) {
		return nil, nil, fmt.Errorf("invalid schema name %q", schema)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrationSource(dir), schema), pool.Close, nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// openStore connects the configured database and returns the order store,
// a health check for it and a close function.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (order.Store, db.Pinger, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		gdb, err := db.OpenSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := order.AutoMigrate(gdb); err != nil {
			return nil, nil, nil, fmt.Errorf("auto-migrate: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info().Str("driver", cfg.DatabaseDriver).Msg("opened database")
		return order.NewStoreGorm(gdb), db.PingFunc(sqlDB.PingContext), func() { sqlDB.Close() }, nil

	default:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Schema:   cfg.DBSchema,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info().Str("driver", cfg.DatabaseDriver).Str("schema", cfg.DBSchema).Msg("connected to database")
		return order.NewStorePG(pool), pool, pool.Close, nil
	}
}

type serverDeps struct {
	store     order.Store
	health    db.Pinger
	generator order.CarePlanGenerator
	publisher order.EventPublisher
	metrics   *telemetry.Metrics
}

// newServer builds the echo instance with middleware and routes.
func newServer(cfg *config.Config, logger zerolog.Logger, deps serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = clientIPExtractor(cfg.TrustProxyHeaders)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if deps.metrics != nil {
		e.Use(deps.metrics.Middleware())
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	svc := order.NewService(deps.store, deps.generator, logger)
	if deps.publisher != nil {
		svc.SetPublisher(deps.publisher)
	}
	if deps.metrics != nil {
		svc.SetMetrics(deps.metrics)
		e.GET("/metrics", deps.metrics.Handler())
	}

	rateLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})

	api := e.Group("/api")
	order.NewHandler(svc).RegisterRoutes(api, rateLimit)

	e.GET("/health", db.HealthHandler(deps.health, cfg.DatabaseDriver))
	return e
}

// clientIPExtractor decides where c.RealIP comes from. Forwarding headers
// are only honoured behind a trusted proxy; otherwise the peer address is used.
func clientIPExtractor(trustProxy bool) echo.IPExtractor {
	if trustProxy {
		return echo.ExtractIPFromXFFHeader()
	}
	return echo.ExtractIPDirect()
}

func runServer() error {
	logger := newLogger("")
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	store, health, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer closeStore()

	if cfg.AnthropicAPIKey == "" {
		logger.Warn().Msg("ANTHROPIC_API_KEY is not set; care-plan generation will fail")
	}

	deps := serverDeps{
		store:     store,
		health:    health,
		generator: generator.New(cfg.GeneratorConfig()),
	}

	if cfg.MetricsEnabled {
		deps.metrics = telemetry.New()
	}

	if cfg.RedisURL != "" {
		pub, err := events.NewRedisPublisher(ctx, cfg.RedisURL, cfg.OrderEventsStream)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer pub.Close()
		deps.publisher = pub
		logger.Info().Str("stream", pub.Stream()).Msg("publishing order events")
	}

	e := newServer(cfg, logger, deps)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
