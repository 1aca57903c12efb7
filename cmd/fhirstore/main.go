package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fhirworks/fhirstore/internal/config"
	"github.com/fhirworks/fhirstore/internal/platform/auth"
	"github.com/fhirworks/fhirstore/internal/platform/db"
	"github.com/fhirworks/fhirstore/internal/platform/fhirpath"
	"github.com/fhirworks/fhirstore/internal/registry"
	"github.com/fhirworks/fhirstore/internal/repo"
	"github.com/fhirworks/fhirstore/internal/schema"
	"github.com/fhirworks/fhirstore/internal/search"
	"github.com/fhirworks/fhirstore/internal/server"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhirstore",
		Short: "FHIR R4 persistence and query engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(schemaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR server",
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
		Short: "Apply pending migrations, optionally up to a target version",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("target")
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx, target)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s).\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().Int("target", 0, "Highest version to apply (0 = all)")
	cmd.AddCommand(upCmd)

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations above the target version (0 reverts everything)",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("target")
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Down(ctx, target)
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Printf("Reverted %d migration(s).\n", count)
				return nil
			})
		},
	}
	downCmd.Flags().Int("target", 0, "Version to roll back to (0 = revert everything)")
	cmd.AddCommand(downCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%-10s %-50s %-10s %s\n", "VERSION", "DESCRIPTION", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-50s %-10s %s\n", s.Version, s.Description, status, appliedAt)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the generated database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ddl",
		Short: "Print the DDL generated from the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.NewWithBase()
			reg.Freeze()
			for _, stmt := range schema.GenerateDDL(schema.Build(reg)) {
				fmt.Println(stmt + ";")
			}
			return nil
		},
	})
	return cmd
}

// withMigrator wires config, pool, registry and the migration set around
// a migration action.
func withMigrator(fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		MinConns:       cfg.DBMinConns,
		AcquireTimeout: cfg.DBAcquireTimeout,
		IdleTimeout:    cfg.DBIdleTimeout,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	reg := registry.NewWithBase()
	reg.Freeze()

	migrator, err := db.NewMigrator(pool, schema.Migrations(reg))
	if err != nil {
		return err
	}
	if err := migrator.EnsureMigrationsTable(ctx); err != nil {
		return err
	}
	return fn(ctx, migrator)
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	logger = logger.Level(level)
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger().Level(level)
	}

	cache, err := fhirpath.NewLRUCache(cfg.FHIRPathCacheSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build expression cache")
	}
	fhirpath.SetExpressionCache(cache)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		MinConns:       cfg.DBMinConns,
		AcquireTimeout: cfg.DBAcquireTimeout,
		IdleTimeout:    cfg.DBIdleTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg := registry.NewWithBase()
	reg.Freeze()

	repository := repo.NewRepository(pool, reg, nil)
	engine := search.NewEngine(pool, reg, search.Limits{
		DefaultCount: cfg.SearchDefaultCount,
		MaxCount:     cfg.SearchMaxCount,
	}, cfg.BaseURL)

	srv := server.New(server.Options{
		Repo:   repository,
		Engine: engine,
		Pool:   pool,
		Logger: logger,
		Auth: auth.Config{
			SigningKey: []byte(cfg.AuthSigningKey),
			Optional:   cfg.IsDev() && cfg.AuthSigningKey == "",
		},
		BaseURL: cfg.BaseURL,
		Version: version,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server starting")
		if err := srv.Start(addr); err != nil {
			logger.Info().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
