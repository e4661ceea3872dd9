package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/carebridge/consent-api/internal/system/config"
	"github.com/carebridge/consent-api/internal/system/database"
	"github.com/carebridge/consent-api/internal/system/database/provider"
	"github.com/carebridge/consent-api/internal/system/log"
)

// Version information (set by build script)
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "consent-server",
		Short:         "Patient consent and access grant service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// Priority: --config > CONFIG_PATH > repository/conf/deployment.yaml discovery
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to deployment.yaml")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(sweepCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		log.GetLogger().Error("Command failed", log.Error(err))
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the expiration sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, *configPath, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending schema migrations before serving")
	return cmd
}

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single expiration pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer closeDB()

			dbClient, err := provider.GetDBProvider().GetConsentDBClient()
			if err != nil {
				return err
			}
			svc := newServices(newStoreRegistry(dbClient))

			result, err := newSweeper(cfg, svc).SweepOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			log.GetLogger().Info("Sweep completed",
				log.Int("requests_expired", result.RequestsExpired),
				log.Int("requests_skipped", result.RequestsSkipped),
				log.Int("requests_failed", result.RequestsFailed),
				log.Int64("grants_expired", result.GrantsExpired))
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema for the configured database type",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer closeDB()
			return database.Migrate(cmd.Context(), db)
		},
	}
}

// bootstrap loads configuration, configures logging and opens the database.
func bootstrap(configPath string) (*config.Config, *database.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	logger := log.GetLogger()
	logger.Info("Configuration loaded successfully",
		log.String("version", version),
		log.String("build_date", buildDate),
		log.String("log_level", logger.Level()),
		log.String("database_type", cfg.Database.Consent.Type))

	db, err := database.Initialize(&cfg.Database.Consent)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	provider.InitDBProvider(db)

	return cfg, db, nil
}

func closeDB() {
	if err := provider.GetDBProviderCloser().Close(); err != nil {
		log.GetLogger().Error("Failed to close database", log.Error(err))
	}
}

func runServer(ctx context.Context, configPath string, migrate bool) error {
	cfg, db, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	logger := log.GetLogger()

	if migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	dbClient, err := provider.GetDBProvider().GetConsentDBClient()
	if err != nil {
		return err
	}

	engine := newEngine(cfg)
	svc := registerServices(engine, cfg, db, newStoreRegistry(dbClient))

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddress(),
		Handler:        engine,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server...", log.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Sweeper.Enabled {
		sw := newSweeper(cfg, svc)
		g.Go(func() error {
			return sw.Run(gctx)
		})
	} else {
		logger.Info("Expiration sweeper disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited gracefully")
	return nil
}
