package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/api"
	"github.com/wintrouble/backend/internal/ingestion"
	"github.com/wintrouble/backend/internal/metrics"
	"github.com/wintrouble/backend/pkg/logger"
)

var (
	serveDev         bool
	serveIngestStart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	Example: `  wintrouble serve
  wintrouble serve --config ./config/config.yaml --dev
  wintrouble serve --ingest-on-start`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "development mode: request logging, no HSTS")
	serveCmd.Flags().BoolVar(&serveIngestStart, "ingest-on-start", false, "ingest the configured document directory before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	log.Info("Starting wintrouble API server", zap.String("version", version))
	metrics.Init()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	svc, err := buildServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	enumerator := ingestion.NewDirEnumerator(cfg.Ingestion.Dir, cfg.Ingestion.Source)
	if serveIngestStart {
		if _, err := svc.processor.Ingest(ctx, enumerator); err != nil {
			log.Warn("Startup ingestion failed", zap.Error(err))
		}
	}

	deps := api.Deps{
		Engine:     svc.engine,
		Feedback:   svc.feedback,
		Queries:    svc.queries,
		Ingester:   svc.processor,
		Ingestions: svc.db.IngestionLedger(),
		Enumerator: enumerator,
		Ready:      svc.db.Ping,
		Logger:     log,
	}
	if svc.catalog != nil {
		deps.Catalog = svc.catalog
	}

	server := api.NewServer(deps, api.Options{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		RateLimit:    cfg.Server.RateLimit,
		CORSOrigins:  cfg.Server.CORSOrigins,
		UploadDir:    cfg.Server.UploadDir,
		Development:  serveDev,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Server starting", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info("Server shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
	return nil
}
