package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/ingestion"
	"github.com/wintrouble/backend/pkg/logger"
)

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest every document under a directory",
	Long: `Walks dir (default: ingestion.dir from the config) and ingests each file
whose source copy is new or newer than its last successful ingestion.
Failed documents are reported and recorded; the others still run.`,
	Example: `  wintrouble ingest
  wintrouble ingest ./docs --source gdrive_export`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label recorded in the ledger (default: ingestion.source)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	dir := cfg.Ingestion.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	source := cfg.Ingestion.Source
	if ingestSource != "" {
		source = ingestSource
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	log.Info("Ingesting directory", zap.String("dir", dir), zap.String("source", source))
	results, err := svc.processor.Ingest(ctx, ingestion.NewDirEnumerator(dir, source))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tDOCUMENT\tSTATUS\tCHUNKS\tERROR")
	var failed int
	for _, r := range results {
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Source, r.DocumentID, r.Status, r.Chunks, msg)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}
