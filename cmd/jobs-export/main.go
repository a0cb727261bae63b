// Command jobs-export writes the conversion job history from the configured
// database to an .xlsx report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joseph-ayodele/deckconvert/internal/common"
	"github.com/joseph-ayodele/deckconvert/internal/export"
	repo "github.com/joseph-ayodele/deckconvert/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	// Parse CLI flags
	var (
		out     = flag.String("out", "conversion-jobs.xlsx", "output XLSX file path")
		fromStr = flag.String("from", "", "from date YYYY-MM-DD")
		toStr   = flag.String("to", "", "to date YYYY-MM-DD")
	)
	flag.Parse()

	// Parse date filters
	var from, to *time.Time
	if *fromStr != "" {
		if parsed, err := time.Parse(time.DateOnly, *fromStr); err != nil {
			printError("Error: invalid --from date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		} else {
			from = &parsed
		}
	}
	if *toStr != "" {
		if parsed, err := time.Parse(time.DateOnly, *toStr); err != nil {
			printError("Error: invalid --to date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		} else {
			to = &parsed
		}
	}
	if from != nil && to != nil && to.Before(*from) {
		printError("Error: --to is before --from\n")
		os.Exit(1)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	db, err := repo.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close(logger)

	jobsRepo := repo.NewConversionJobRepository(db, logger)

	// Export to XLSX
	logger.Info("exporting to XLSX", "output", *out)
	xlsxBytes, err := export.NewService(jobsRepo, logger).ExportJobsXLSX(ctx, from, to)
	if err != nil {
		logger.Error("failed to export jobs", "error", err)
		os.Exit(1)
	}

	// Write to file
	if err := os.WriteFile(*out, xlsxBytes, 0o644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}
	logger.Info("export complete", "output", *out, "bytes", len(xlsxBytes))
}
