// Command audiobooks crawls the audiobook catalog and writes the
// enriched CSV table. Subcommands: run (single pass), crawl (listing
// only), enrich (from a previously crawled ids CSV).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arashpr/go-scrape-audiobooks/config"
	"github.com/arashpr/go-scrape-audiobooks/models"
	"github.com/arashpr/go-scrape-audiobooks/pipeline"
	"github.com/arashpr/go-scrape-audiobooks/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.yaml"

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "audiobooks",
		Short:         "Audiobook catalog crawler and enricher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to YAML config")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Crawl listing pages and enrich each entry in one pass",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPipeline(func(ctx context.Context, p *pipeline.Pipeline, cfg *config.Config) error {
					start := time.Now()
					stats, err := p.Run(ctx)
					if err != nil {
						return err
					}
					printEnrichSummary(stats, time.Since(start), cfg.Outputs.BooksCSV)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "crawl",
			Short: "Crawl listing pages and write the ids CSV",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPipeline(func(ctx context.Context, p *pipeline.Pipeline, cfg *config.Config) error {
					result, err := p.Crawl(ctx)
					if result != nil && len(result.Entries) > 0 {
						fmt.Printf("wrote %d ids to %s (%d pages, %d duplicates dropped)\n",
							len(result.Entries), cfg.Outputs.IDsCSV, result.PagesSeen, result.Duplicates)
					}
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "enrich",
			Short: "Enrich a previously crawled ids CSV into the final table",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPipeline(func(ctx context.Context, p *pipeline.Pipeline, cfg *config.Config) error {
					start := time.Now()
					stats, err := p.Enrich(ctx)
					if err != nil {
						return err
					}
					printEnrichSummary(stats, time.Since(start), cfg.Outputs.BooksCSV)
					return nil
				})
			},
		},
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// withPipeline loads config, wires logging/metrics/signals, runs fn, and
// tears everything down.
func withPipeline(fn func(context.Context, *pipeline.Pipeline, *config.Config) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Verbose = true
	}

	logger := newLogger(cfg.Verbose)
	slog.SetDefault(logger)

	metrics := scraper.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current item")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p, err := pipeline.New(cfg, metrics)
	if err != nil {
		return err
	}

	runErr := fn(ctx, p, cfg)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	return runErr
}

// loadConfig reads the config file, falling back to built-in defaults
// when the default path is absent. An explicitly given path must exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.DefaultConfig(), nil
		}
	}
	return config.Load(path)
}

func printEnrichSummary(stats *models.EnrichStats, duration time.Duration, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Run complete")
	fmt.Printf("  Succeeded:   %d\n", stats.Succeeded)
	fmt.Printf("  Skipped:     %d\n", stats.Skipped)
	fmt.Printf("  Failed:      %d\n", stats.Failed)
	fmt.Printf("  Resumed:     %d\n", stats.Resumed)
	fmt.Printf("  Total:       %d\n", stats.Total)
	fmt.Printf("  Duration:    %v\n", duration)
	fmt.Printf("  Output file: %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) *slog.Logger {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
