/*
main.go - Application entry point

PURPOSE:
  Command-line front end of the metrics engine: the HTTP server plus
  one-shot commands for reports, the catalog and schema migrations.

COMMANDS:
  serve     Start the HTTP API (default)
  report    Compute one client's report and write it as json, csv or xlsx
  catalog   Print the metric catalog in evaluation order
  migrate   Apply (up), roll back (down) or show (version) the schema

STARTUP SEQUENCE (serve):
  1. Load configuration (file, .env, FM_* environment)
  2. Build the logger
  3. Load the classification ruleset and open the SQLite store
  4. Build catalog, engine and report service
  5. Start the cache warmer when enabled
  6. Start the server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the cache warmer
  2. Stop accepting new connections
  3. Wait for active requests (server.shutdown_timeout)
  4. Close the database

EXAMPLES:
  ./server serve --config ./fm.yaml
  FM_DATABASE_PATH=":memory:" ./server serve
  ./server report --client 101 --format xlsx --out report.xlsx
  ./server migrate version

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/warp/finance-metrics/api"
	"github.com/warp/finance-metrics/catalog"
	"github.com/warp/finance-metrics/classify"
	"github.com/warp/finance-metrics/config"
	"github.com/warp/finance-metrics/engine"
	"github.com/warp/finance-metrics/ledger"
	"github.com/warp/finance-metrics/logging"
	"github.com/warp/finance-metrics/report"
	"github.com/warp/finance-metrics/store/sqlite"
	"golang.org/x/time/rate"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Financial metrics engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to a config file (yaml, json or toml)")

	root.AddCommand(serveCmd(), reportCmd(), catalogCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *sqlite.Store
	cat     *catalog.Catalog
	reports *report.Service
}

func setup() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	cl := classify.Default()
	if cfg.Classify.RulesPath != "" {
		if cl, err = classify.Load(cfg.Classify.RulesPath); err != nil {
			return nil, fmt.Errorf("failed to load classification rules: %w", err)
		}
	}

	store, err := sqlite.New(cfg.Database.Path, cl)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	cat, err := catalog.New()
	if err != nil {
		store.Close()
		return nil, err
	}

	eng := engine.New(cat, store, engine.Config{Workers: cfg.Engine.Workers, QueryTimeout: cfg.Engine.QueryTimeout})
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		cat:     cat,
		reports: report.NewService(eng, store, cl.Version(), cfg.Cache.TTL, cfg.Cache.CleanupInterval),
	}, nil
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = a.logger.WithContext(ctx)

	h := api.NewHandler(a.store, a.reports, a.cat)
	h.Recompute = rate.NewLimiter(rate.Every(a.cfg.Server.RecomputeEvery), a.cfg.Server.RecomputeBurst)
	if a.cfg.Warmer.Enabled {
		h.Warmer.Start(ctx, a.cfg.Warmer.Interval)
		defer h.Warmer.Stop()
	}

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      api.NewRouter(h, a.logger, a.cfg.Server.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	raw, derived := a.cat.Size()
	a.logger.Info().
		Str("addr", a.cfg.Server.Addr).
		Str("database", a.cfg.Database.Path).
		Str("catalog_version", a.cat.Version()).
		Int("raw_metrics", raw).
		Int("derived_metrics", derived).
		Msg("server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info().Msg("server stopped")
	return nil
}

// =============================================================================
// REPORT
// =============================================================================

func reportCmd() *cobra.Command {
	var (
		client int64
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Compute one client's report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.store.Close()

			ctx := a.logger.WithContext(cmd.Context())
			rep, err := a.reports.Get(ctx, ledger.ClientID(client))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return writeReport(w, rep, format)
		},
	}
	cmd.Flags().Int64Var(&client, "client", 0, "Client id")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json, csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	cmd.MarkFlagRequired("client")
	return cmd
}

func writeReport(w io.Writer, rep *report.Report, format string) error {
	switch strings.ToLower(format) {
	case "csv":
		return report.WriteCSV(w, rep)
	case "xlsx":
		return report.WriteXLSX(w, rep)
	case "json":
		values := make(map[string]string, len(rep.Rows))
		for _, row := range rep.Rows {
			values[string(row.Name)] = row.Display().StringFixed(2)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(values)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the metric catalog in evaluation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.New()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "# catalog %s\n", cat.Version())
			for _, s := range cat.Specs() {
				fmt.Fprintf(tw, "raw\t%s\t%s\t%s\n", s.Name, s.Aggregation, s.Window)
			}
			for _, r := range cat.Order() {
				for _, k := range r.Writes {
					fmt.Fprintf(tw, "rule\t%s\t%s\t%d inputs\n", k, r.Name, len(r.Reads))
				}
			}
			return tw.Flush()
		},
	}
}

// =============================================================================
// MIGRATE
// =============================================================================

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store applies pending migrations.
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.store.Close()

			if args[0] == "down" {
				if err := a.store.MigrateDown(); err != nil {
					return err
				}
			}
			v, dirty, err := a.store.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	}
}
