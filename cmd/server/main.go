package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/config"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/core"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/ingress"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/logging"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/report"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
	_ "github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules/ruleset" // Register rulesets
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/validator"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/web"
)

// exitErr carries a process exit code through cobra.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func main() {
	// Overload lets a local .env win over the shell environment.
	if err := godotenv.Overload(); err == nil {
		slog.Info("loaded .env file")
	}

	root := &cobra.Command{
		Use:           "validator903",
		Short:         "Validate SSDA903 children looked after returns",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), validateCmd(), rulesCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration, logging, tracing and the postcode reference.
func setup() (*config.Config, *datastore.Table, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	if cfg.Logging.Spans {
		otel.SetTracerProvider(logging.NewTracerProvider(logger))
		slog.Debug("span logging enabled")
	}

	if cfg.Validation.PostcodesPath == "" {
		slog.Info("no postcode reference configured; geographic fields will not be derived")
		return cfg, nil, nil
	}
	f, err := os.Open(cfg.Validation.PostcodesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open postcodes: %w", err)
	}
	defer f.Close()
	postcodes, err := ingress.LoadPostcodes(f)
	if err != nil {
		return nil, nil, fmt.Errorf("load postcodes: %w", err)
	}
	slog.Info("postcode reference loaded", "postcodes", postcodes.Len())
	return cfg, postcodes, nil
}

// connectExport opens the results database pool when one is configured.
func connectExport(ctx context.Context, cfg config.ExportConfig) (*pgxpool.Pool, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse export database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect export database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping export database: %w", err)
	}
	if u, err := url.Parse(cfg.DatabaseURL); err == nil {
		slog.Info("connected to export database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool, nil
}

func newService(ctx context.Context, cfg *config.Config, postcodes *datastore.Table, reg prometheus.Registerer) (*core.Service, func(), error) {
	pool, err := connectExport(ctx, cfg.Export)
	if err != nil {
		return nil, nil, err
	}
	opts := core.Options{
		Limiter:        core.NewSessionLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		DefaultRuleset: cfg.Validation.DefaultRuleset,
		RuleTimeout:    cfg.Validation.RuleTimeout,
		Postcodes:      postcodes,
		Logger:         slog.Default(),
	}
	if reg != nil {
		opts.Metrics = validator.NewMetrics(reg)
	}
	cleanup := func() {}
	if pool != nil {
		opts.Exporter = pool
		cleanup = pool.Close
	}
	svc, err := core.NewService(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the validation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, postcodes, err := setup()
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			svc, cleanup, err := newService(cmd.Context(), cfg, postcodes, reg)
			if err != nil {
				return err
			}
			defer cleanup()

			slog.Info("rulesets registered", "versions", rules.Versions(), "default", svc.DefaultRuleset())
			server := web.NewServer(svc, cfg, reg)

			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh

				slog.Info("shutting down...")
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()

				if active := svc.Limiter().Active(); active > 0 {
					slog.Info("waiting for validation sessions to finish", "active", active)
					if err := svc.Limiter().WaitForDrain(ctx); err != nil {
						slog.Warn("sessions did not finish in time", "error", err)
					}
				}
				if err := server.Shutdown(ctx); err != nil {
					slog.Error("shutdown error", "error", err)
				}
			}()

			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			slog.Info("server stopped")
			return nil
		},
	}
}

type validateFlags struct {
	thisYear, priorYear []string
	chLookup, scpLookup []string
	year, la, ruleset   string
	rules               []string
	format, out         string
	failOnFlags         bool
}

func validateCmd() *cobra.Command {
	var flags validateFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate return files once and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), flags, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&flags.thisYear, "this-year", nil, "This year's return file (may be repeated)")
	f.StringArrayVar(&flags.priorYear, "prior-year", nil, "Prior year's return file (may be repeated)")
	f.StringArrayVar(&flags.chLookup, "ch-lookup", nil, "Children's homes lookup, or a workbook with both lookups")
	f.StringArrayVar(&flags.scpLookup, "scp-lookup", nil, "Social care providers lookup")
	f.StringVar(&flags.year, "collection-year", "", "Collection year, e.g. 2023/24")
	f.StringVar(&flags.la, "la", "", "Local authority code")
	f.StringVar(&flags.ruleset, "ruleset", "", "Ruleset version (default from config)")
	f.StringSliceVar(&flags.rules, "rules", nil, "Only run these rule codes")
	f.StringVar(&flags.format, "format", report.FormatJSON, "Report format: "+strings.Join(report.Formats(), ", "))
	f.StringVar(&flags.out, "out", "", "Write the report to this file instead of stdout")
	f.BoolVar(&flags.failOnFlags, "fail-on-flags", false, "Exit 2 when any row is flagged")
	_ = cmd.MarkFlagRequired("collection-year")
	return cmd
}

func runValidate(ctx context.Context, flags validateFlags, stdout io.Writer) error {
	cfg, postcodes, err := setup()
	if err != nil {
		return err
	}
	svc, cleanup, err := newService(ctx, cfg, postcodes, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	var files []ingress.File
	for _, set := range []struct {
		role  ingress.Role
		paths []string
	}{
		{ingress.RoleThisYear, flags.thisYear},
		{ingress.RolePriorYear, flags.priorYear},
		{ingress.RoleCHLookup, flags.chLookup},
		{ingress.RoleSCPLookup, flags.scpLookup},
	} {
		for _, p := range set.paths {
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("read %s: %w", p, err)
			}
			files = append(files, ingress.File{Name: filepath.Base(p), Role: set.role, Data: data})
		}
	}

	sess, err := svc.Validate(ctx, core.Request{
		Files:          files,
		CollectionYear: flags.year,
		LocalAuthority: flags.la,
		Ruleset:        flags.ruleset,
		Rules:          flags.rules,
	})
	if err != nil {
		if core.IsUserFacing(err) {
			return &exitErr{code: 3, msg: core.FormatUserError(err)}
		}
		return err
	}

	w := stdout
	if flags.out != "" {
		f, err := os.Create(flags.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := sess.Report.Write(w, flags.format); err != nil {
		return err
	}
	if flags.failOnFlags && len(sess.Report.Detail) > 0 {
		return &exitErr{code: 2}
	}
	return nil
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules [version]",
		Short: "List rulesets, or the rules of one ruleset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, v := range rules.Versions() {
					reg, _ := rules.Ruleset(v)
					fmt.Fprintf(out, "%s\t%d rules\n", v, reg.Len())
				}
				return nil
			}
			reg, err := rules.Ruleset(args[0])
			if err != nil {
				return err
			}
			for _, r := range reg.Rules() {
				fmt.Fprintf(out, "%s\t%s\n", r.Code, r.Message)
			}
			return nil
		},
	}
}
