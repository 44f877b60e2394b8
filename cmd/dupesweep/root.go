package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/dupesweep/internal/config"
	"github.com/joshsymonds/dupesweep/internal/dedup"
	"github.com/joshsymonds/dupesweep/internal/logging"
	"github.com/joshsymonds/dupesweep/internal/rate"
	"github.com/joshsymonds/dupesweep/internal/report"
	"github.com/joshsymonds/dupesweep/internal/runtime"
)

type options struct {
	configPath      string
	tokenPath       string
	credentialsPath string
	dryRun          bool
	query           string
	label           string
	sheetRange      string
	pageSize        int
	delay           time.Duration
	rps             int
	reportJSON      string
	metricsFile     string
	logLevel        string
	noBrowser       bool
	authTimeout     time.Duration
}

func newRootCmd(version string) *cobra.Command {
	config.LoadEnv()

	var opts options
	cmd := &cobra.Command{
		Use:   "dupesweep",
		Short: "Moves duplicate Gmail messages out of the inbox and logs them to a spreadsheet",
		Long: `dupesweep scans a Gmail mailbox once, fingerprints every message by
subject, sender and internal date, and treats any later message with an
already-seen fingerprint as a duplicate. Duplicates are moved to a holding
label and recorded as a row in a Google Sheet.`,
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, opts, overridesFrom(cmd, opts), cmd.OutOrStdout()); err != nil {
				// Runtime failures are reported but do not change the exit status.
				logging.DefaultLogger().Error("dupesweep failed", logging.Err(err))
			}
			return nil
		},
	}
	cmd.SetVersionTemplate(`{{printf "dupesweep version %s\n" .Version}}`)

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", config.GetEnv("DUPESWEEP_CONFIG", "config.json"), "path to the JSON configuration file")
	f.StringVar(&opts.tokenPath, "token", config.GetEnv("DUPESWEEP_TOKEN_FILE", "token.json"), "path to the cached OAuth token")
	f.StringVar(&opts.credentialsPath, "credentials", config.GetEnv("DUPESWEEP_CREDENTIALS_FILE", "credentials.json"), "path to the OAuth client secret")
	f.BoolVar(&opts.dryRun, "dry-run", false, "log duplicates without moving them (overrides config testing)")
	f.StringVar(&opts.query, "query", "", "Gmail search query (default from config, else in:all)")
	f.StringVar(&opts.label, "label", "", "holding label for duplicates (default from config, else Duplicates)")
	f.StringVar(&opts.sheetRange, "sheet-range", "", "A1 range rows are appended to (default from config, else Sheet1!A1)")
	f.IntVar(&opts.pageSize, "page-size", 0, "Gmail list page size (<=500)")
	f.DurationVar(&opts.delay, "delay", dedup.DuplicateDelay, "pause after each duplicate")
	f.IntVar(&opts.rps, "rps", 0, "max remote requests per second (0 disables)")
	f.StringVar(&opts.reportJSON, "report-json", "", "write a JSON run report to this relative path")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus textfile metrics to this relative path")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	f.BoolVar(&opts.noBrowser, "no-browser", false, "print the consent URL instead of opening a browser")
	f.DurationVar(&opts.authTimeout, "auth-timeout", 5*time.Minute, "how long to wait for browser consent")

	cmd.AddCommand(newVersionCmd(version))
	return cmd
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dupesweep version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dupesweep version %s\n", version)
		},
	}
}

// specOverrides holds the flag values that take precedence over the config
// file. Only flags set on the command line are applied.
type specOverrides struct {
	dryRun     *bool
	query      *string
	label      *string
	sheetRange *string
	pageSize   *int
}

func overridesFrom(cmd *cobra.Command, opts options) specOverrides {
	var o specOverrides
	f := cmd.Flags()
	if f.Changed("dry-run") {
		o.dryRun = &opts.dryRun
	}
	if f.Changed("query") {
		o.query = &opts.query
	}
	if f.Changed("label") {
		o.label = &opts.label
	}
	if f.Changed("sheet-range") {
		o.sheetRange = &opts.sheetRange
	}
	if f.Changed("page-size") {
		o.pageSize = &opts.pageSize
	}
	return o
}

func (o specOverrides) apply(spec dedup.Spec) dedup.Spec {
	if o.dryRun != nil {
		spec.DryRun = *o.dryRun
	}
	if o.query != nil && *o.query != "" {
		spec.Query = *o.query
	}
	if o.label != nil && *o.label != "" {
		spec.LabelName = *o.label
	}
	if o.sheetRange != nil && *o.sheetRange != "" {
		spec.SheetRange = *o.sheetRange
	}
	if o.pageSize != nil {
		spec.PageSize = *o.pageSize
	}
	return spec
}

func run(ctx context.Context, opts options, overrides specOverrides, stdout io.Writer) error {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	runID := uuid.NewString()
	logger := logging.WithRunID(logging.New(os.Stderr, level), runID)

	cfg, err := config.Load(opts.configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	spec, err := dedup.SpecFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("config %s: %w", opts.configPath, err)
	}
	spec = overrides.apply(spec)
	logger.Debug("configuration loaded", "config", cfg.String())

	authLog := logging.WithOperation(logger, "authenticate")
	mgr := runtime.NewCredentialManager(runtime.CredentialOptions{
		TokenPath:   opts.tokenPath,
		SecretsPath: opts.credentialsPath,
		NoBrowser:   opts.noBrowser,
		Timeout:     opts.authTimeout,
		Logger:      authLog,
	})
	cred, err := mgr.Obtain(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	mail, err := runtime.NewGmailClient(ctx, cred)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}
	sheet, err := runtime.NewSheetsClient(ctx, cred)
	if err != nil {
		return fmt.Errorf("create sheets client: %w", err)
	}

	var limiter rate.Limiter
	if opts.rps > 0 {
		bucket := rate.NewTokenBucket(opts.rps)
		defer bucket.Stop()
		limiter = bucket
	}

	svc := dedup.NewService(mail, sheet, limiter, logging.WithOperation(logger, "scan"))
	svc.RunID = runID
	svc.Pause = rate.NewDelay(opts.delay)

	rep, runErr := svc.Run(ctx, spec)
	if err := writeOutputs(rep, opts, stdout); err != nil {
		logger.Error("writing run report failed", logging.Err(err))
	}
	if runErr != nil {
		return fmt.Errorf("run dupesweep: %w", runErr)
	}
	return nil
}

func writeOutputs(rep report.Report, opts options, stdout io.Writer) error {
	if err := report.PrintHuman(rep, stdout); err != nil {
		return fmt.Errorf("print report: %w", err)
	}
	if opts.reportJSON != "" {
		if err := report.WriteJSON(rep, opts.reportJSON); err != nil {
			return fmt.Errorf("write report json: %w", err)
		}
	}
	if opts.metricsFile != "" {
		if err := report.WriteMetrics(rep, opts.metricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
