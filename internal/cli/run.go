package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/gzhole/guardrailwatch/internal/catalog"
	"github.com/gzhole/guardrailwatch/internal/config"
	"github.com/gzhole/guardrailwatch/internal/guardrail"
	"github.com/gzhole/guardrailwatch/internal/history"
	"github.com/gzhole/guardrailwatch/internal/logger"
	"github.com/gzhole/guardrailwatch/internal/metrics"
	"github.com/gzhole/guardrailwatch/internal/runner"
)

const watchDebounce = 250 * time.Millisecond

var (
	runFixture          string
	runTfOutput         string
	runModel            string
	runGuardrailVersion string
	runDelay            time.Duration
	runRegion           string
	runProfile          string
	runRecord           bool
	runMetricsOut       string
	runWatch            bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the guardrail test suite",
	Long: `Send every fixture prompt through its guardrail and report how often
each guardrail intervened.

Examples:
  guardrailwatch run
  guardrailwatch run --fixture test_data/bedrock_inputs.yaml --delay 2s
  guardrailwatch run --record --metrics-out /var/lib/node_exporter/guardrails.prom
  guardrailwatch run --watch`,
	RunE: runCommand,
}

func init() {
	runCmd.Flags().StringVar(&runFixture, "fixture", "", "Test fixture file, JSON or YAML (default: "+config.DefaultFixturePath+")")
	runCmd.Flags().StringVar(&runTfOutput, "tf-output", "", "Terraform output JSON with guardrail_ids (default: "+config.DefaultTfOutputPath+")")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model or inference profile ID (default: "+config.DefaultModelID+")")
	runCmd.Flags().StringVar(&runGuardrailVersion, "guardrail-version", "", "Guardrail version to test (default: DRAFT)")
	runCmd.Flags().DurationVar(&runDelay, "delay", config.DefaultDelay, "Pause between requests, 0 disables")
	runCmd.Flags().StringVar(&runRegion, "region", "", "AWS region (default: config, then terraform aws_region, then environment)")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "AWS shared config profile")
	runCmd.Flags().BoolVar(&runRecord, "record", false, "Append results to the results log and run history")
	runCmd.Flags().StringVar(&runMetricsOut, "metrics-out", "", "Write run metrics in Prometheus text format to this file")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Rerun the suite whenever the fixture or terraform output changes")
	rootCmd.AddCommand(runCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(ctx, cfg, log, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.Close()

	if runWatch {
		return s.watch(ctx)
	}
	if _, err := s.runOnce(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("run interrupted: %w", err)
		}
		return err
	}
	return nil
}

// applyRunFlags overrides config values with flags the user actually set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if runFixture != "" {
		cfg.FixturePath = runFixture
	}
	if runTfOutput != "" {
		cfg.TfOutputPath = runTfOutput
	}
	if runModel != "" {
		cfg.Converse.ModelID = runModel
	}
	if runGuardrailVersion != "" {
		cfg.Converse.GuardrailVersion = runGuardrailVersion
	}
	if flags.Changed("delay") {
		cfg.Converse.Delay = max(runDelay, 0)
	}
	if runRegion != "" {
		cfg.Region = runRegion
	}
	if runProfile != "" {
		cfg.Profile = runProfile
	}
	if runRecord {
		cfg.Record.Enabled = true
	}
	if runMetricsOut != "" {
		cfg.MetricsOut = runMetricsOut
	}
}

// session holds what stays fixed across runs in watch mode.
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	out     io.Writer
	client  *guardrail.Client
	results *logger.ResultLogger
	history *history.Store
	icons   bool
}

func newSession(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) (*session, error) {
	// The terraform output usually knows where the guardrails live.
	var tfRegion string
	if cat, err := catalog.LoadCatalog(cfg.TfOutputPath); err == nil {
		tfRegion = cat.Region
	}
	region := firstNonEmpty(cfg.Region, tfRegion)

	awsCfg, err := loadAWSConfig(ctx, region, cfg.Profile)
	if err != nil {
		return nil, err
	}
	log.Debug("AWS config loaded", zap.String("region", awsCfg.Region))

	s := &session{
		cfg: cfg,
		log: log,
		out: out,
		client: guardrail.NewClient(bedrockruntime.NewFromConfig(awsCfg), guardrail.Options{
			ModelID:          cfg.Converse.ModelID,
			GuardrailVersion: cfg.Converse.GuardrailVersion,
			SystemPrompt:     cfg.Converse.SystemPrompt,
		}, log),
		icons: out == os.Stdout && term.IsTerminal(int(os.Stdout.Fd())),
	}

	if !cfg.Record.Enabled {
		return s, nil
	}
	if err := cfg.EnsureRecordDirs(); err != nil {
		return nil, fmt.Errorf("failed to create record directories: %w", err)
	}
	if s.results, err = logger.New(cfg.Record.ResultsLog); err != nil {
		return nil, fmt.Errorf("failed to open results log: %w", err)
	}
	if s.history, err = history.Open(cfg.Record.HistoryDB); err != nil {
		s.results.Close()
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return s, nil
}

func (s *session) Close() {
	if s.results != nil {
		if err := s.results.Close(); err != nil {
			s.log.Warn("closing results log", zap.Error(err))
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.log.Warn("closing run history", zap.Error(err))
		}
	}
}

// runOnce reloads the inputs and runs the whole suite. A partial summary
// from an interrupted run is still recorded.
func (s *session) runOnce(ctx context.Context) (*runner.Summary, error) {
	cat, err := catalog.LoadCatalog(s.cfg.TfOutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load guardrail catalog: %w", err)
	}
	fixture, err := catalog.LoadFixture(s.cfg.FixturePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load test fixture: %w", err)
	}

	runID := uuid.NewString()
	log := s.log.With(zap.String("run_id", runID))
	opts := runner.Options{
		Delay:  s.cfg.Converse.Delay,
		Out:    s.out,
		Logger: log,
		Icons:  s.icons,
	}
	if s.results != nil {
		opts.Sink = newResultSink(s.results, runID, s.client.ModelID())
	}

	log.Info("starting run",
		zap.String("model_id", s.client.ModelID()),
		zap.Int("guardrails", len(fixture.Cases)),
		zap.Int("prompts", fixture.Prompts()),
	)
	sum, runErr := runner.New(s.client, cat, opts).Run(ctx, fixture)
	if sum != nil {
		s.persist(log, runID, sum)
	}
	return sum, runErr
}

func (s *session) persist(log *zap.Logger, runID string, sum *runner.Summary) {
	if s.history != nil {
		rec := history.NewRecord(runID, sum, s.client.ModelID(), s.cfg.FixturePath)
		if err := s.history.Add(rec); err != nil {
			log.Error("failed to record run history", zap.Error(err))
		}
	}
	if s.cfg.MetricsOut != "" {
		if err := metrics.WriteFile(s.cfg.MetricsOut, sum, s.client.ModelID()); err != nil {
			log.Error("failed to write metrics", zap.String("path", s.cfg.MetricsOut), zap.Error(err))
		}
	}
}

// watch runs the suite, then again after every change to the inputs until
// ctx is cancelled.
func (s *session) watch(ctx context.Context) error {
	changed := make(chan string, 1)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- catalog.Watch(ctx, []string{s.cfg.FixturePath, s.cfg.TfOutputPath}, s.log, func(path string) {
			select {
			case changed <- path:
			default:
			}
		})
	}()

	for {
		if _, err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("run failed", zap.Error(err))
		}
		fmt.Fprintln(s.out, "\nWaiting for changes (Ctrl+C to stop)...")

		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			if err != nil {
				return fmt.Errorf("failed to watch inputs: %w", err)
			}
			return nil
		case path := <-changed:
			settle(ctx, changed)
			s.log.Info("inputs changed, rerunning", zap.String("path", path))
		}
	}
}

// settle waits out the burst of events a single save produces.
func settle(ctx context.Context, changed <-chan string) {
	timer := time.NewTimer(watchDebounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			timer.Reset(watchDebounce)
		case <-timer.C:
			return
		}
	}
}
