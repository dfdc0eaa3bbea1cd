package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/guardrailwatch/internal/config"
	"github.com/gzhole/guardrailwatch/internal/logger"
)

var (
	configPath string
	envPath    string
	logLevel   string
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:   "guardrailwatch",
	Short: "guardrailwatch - Bedrock guardrail test harness",
	Long: `guardrailwatch sends a fixed set of test prompts through each deployed
Amazon Bedrock guardrail, reports how often each guardrail intervened and
optionally records the results for later review.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: ~/.guardrailwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", "", "Path to a .env file with AWS settings (default: ./.env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Diagnostic log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit diagnostic logs as JSON")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the .env file and the config file, then applies the
// persistent flags.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envPath); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.NewZap(cfg.LogLevel, jsonLogs)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}
