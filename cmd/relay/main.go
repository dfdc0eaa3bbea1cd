// Command relay is the Lambda function that turns log alarms into analysed
// SNS notifications. RELAY_MODE selects the trigger: "event" for
// EventBridge log events, "alarm" for CloudWatch alarms delivered by SNS.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/gzhole/guardrailwatch/internal/config"
	"github.com/gzhole/guardrailwatch/internal/logger"
	"github.com/gzhole/guardrailwatch/internal/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadRelay()
	if err != nil {
		return err
	}

	log, err := logger.NewZap(cfg.LogLevel, true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	r := relay.New(
		cloudwatchlogs.NewFromConfig(awsCfg),
		bedrockruntime.NewFromConfig(awsCfg),
		sns.NewFromConfig(awsCfg),
		*cfg,
		log.With(zap.String("mode", cfg.Mode)),
	)

	log.Info("relay starting", zap.String("model_id", cfg.ModelID), zap.String("topic", cfg.TopicARN))
	switch cfg.Mode {
	case config.RelayModeAlarm:
		lambda.Start(r.HandleAlarm)
	default:
		lambda.Start(r.Handle)
	}
	return nil
}
