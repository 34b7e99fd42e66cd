package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pershinghar/pwa-deploy/pkg/config"
	"github.com/pershinghar/pwa-deploy/pkg/models"
	"github.com/pershinghar/pwa-deploy/pkg/util"
)

func logEvent(logger logrus.FieldLogger) func(event *models.DeployEvent) error {
	return func(event *models.DeployEvent) error {
		entry := logger.WithFields(logrus.Fields{
			"run_id": event.RunID,
			"host":   event.Host,
			"phase":  event.Phase,
			"status": event.Status,
			"at":     event.Timestamp.Format(time.RFC3339),
		})

		switch event.Status {
		case models.StatusFailed:
			entry.Error(event.Message)
		case models.StatusWarning:
			entry.Warn(event.Message)
		default:
			entry.Info(event.Message)
		}

		if event.Output != nil && *event.Output != "" {
			entry.Infof("output (%d bytes):\n%s", len(*event.Output), *event.Output)
		}
		return nil
	}
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "deployment config file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := util.NewLogger(*verbose)
	logger.Info("Starting deploy event log...")

	cfg, err := config.Read(*configPath)
	if err != nil {
		logger.Fatalf("Error loading config: %v", err)
	}
	if !cfg.Events.Enabled() {
		logger.Fatalf("events.url is not set (or %s)", config.EnvEventsURL)
	}

	client := util.NewRabbitMQClient(&cfg.Events, logger)
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	queueName, err := client.CreateQueue(ctx)
	if err != nil {
		logger.Fatalf("Failed to create queue: %v", err)
	}

	if err := client.Consume(ctx, queueName, logEvent(logger)); err != nil {
		logger.Fatalf("Failed to start consuming: %v", err)
	}

	logger.Info("Event log running. Press Ctrl+C to stop...")
	<-ctx.Done()

	logger.Info("Received interrupt signal, shutting down...")
	// let the consumer goroutine observe the cancellation
	time.Sleep(500 * time.Millisecond)
	logger.Info("Event log stopped")
}
