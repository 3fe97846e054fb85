// main package for the align-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/align-service/internal/config"
	"github.com/book-expert/align-service/internal/job"
	"github.com/book-expert/align-service/internal/objectstore"
	"github.com/book-expert/align-service/internal/synth"
	"github.com/book-expert/align-service/internal/task"
	"github.com/book-expert/align-service/internal/worker"
)

const (
	bootstrapLogFile = "align-service-bootstrap.log"
	serviceLogFile   = "align-service.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// loadConfig loads the configuration with a temporary logger, which is closed
// once the final logger location is known.
func loadConfig() (*config.Config, error) {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return nil, err
	}

	defer func() {
		closeErr := bootstrapLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing bootstrap logger: %v\n", closeErr)
		}
	}()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.ValidateService()
	if err != nil {
		bootstrapLog.Error("Invalid service configuration: %v", err)

		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	return cfg, nil
}

func newJobRunner(ctx context.Context, cfg *config.Config, log *logger.Logger) (*job.Runner, error) {
	engine, err := cfg.Synthesis.NewEngine(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis engine: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, cfg.Synthesis.Timeout())
	defer cancel()

	err = synth.CheckHealth(healthCtx, engine)
	if err != nil {
		return nil, err
	}

	synthesizer, err := synth.New(engine, cfg.Synthesis.Options(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	tasks, err := task.NewRunner(synthesizer, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create task runner: %w", err)
	}

	jobs, err := job.NewRunner(tasks, cfg.Synthesis.Catalog(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create job runner: %w", err)
	}

	return jobs, nil
}

func newWorker(ctx context.Context, cfg *config.Config, natsConnection *nats.Conn, log *logger.Logger) (*worker.NatsWorker, error) {
	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		return nil, err
	}

	outputStore, err := objectstore.New(jetstreamContext, cfg.NATS.OutputBucket)
	if err != nil {
		return nil, err
	}

	jobs, err := newJobRunner(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	defaults, err := cfg.Alignment.DefaultParameters()
	if err != nil {
		return nil, err
	}

	jobWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS.JobSubject, audioStore, outputStore, jobs, defaults, log)
	if err != nil {
		return nil, err
	}

	jobWorker.SetHandleTimeout(cfg.NATS.HandleTimeout())

	return jobWorker, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobWorker, err := newWorker(ctx, cfg, natsConnection, finalLog)
	if err != nil {
		finalLog.Error("Failed to initialize worker: %v", err)

		return err
	}

	finalLog.System("Align-Service successfully initialized. Listening for jobs on subject: %s", cfg.NATS.JobSubject)

	err = jobWorker.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		finalLog.Error("Worker stopped: %v", err)

		return err
	}

	finalLog.System("Align-Service stopped.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
