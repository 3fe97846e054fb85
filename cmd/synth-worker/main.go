// main package for the synth-worker, the synthesis process spawned by the
// alignment runners when cew_subprocess_enabled is set. It reads requests on
// stdin and writes sample blocks on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/align-service/internal/config"
	"github.com/book-expert/align-service/internal/synth"
)

// Flag names and descriptions.
const (
	flagConfig     = "config"
	flagEngine     = "engine"
	flagConfigDesc = "Path to the service TOML configuration (defaults are used when empty)"
	flagEngineDesc = "Override synthesis.engine (command, http or tone)"
)

const logFileName = "synth-worker.log"

type appFlags struct {
	config string
	engine string
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flag.StringVar(&flags.engine, flagEngine, "", flagEngineDesc)
	flag.Parse()

	return flags
}

func loadConfig(flags appFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if flags.config == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.LoadFile(flags.config)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if flags.engine != "" {
		err = cfg.UseEngine(flags.engine)
		if err != nil {
			return nil, fmt.Errorf("invalid engine override: %w", err)
		}
	}

	return cfg, nil
}

func checkEngine(ctx context.Context, engine synth.Engine, timeout time.Duration) error {
	healthCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return synth.CheckHealth(healthCtx, engine)
}

func run() error {
	flags := parseFlags()

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	// stdout carries the protocol; anything else printing to it goes to stderr.
	protocolOut := os.Stdout
	os.Stdout = os.Stderr

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	engine, err := cfg.Synthesis.NewEngine(log)
	if err != nil {
		return fmt.Errorf("failed to create synthesis engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = checkEngine(ctx, engine, cfg.Synthesis.Timeout())
	if err != nil {
		log.Error("synth-worker cannot start: %v", err)

		return err
	}

	log.Info("synth-worker started with engine %s", cfg.Synthesis.Engine)

	err = synth.ServeWorker(ctx, os.Stdin, protocolOut, engine)
	if err != nil {
		log.Error("synth-worker stopped: %v", err)

		return err
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "synth-worker: %v\n", err)
		os.Exit(1)
	}
}
