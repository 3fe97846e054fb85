package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/align-service/internal/config"
	"github.com/book-expert/align-service/internal/job"
	"github.com/book-expert/align-service/internal/manifest"
	"github.com/book-expert/align-service/internal/settings"
	"github.com/book-expert/align-service/internal/synth"
	"github.com/book-expert/align-service/internal/task"
)

const (
	logFileName      = "align-job.log"
	workerBinaryName = "synth-worker"
	syncMapExt       = ".json"
	syncMapDirPerm   = 0o750
	syncMapFilePerm  = 0o600
)

type runOptions struct {
	runtimeConfig string
	skipValidator bool
	subprocess    bool
	configPath    string
	engine        string
}

func newRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run MANIFEST OUTPUT_DIR",
		Short: "Run the alignment job described by MANIFEST",
		Long: "Run the alignment job described by MANIFEST and write one <task>.json sync map\n" +
			"per succeeded task to OUTPUT_DIR. Exit status is 0 when every task succeeded,\n" +
			"3 when some tasks failed and 1 when the job could not run.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := settings.Parse(opts.runtimeConfig)
			if err != nil {
				// Reported by execute as a usage error.
				return fmt.Errorf("invalid --runtime-configuration: %w", err)
			}

			if opts.subprocess {
				overrides[settings.KeySubprocess] = strconv.FormatBool(true)
			}

			return runJob(cmd, args[0], args[1], overrides, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.runtimeConfig, "runtime-configuration", "r", "", "Runtime parameters as key=value|key=value")
	flags.BoolVar(&opts.skipValidator, "skip-validator", false, "Do not validate the job before running it")
	flags.BoolVar(&opts.subprocess, "cewsubprocess", false, "Synthesize in a separate worker process")
	flags.StringVar(&opts.configPath, "config", "", "Path to the service TOML configuration")
	flags.StringVar(&opts.engine, "engine", "", "Override synthesis.engine (command, http or tone)")

	return cmd
}

func runJob(cmd *cobra.Command, manifestPath, outputDir string, overrides settings.Parameters, opts runOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return failed(job.ExitAborted, err)
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return failed(job.ExitAborted, fmt.Errorf("failed to create logger: %w", err))
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error closing logger: %v\n", closeErr)
		}
	}()

	loaded, err := manifest.Load(manifestPath)
	if err != nil {
		return failed(job.ExitAborted, err)
	}

	submitted, err := loaded.Job(overrides)
	if err != nil {
		return failed(job.ExitAborted, err)
	}

	defaults, err := cfg.Alignment.DefaultParameters()
	if err != nil {
		return failed(job.ExitAborted, err)
	}

	submitted.Parameters = defaults.Merge(submitted.Parameters)
	submitted.SkipValidation = submitted.SkipValidation || opts.skipValidator

	runner, err := newJobRunner(cfg, opts, log)
	if err != nil {
		return failed(job.ExitAborted, err)
	}

	result := runner.Run(cmd.Context(), submitted)
	if result.Status == job.StatusAborted {
		return failed(result.ExitCode(), fmt.Errorf("job %s aborted: %w", result.JobID, result.Err))
	}

	err = writeSyncMaps(outputDir, result.Succeeded())
	if err != nil {
		return failed(job.ExitAborted, err)
	}

	printResult(cmd.OutOrStdout(), result)

	if code := result.ExitCode(); code != job.ExitSucceeded {
		return failed(code, fmt.Errorf("job %s: %d of %d tasks failed", result.JobID, len(result.Failed()), len(result.Tasks)))
	}

	return nil
}

func loadConfig(opts runOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if opts.configPath == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.LoadFile(opts.configPath)
	}

	if err != nil {
		return nil, err
	}

	if opts.engine != "" {
		err = cfg.UseEngine(opts.engine)
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func newJobRunner(cfg *config.Config, opts runOptions, log *logger.Logger) (*job.Runner, error) {
	engine, err := cfg.Synthesis.NewEngine(log)
	if err != nil {
		return nil, err
	}

	synthesizer, err := synth.New(engine, workerOptions(cfg, opts), log)
	if err != nil {
		return nil, err
	}

	tasks, err := task.NewRunner(synthesizer, log)
	if err != nil {
		return nil, err
	}

	return job.NewRunner(tasks, cfg.Synthesis.Catalog(), log)
}

// workerOptions defaults the worker to the synth-worker binary installed next to
// align-job, started with the same configuration.
func workerOptions(cfg *config.Config, opts runOptions) synth.Options {
	options := cfg.Synthesis.Options()
	if options.WorkerPath != "" {
		return options
	}

	executable, err := os.Executable()
	if err != nil {
		return options
	}

	options.WorkerPath = filepath.Join(filepath.Dir(executable), workerBinaryName)

	if len(options.WorkerArgs) == 0 {
		if opts.configPath != "" {
			options.WorkerArgs = append(options.WorkerArgs, "-config", opts.configPath)
		}

		options.WorkerArgs = append(options.WorkerArgs, "-engine", cfg.Synthesis.Engine)
	}

	return options
}

func writeSyncMaps(outputDir string, maps []job.SyncMap) error {
	err := os.MkdirAll(outputDir, syncMapDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	for _, syncMap := range maps {
		data, marshalErr := json.MarshalIndent(syncMap, "", "  ")
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal sync map for task %s: %w", syncMap.TaskID, marshalErr)
		}

		path := filepath.Join(outputDir, syncMap.TaskID+syncMapExt)

		writeErr := os.WriteFile(path, data, syncMapFilePerm)
		if writeErr != nil {
			return fmt.Errorf("failed to write sync map %s: %w", path, writeErr)
		}
	}

	return nil
}

func printResult(w io.Writer, result job.Result) {
	headers := []string{"Task", "State", "Fragments", "Duration", "Error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}
	rows := make([][]string, 0, len(result.Tasks))

	for _, taskResult := range result.Tasks {
		message := ""
		if taskResult.Err != nil {
			message = fmt.Sprintf("%s: %v", taskResult.Kind(), taskResult.Err)
		}

		rows = append(rows, []string{
			taskResult.TaskID,
			string(taskResult.State),
			strconv.Itoa(len(taskResult.Intervals)),
			strconv.FormatFloat(taskResult.AudioDuration, 'f', 3, 64),
			message,
		})
	}

	fmt.Fprintln(w, renderTable(headers, rows, aligns))
	fmt.Fprintf(w, "Job %s: %s\n", result.JobID, result.Status)
}
