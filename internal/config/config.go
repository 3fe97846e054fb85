// Package config provides the configuration structure for the align-service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/align-service/internal/settings"
	"github.com/book-expert/align-service/internal/synth"
)

// Synthesis engine names.
const (
	EngineCommand = "command"
	EngineHTTP    = "http"
	EngineTone    = "tone"
)

// Default values.
const (
	defaultJobSubject     = "alignment.job.submitted"
	defaultAudioBucket    = "AUDIO_FILES"
	defaultOutputBucket   = "SYNC_MAPS"
	defaultEngine         = EngineCommand
	defaultCommand        = "espeak-ng"
	defaultTimeoutSeconds = 60
	defaultMaxParallel    = 1
	defaultHandleTimeout  = 1800
)

// NATSConfig holds the configuration for NATS. HandleTimeoutSeconds bounds the
// processing of one submitted job.
type NATSConfig struct {
	URL                  string `toml:"url"`
	JobSubject           string `toml:"job_subject"`
	AudioBucket          string `toml:"audio_bucket"`
	OutputBucket         string `toml:"output_bucket"`
	HandleTimeoutSeconds int    `toml:"handle_timeout_seconds"`
}

// AlignmentConfig holds the default runtime parameters of every job.
type AlignmentConfig struct {
	// Parameters is a "key=value|key=value" string applied beneath job parameters.
	Parameters  string `toml:"parameters"`
	MaxParallel int    `toml:"max_parallel"`
}

// SynthesisConfig selects and configures the synthesis engine.
type SynthesisConfig struct {
	Engine         string              `toml:"engine"`
	Command        string              `toml:"command"`
	Args           []string            `toml:"args"`
	HTTPURL        string              `toml:"http_url"`
	WorkerPath     string              `toml:"worker_path"`
	WorkerArgs     []string            `toml:"worker_args"`
	TimeoutSeconds int                 `toml:"timeout_seconds"`
	Languages      []string            `toml:"languages"`
	Voices         map[string][]string `toml:"voices"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Alignment AlignmentConfig `toml:"alignment"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the project configuration discovered by the configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return cfg.finish()
}

// LoadFile loads the configuration at an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration %s: %w", path, err)
	}

	return cfg.finish()
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	var cfg Config

	return cfg.finish()
}

func (c *Config) finish() (*Config, error) {
	c.applyDefaults()

	err := c.Validate()
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.NATS.JobSubject == "" {
		c.NATS.JobSubject = defaultJobSubject
	}

	if c.NATS.AudioBucket == "" {
		c.NATS.AudioBucket = defaultAudioBucket
	}

	if c.NATS.OutputBucket == "" {
		c.NATS.OutputBucket = defaultOutputBucket
	}

	if c.NATS.HandleTimeoutSeconds == 0 {
		c.NATS.HandleTimeoutSeconds = defaultHandleTimeout
	}

	if c.Alignment.MaxParallel == 0 {
		c.Alignment.MaxParallel = defaultMaxParallel
	}

	if c.Synthesis.Engine == "" {
		c.Synthesis.Engine = defaultEngine
	}

	if c.Synthesis.Engine == EngineCommand && c.Synthesis.Command == "" {
		c.Synthesis.Command = defaultCommand
	}

	if c.Synthesis.TimeoutSeconds == 0 {
		c.Synthesis.TimeoutSeconds = defaultTimeoutSeconds
	}

	if len(c.Synthesis.Languages) == 0 {
		c.Synthesis.Languages = []string{settings.DefaultLanguage}
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// UseEngine switches the synthesis engine and revalidates the configuration.
func (c *Config) UseEngine(engine string) error {
	c.Synthesis.Engine = engine
	c.applyDefaults()

	return c.Validate()
}

// HandleTimeout returns the per-job processing bound of the service.
func (n NATSConfig) HandleTimeout() time.Duration {
	return time.Duration(n.HandleTimeoutSeconds) * time.Second
}

// Timeout returns the synthesis timeout.
func (s SynthesisConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Catalog returns the languages and voices tasks may request.
func (s SynthesisConfig) Catalog() settings.Catalog {
	return settings.Catalog{Languages: s.Languages, Voices: s.Voices}
}

// Options returns the subprocess options of the synthesizer.
func (s SynthesisConfig) Options() synth.Options {
	return synth.Options{WorkerPath: s.WorkerPath, WorkerArgs: s.WorkerArgs, WorkerEnv: nil}
}

// NewEngine builds the configured engine.
func (s SynthesisConfig) NewEngine(log *logger.Logger) (synth.Engine, error) {
	switch s.Engine {
	case EngineHTTP:
		return synth.NewHTTPEngine(s.HTTPURL, s.Timeout()), nil
	case EngineTone:
		return synth.ToneEngine{}, nil
	default:
		return synth.NewCommandEngine(s.Command, s.Args, log)
	}
}

// DefaultParameters parses the alignment defaults and sets job_max_parallel from
// max_parallel when the string does not set it.
func (a AlignmentConfig) DefaultParameters() (settings.Parameters, error) {
	params, err := settings.Parse(a.Parameters)
	if err != nil {
		return nil, fmt.Errorf("alignment.parameters: %w", err)
	}

	if _, set := params[settings.KeyMaxParallel]; !set && a.MaxParallel > 0 {
		params[settings.KeyMaxParallel] = strconv.Itoa(a.MaxParallel)
	}

	return params, nil
}
