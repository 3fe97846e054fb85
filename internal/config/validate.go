package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/book-expert/align-service/internal/settings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAlignment(); err != nil {
		return err
	}

	if err := c.validateSynthesis(); err != nil {
		return err
	}

	return nil
}

// ValidateService additionally checks the settings only the NATS service needs.
func (c *Config) ValidateService() error {
	if strings.TrimSpace(c.NATS.URL) == "" {
		return errors.New("nats.url must be set")
	}

	if c.NATS.HandleTimeoutSeconds < 0 {
		return errors.New("nats.handle_timeout_seconds must be positive")
	}

	if c.NATS.AudioBucket == c.NATS.OutputBucket {
		return errors.New("nats.audio_bucket and nats.output_bucket must differ")
	}

	return c.Validate()
}

func (c *Config) validateAlignment() error {
	if c.Alignment.MaxParallel < 0 {
		return errors.New("alignment.max_parallel must be positive")
	}

	params, err := c.Alignment.DefaultParameters()
	if err != nil {
		return err
	}

	err = settings.Validate(params, settings.JobScope, c.Synthesis.Catalog())
	if err != nil {
		return fmt.Errorf("alignment.parameters: %w", err)
	}

	return nil
}

func (c *Config) validateSynthesis() error {
	switch c.Synthesis.Engine {
	case EngineCommand:
		if strings.TrimSpace(c.Synthesis.Command) == "" {
			return errors.New("synthesis.command must be set when synthesis.engine is command")
		}
	case EngineHTTP:
		if strings.TrimSpace(c.Synthesis.HTTPURL) == "" {
			return errors.New("synthesis.http_url must be set when synthesis.engine is http")
		}
	case EngineTone:
	default:
		return fmt.Errorf("synthesis.engine must be one of %s, %s, %s; got %q",
			EngineCommand, EngineHTTP, EngineTone, c.Synthesis.Engine)
	}

	if c.Synthesis.TimeoutSeconds < 0 {
		return errors.New("synthesis.timeout_seconds must be positive")
	}

	for language := range c.Synthesis.Voices {
		if !slices.Contains(c.Synthesis.Languages, language) {
			return fmt.Errorf("synthesis.voices lists %q, which is not in synthesis.languages", language)
		}
	}

	return nil
}
