package synth

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/align-service/internal/audio"
)

// Argument placeholders substituted per request.
const (
	PlaceholderText     = "{text}"
	PlaceholderLanguage = "{language}"
	PlaceholderVoice    = "{voice}"
	PlaceholderOutput   = "{output}"
)

// DefaultCommandArgs drive espeak-ng style binaries.
var DefaultCommandArgs = []string{"-v", PlaceholderVoice, "-w", PlaceholderOutput, PlaceholderText}

// CommandEngine runs a TTS binary once per fragment. The binary is expected to write
// a WAV file to the path substituted for {output}.
type CommandEngine struct {
	command string
	args    []string
	log     *logger.Logger
}

// NewCommandEngine creates a CommandEngine. Empty args select DefaultCommandArgs.
func NewCommandEngine(command string, args []string, log *logger.Logger) (*CommandEngine, error) {
	if command == "" {
		return nil, ErrEmptyCommand
	}

	if log == nil {
		return nil, ErrNilLogger
	}

	if len(args) == 0 {
		args = DefaultCommandArgs
	}

	return &CommandEngine{command: command, args: args, log: log}, nil
}

// Synthesize runs the command for req and decodes the WAV it produced.
func (e *CommandEngine) Synthesize(ctx context.Context, req Request) (audio.Buffer, error) {
	tempFile, err := os.CreateTemp("", "align-synth-*.wav")
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to create temp file for synthesis output: %w", err)
	}

	outputPath := tempFile.Name()

	closeErr := tempFile.Close()
	if closeErr != nil {
		e.log.Warn("Failed to close temp file '%s': %v", outputPath, closeErr)
	}

	defer func() {
		removeErr := os.Remove(outputPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			e.log.Warn("Failed to remove temp file '%s': %v", outputPath, removeErr)
		}
	}()

	voice := req.Voice
	if voice == "" {
		voice = req.Language
	}

	replacer := strings.NewReplacer(
		PlaceholderText, req.Text,
		PlaceholderLanguage, req.Language,
		PlaceholderVoice, voice,
		PlaceholderOutput, outputPath,
	)

	args := make([]string, len(e.args))
	for i, arg := range e.args {
		args[i] = replacer.Replace(arg)
	}

	// #nosec G204 -- the command comes from service configuration, text is passed as one argument
	cmd := exec.CommandContext(ctx, e.command, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%s execution failed: %w - output: %s", e.command, err, string(output))
	}

	buffer, err := audio.DecodeFile(outputPath)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	return buffer, nil
}
