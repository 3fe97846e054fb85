// Package manifest reads job descriptions from disk.
//
// A manifest is a TOML file:
//
//	id = "book-1"
//	config = "job_language=en|dtw_algorithm=banded"
//
//	[[task]]
//	id = "chapter-1"
//	audio = "audio/chapter1.mp3"
//	text = "text/chapter1.txt"
//	config = "task_voice=female1"
//
// Relative paths resolve against the manifest directory. Instead of a text file a
// task may list its fragments inline with `fragments = ["...", "..."]`.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/job"
	"github.com/book-expert/align-service/internal/settings"
	"github.com/book-expert/align-service/internal/task"
)

// Errors.
var (
	ErrMissingField = errors.New("manifest field is required")
	ErrTextSource   = errors.New("task needs exactly one of text or fragments")
)

// Manifest is the decoded manifest file.
type Manifest struct {
	ID             string      `toml:"id"`
	Config         string      `toml:"config"`
	SkipValidation bool        `toml:"skip_validation"`
	Tasks          []TaskEntry `toml:"task"`

	dir string
}

// TaskEntry describes one task of a manifest.
type TaskEntry struct {
	ID         string   `toml:"id"`
	Audio      string   `toml:"audio"`
	Text       string   `toml:"text"`
	TextFormat string   `toml:"text_format"`
	Fragments  []string `toml:"fragments"`
	Config     string   `toml:"config"`
}

// Load decodes the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read manifest %s: %w", core.ErrInvalidInput, path, err)
	}

	var m Manifest

	err = toml.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode manifest %s: %w", core.ErrInvalidInput, path, err)
	}

	m.dir = filepath.Dir(path)

	return &m, nil
}

// Job builds the job, applying overrides on top of the manifest configuration.
// Fragment files are read here; the audio is left for the job to read.
func (m *Manifest) Job(overrides settings.Parameters) (job.Job, error) {
	if m.ID == "" {
		return job.Job{}, fmt.Errorf("%w: %w: id", core.ErrInvalidInput, ErrMissingField)
	}

	params, err := settings.Parse(m.Config)
	if err != nil {
		return job.Job{}, fmt.Errorf("manifest %s config: %w", m.ID, err)
	}

	tasks := make([]task.Task, 0, len(m.Tasks))

	for index, entry := range m.Tasks {
		built, buildErr := m.buildTask(index, entry)
		if buildErr != nil {
			return job.Job{}, buildErr
		}

		tasks = append(tasks, built)
	}

	return job.Job{
		ID:             m.ID,
		Parameters:     params.Merge(overrides),
		Tasks:          tasks,
		SkipValidation: m.SkipValidation,
	}, nil
}

func (m *Manifest) buildTask(index int, entry TaskEntry) (task.Task, error) {
	if entry.ID == "" {
		return task.Task{}, fmt.Errorf("%w: %w: task %d id", core.ErrInvalidInput, ErrMissingField, index)
	}

	if entry.Audio == "" {
		return task.Task{}, fmt.Errorf("%w: %w: task %s audio", core.ErrInvalidInput, ErrMissingField, entry.ID)
	}

	if (entry.Text == "") == (len(entry.Fragments) == 0) {
		return task.Task{}, fmt.Errorf("%w: task %s: %w", core.ErrInvalidInput, entry.ID, ErrTextSource)
	}

	params, err := settings.Parse(entry.Config)
	if err != nil {
		return task.Task{}, fmt.Errorf("task %s config: %w", entry.ID, err)
	}

	fragments := FromLines(entry.Fragments)

	if entry.Text != "" {
		fragments, err = ReadFragmentsFile(m.resolve(entry.Text), Format(entry.TextFormat))
		if err != nil {
			return task.Task{}, fmt.Errorf("task %s: %w", entry.ID, err)
		}
	}

	return task.Task{
		ID:         entry.ID,
		Audio:      task.FileSource(m.resolve(entry.Audio)),
		Fragments:  fragments,
		Parameters: params,
	}, nil
}

func (m *Manifest) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(m.dir, path)
}
