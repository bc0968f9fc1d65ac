// Package survey loads survey definitions from a directory of JSON and YAML
// documents and resolves trigger phrases to definitions.
package survey

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"surveyflow/internal/models"
)

// Registry holds the loaded survey definitions.
type Registry struct {
	surveys []*models.SurveyDefinition
}

// LoadDir reads every *.json, *.yaml and *.yml document in dir. Documents
// that fail to decode or validate are skipped with a logged reason; one bad
// file never prevents the rest from loading.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read surveys directory %s: %w", dir, err)
	}

	reg := &Registry{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := LoadFile(path)
		if err != nil {
			slog.Warn("Survey loader skipping document", "path", path, "error", err)
			continue
		}
		reg.surveys = append(reg.surveys, def)
		slog.Info("Survey loaded", "name", def.Name, "questions", len(def.Questions), "path", path)
	}
	slog.Info("Survey registry ready", "count", len(reg.surveys))
	return reg, nil
}

// LoadFile decodes and validates one survey document.
func LoadFile(path string) (*models.SurveyDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var def models.SurveyDefinition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported survey document extension: %s", path)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid survey definition: %w", err)
	}
	return &def, nil
}

// FindByTrigger returns the first survey whose trigger phrase appears in the
// message text, case-insensitively. Nil when nothing matches.
func (r *Registry) FindByTrigger(text string) *models.SurveyDefinition {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return nil
	}
	for _, def := range r.surveys {
		for _, phrase := range def.TriggerPhrases {
			if phrase == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(phrase)) {
				return def
			}
		}
	}
	return nil
}

// FindByName returns the survey with the given name, or nil.
func (r *Registry) FindByName(name string) *models.SurveyDefinition {
	for _, def := range r.surveys {
		if def.Name == name {
			return def
		}
	}
	return nil
}

// All returns the loaded definitions.
func (r *Registry) All() []*models.SurveyDefinition {
	return r.surveys
}

// Add registers a definition directly. Used by tests.
func (r *Registry) Add(def *models.SurveyDefinition) {
	r.surveys = append(r.surveys, def)
}
