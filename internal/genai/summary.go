package genai

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"surveyflow/internal/models"
)

// Summarizer builds the end-of-survey summary from the collected answers.
type Summarizer struct {
	client ClientInterface
}

// NewSummarizer creates a Summarizer over the given client.
func NewSummarizer(client ClientInterface) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize generates a summary of the answers according to the survey's
// summary prompt settings. Returns "" when the survey disables summaries.
func (s *Summarizer) Summarize(ctx context.Context, survey *models.SurveyDefinition, answers models.Fields) (string, error) {
	cfg := survey.AIPrompts.Summary
	if !survey.Messages.Completion.GenerateSummary || cfg.Prompt == "" {
		return "", nil
	}

	systemPrompt := cfg.Prompt
	if cfg.IncludeRecommendations {
		systemPrompt += "\nEnd with one or two practical recommendations."
	}

	summary, err := s.client.Generate(ctx, systemPrompt, formatAnswers(answers))
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	// Truncation counts runes so a multi-byte character is never split.
	if runes := []rune(summary); cfg.MaxLength > 0 && len(runes) > cfg.MaxLength {
		summary = string(runes[:cfg.MaxLength]) + "..."
		slog.Debug("Summarizer truncated summary", "survey", survey.Name, "max_length", cfg.MaxLength)
	}
	return summary, nil
}

// formatAnswers renders the answer map deterministically, one line per field.
func formatAnswers(answers models.Fields) string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, answers[k])
	}
	return b.String()
}
