package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"surveyflow/internal/models"
)

// mockGenerator scripts Generate responses and records calls.
type mockGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	lastSys  string
	lastUser string
}

func (m *mockGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastSys = systemPrompt
	m.lastUser = userPrompt
	return m.response, m.err
}

func (m *mockGenerator) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return "", errors.New("not implemented")
}

func reflectionSurvey() *models.SurveyDefinition {
	return &models.SurveyDefinition{
		Name: "test",
		AIPrompts: models.AIPrompts{
			Reflections: map[string]string{
				"empathetic": "Acknowledge the answer warmly.",
			},
			Summary: models.SummaryPrompt{Prompt: "Summarize the survey.", MaxLength: 50},
		},
		Messages: models.Messages{Completion: models.CompletionMessage{GenerateSummary: true}},
	}
}

func reflectionQuestion() *models.Question {
	return &models.Question{
		ID:         "mood",
		Type:       models.QuestionTypeText,
		Text:       "How are you feeling?",
		Reflection: models.Reflection{Type: "empathetic", Enabled: true},
	}
}

func TestReflectorGeneratesAndCaches(t *testing.T) {
	gen := &mockGenerator{response: "That sounds encouraging."}
	r := NewReflector(gen)
	survey := reflectionSurvey()
	q := reflectionQuestion()

	for i := 0; i < 3; i++ {
		got, err := r.Reflect(context.Background(), survey, q, "pretty good")
		if err != nil {
			t.Fatalf("reflect failed: %v", err)
		}
		if got != "That sounds encouraging." {
			t.Fatalf("unexpected reflection %q", got)
		}
	}
	if gen.calls != 1 {
		t.Errorf("expected 1 generation, repeated answers served from cache; got %d", gen.calls)
	}
	if !strings.Contains(gen.lastUser, "pretty good") {
		t.Errorf("answer missing from prompt: %q", gen.lastUser)
	}
}

func TestReflectorDisabledOrUnconfigured(t *testing.T) {
	gen := &mockGenerator{response: "should not be called"}
	r := NewReflector(gen)
	survey := reflectionSurvey()

	disabled := reflectionQuestion()
	disabled.Reflection.Enabled = false
	if got, err := r.Reflect(context.Background(), survey, disabled, "hi"); err != nil || got != "" {
		t.Errorf("disabled reflection: got %q err=%v", got, err)
	}

	unknown := reflectionQuestion()
	unknown.Reflection.Type = "missing"
	if got, err := r.Reflect(context.Background(), survey, unknown, "hi"); err != nil || got != "" {
		t.Errorf("unconfigured reflection type must be silent: got %q err=%v", got, err)
	}
	if gen.calls != 0 {
		t.Errorf("generator must not be called, got %d calls", gen.calls)
	}
}

func TestReflectorPropagatesGenerationError(t *testing.T) {
	gen := &mockGenerator{err: errors.New("rate limited")}
	r := NewReflector(gen)
	_, err := r.Reflect(context.Background(), reflectionSurvey(), reflectionQuestion(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestReflectionCacheEvictsOldestFirst(t *testing.T) {
	c := NewReflectionCache()
	c.max = 3
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("q%d", i), "a", fmt.Sprintf("r%d", i))
	}
	c.Set("q3", "a", "r3")

	if c.Len() != 3 {
		t.Fatalf("expected capped size 3, got %d", c.Len())
	}
	if _, ok := c.Get("q0", "a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if v, ok := c.Get("q3", "a"); !ok || v != "r3" {
		t.Error("newest entry missing")
	}
}

func TestReflectionCacheOverwriteKeepsOrder(t *testing.T) {
	c := NewReflectionCache()
	c.max = 2
	c.Set("q0", "a", "first")
	c.Set("q0", "a", "second")
	c.Set("q1", "a", "r1")
	c.Set("q2", "a", "r2")

	if _, ok := c.Get("q0", "a"); ok {
		t.Error("q0 was the oldest and should be evicted")
	}
	if v, ok := c.Get("q2", "a"); !ok || v != "r2" {
		t.Error("latest entry missing")
	}
}

func TestSummarizerTruncates(t *testing.T) {
	long := strings.Repeat("insightful ", 20)
	gen := &mockGenerator{response: long}
	s := NewSummarizer(gen)
	survey := reflectionSurvey()

	summary, err := s.Summarize(context.Background(), survey, models.Fields{"mood": "good", "name": "Dana"})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if len(summary) != 50+len("...") {
		t.Errorf("expected truncation to 50 chars plus ellipsis, got %d", len(summary))
	}
	// Deterministic answer ordering in the prompt.
	if !strings.Contains(gen.lastUser, "mood: good") || !strings.Contains(gen.lastUser, "name: Dana") {
		t.Errorf("answers missing from prompt: %q", gen.lastUser)
	}
	if strings.Index(gen.lastUser, "mood") > strings.Index(gen.lastUser, "name") {
		t.Errorf("answers not sorted: %q", gen.lastUser)
	}
}

func TestSummarizerTruncatesOnRuneBoundary(t *testing.T) {
	gen := &mockGenerator{response: strings.Repeat("Настроение отличное. ", 10)}
	s := NewSummarizer(gen)

	summary, err := s.Summarize(context.Background(), reflectionSurvey(), models.Fields{"mood": "хорошо"})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if !utf8.ValidString(summary) {
		t.Fatalf("truncation split a multi-byte character: %q", summary)
	}
	if got := len([]rune(summary)); got != 50+len("...") {
		t.Errorf("expected truncation to 50 runes plus ellipsis, got %d", got)
	}
	if !strings.HasSuffix(summary, "...") {
		t.Errorf("missing ellipsis: %q", summary)
	}
}

func TestSummarizerDisabled(t *testing.T) {
	gen := &mockGenerator{response: "nope"}
	s := NewSummarizer(gen)
	survey := reflectionSurvey()
	survey.Messages.Completion.GenerateSummary = false

	summary, err := s.Summarize(context.Background(), survey, models.Fields{"a": 1})
	if err != nil || summary != "" {
		t.Errorf("disabled summary: got %q err=%v", summary, err)
	}
	if gen.calls != 0 {
		t.Errorf("generator must not run when summaries are disabled")
	}
}
