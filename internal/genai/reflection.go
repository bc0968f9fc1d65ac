package genai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"surveyflow/internal/models"
)

// MaxReflectionCacheEntries caps the process-lifetime reflection cache.
const MaxReflectionCacheEntries = 1000

// ReflectionCache memoizes reflections for the process lifetime, keyed by
// question and answer. When full, the oldest entry is evicted first.
type ReflectionCache struct {
	mu      sync.Mutex
	entries map[string]string
	order   []string
	max     int
}

// NewReflectionCache creates a cache with the default capacity.
func NewReflectionCache() *ReflectionCache {
	return &ReflectionCache{
		entries: make(map[string]string),
		max:     MaxReflectionCacheEntries,
	}
}

func reflectionKey(question, answer string) string {
	return question + ":" + answer
}

// Get returns the cached reflection for a question/answer pair.
func (c *ReflectionCache) Get(question, answer string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[reflectionKey(question, answer)]
	return v, ok
}

// Set stores a reflection, evicting the oldest entry when at capacity.
func (c *ReflectionCache) Set(question, answer, reflection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := reflectionKey(question, answer)
	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.max {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = reflection
}

// Len returns the number of cached reflections.
func (c *ReflectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reflector generates short acknowledgments of a user's answer, using the
// survey's per-type reflection prompts.
type Reflector struct {
	client ClientInterface
	cache  *ReflectionCache
}

// NewReflector creates a Reflector over the given client.
func NewReflector(client ClientInterface) *Reflector {
	return &Reflector{client: client, cache: NewReflectionCache()}
}

// Reflect produces a reflection for an answered question, or "" when the
// question has reflections disabled or the survey defines no prompt for the
// reflection type. A missing prompt is not an error.
func (r *Reflector) Reflect(ctx context.Context, survey *models.SurveyDefinition, question *models.Question, answer string) (string, error) {
	if !question.Reflection.Enabled || answer == "" {
		return "", nil
	}
	prompt, ok := survey.AIPrompts.Reflections[question.Reflection.Type]
	if !ok || prompt == "" {
		slog.Debug("Reflector no prompt configured", "survey", survey.Name, "reflection_type", question.Reflection.Type)
		return "", nil
	}

	if cached, ok := r.cache.Get(question.Text, answer); ok {
		slog.Debug("Reflector cache hit", "question_id", question.ID)
		return cached, nil
	}

	userPrompt := fmt.Sprintf("Question: %s\nAnswer: %s", question.Text, answer)
	reflection, err := r.client.Generate(ctx, prompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate reflection for %s: %w", question.ID, err)
	}
	r.cache.Set(question.Text, answer, reflection)
	return reflection, nil
}
