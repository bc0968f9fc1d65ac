// Package models defines the survey domain types shared across SurveyFlow:
// survey definitions loaded from documents, parsed flow rules, session state,
// inbound events, and record field values.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Question types supported by survey definitions.
const (
	QuestionTypeText             = "text"
	QuestionTypePoll             = "poll"
	QuestionTypeFile             = "file"
	QuestionTypeVoice            = "voice"
	QuestionTypeMeetingScheduler = "meeting_scheduler"
	QuestionTypeBotFile          = "bot_file"
)

// Record status lifecycle values written to the record store.
const (
	StatusNew              = "new"
	StatusInReview         = "in review"
	StatusCompleted        = "completed"
	StatusCancelledTimeout = "cancelled - timeout"
	StatusCancelledByUser  = "cancelled - by user"
)

// Validation errors for survey definitions.
var (
	ErrEmptySurveyName    = errors.New("survey name cannot be empty")
	ErrNoTriggerPhrases   = errors.New("survey must declare at least one trigger phrase")
	ErrNoQuestions        = errors.New("survey must contain at least one question")
	ErrEmptyQuestionID    = errors.New("question id cannot be empty")
	ErrEmptyQuestionText  = errors.New("question text cannot be empty")
	ErrInvalidQuestion    = errors.New("invalid question")
	ErrPollNeedsOptions   = errors.New("poll question must declare options")
	ErrBotFileNeedsPath   = errors.New("bot_file question must declare a file path")
	ErrDuplicateQuestion  = errors.New("duplicate question id")
	ErrUnknownGotoTarget  = errors.New("flow goto references unknown question id")
	ErrInvalidFlowRule    = errors.New("invalid flow rule")
	ErrEmptyStorageTable  = errors.New("survey storage table cannot be empty")
	ErrInvalidMaxFileSize = errors.New("max file size must be positive")
)

// DefaultMaxFileSize caps file uploads at 5 MB unless the question overrides it.
const DefaultMaxFileSize = 5 * 1024 * 1024

// SurveyDefinition is one loaded survey document. Definitions are immutable
// after loading; sessions reference them but never mutate them.
type SurveyDefinition struct {
	Name           string           `json:"name" yaml:"name"`
	TriggerPhrases []string         `json:"trigger_phrases" yaml:"trigger_phrases"`
	Storage        StorageConfig    `json:"storage" yaml:"storage"`
	Questions      []Question       `json:"questions" yaml:"questions"`
	Messages       Messages         `json:"messages" yaml:"messages"`
	AIPrompts      AIPrompts        `json:"ai_prompts" yaml:"ai_prompts"`
	Calendar       CalendarSettings `json:"calendar" yaml:"calendar"`
}

// StorageConfig names where answers for this survey are persisted.
type StorageConfig struct {
	Table string `json:"table" yaml:"table"`
	Base  string `json:"base,omitempty" yaml:"base,omitempty"`
}

// Messages holds the user-facing copy of a survey.
type Messages struct {
	Welcome    string             `json:"welcome" yaml:"welcome"`
	Completion CompletionMessage  `json:"completion" yaml:"completion"`
	Timeout    string             `json:"timeout" yaml:"timeout"`
	Reminder   string             `json:"reminder" yaml:"reminder"`
	Error      string             `json:"error" yaml:"error"`
	NoSlots    string             `json:"no_slots" yaml:"no_slots"`
	FileUpload FileUploadMessages `json:"file_upload" yaml:"file_upload"`
}

// CompletionMessage configures the end-of-survey exchange.
type CompletionMessage struct {
	Text            string `json:"text" yaml:"text"`
	GenerateSummary bool   `json:"generate_summary" yaml:"generate_summary"`
}

// FileUploadMessages configures replies around file-upload questions.
type FileUploadMessages struct {
	Success     string `json:"success" yaml:"success"`
	InvalidType string `json:"invalid_type" yaml:"invalid_type"`
	TooLarge    string `json:"too_large" yaml:"too_large"`
	Missing     string `json:"missing" yaml:"missing"`
}

// AIPrompts configures reflection and summary generation.
type AIPrompts struct {
	Reflections map[string]string `json:"reflections" yaml:"reflections"`
	Summary     SummaryPrompt     `json:"summary" yaml:"summary"`
}

// SummaryPrompt configures survey summary generation.
type SummaryPrompt struct {
	Prompt                 string `json:"prompt" yaml:"prompt"`
	MaxLength              int    `json:"max_length" yaml:"max_length"`
	IncludeRecommendations bool   `json:"include_recommendations" yaml:"include_recommendations"`
}

// CalendarSettings drives the meeting-scheduler question type.
type CalendarSettings struct {
	// WorkingHours maps lowercase weekday names ("monday"...) to "HH:MM-HH:MM".
	WorkingHours    map[string]string `json:"working_hours" yaml:"working_hours"`
	SlotDurationMin int               `json:"slot_duration_minutes" yaml:"slot_duration_minutes"`
	BufferMin       int               `json:"buffer_minutes" yaml:"buffer_minutes"`
	DaysToShow      int               `json:"days_to_show" yaml:"days_to_show"`
	Timezone        string            `json:"timezone" yaml:"timezone"`
	MeetingTitle    string            `json:"meeting_title" yaml:"meeting_title"`
}

// Reflection configures per-question AI acknowledgments.
type Reflection struct {
	Type    string `json:"type" yaml:"type"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Question is one step of a survey.
type Question struct {
	ID              string     `json:"id" yaml:"id"`
	Type            string     `json:"type" yaml:"type"`
	Text            string     `json:"text" yaml:"text"`
	Options         []string   `json:"options,omitempty" yaml:"options,omitempty"`
	MultipleAnswers bool       `json:"multiple_answers,omitempty" yaml:"multiple_answers,omitempty"`
	AllowedTypes    []string   `json:"allowed_types,omitempty" yaml:"allowed_types,omitempty"`
	MaxFileSize     int64      `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`
	FilePath        string     `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	Caption         string     `json:"caption,omitempty" yaml:"caption,omitempty"`
	Reflection      Reflection `json:"reflection,omitempty" yaml:"reflection,omitempty"`
	Flow            *FlowRule  `json:"flow,omitempty" yaml:"flow,omitempty"`
}

// Validate checks a survey definition after loading. It returns the first
// problem found so loader logs point at one concrete defect.
func (s *SurveyDefinition) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptySurveyName
	}
	if len(s.TriggerPhrases) == 0 {
		return ErrNoTriggerPhrases
	}
	if strings.TrimSpace(s.Storage.Table) == "" {
		return ErrEmptyStorageTable
	}
	if len(s.Questions) == 0 {
		return ErrNoQuestions
	}
	seen := make(map[string]bool, len(s.Questions))
	for i := range s.Questions {
		q := &s.Questions[i]
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %d (%s): %w", i, q.ID, err)
		}
		if seen[q.ID] {
			return fmt.Errorf("question %d: %w: %s", i, ErrDuplicateQuestion, q.ID)
		}
		seen[q.ID] = true
	}
	// Goto targets must resolve within this survey.
	for i := range s.Questions {
		flow := s.Questions[i].Flow
		if flow == nil {
			continue
		}
		for _, target := range flow.GotoTargets() {
			if !seen[target] {
				return fmt.Errorf("question %s: %w: %s", s.Questions[i].ID, ErrUnknownGotoTarget, target)
			}
		}
	}
	return nil
}

// Validate checks a single question.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return ErrEmptyQuestionID
	}
	switch q.Type {
	case QuestionTypeText, QuestionTypeVoice:
		if strings.TrimSpace(q.Text) == "" {
			return ErrEmptyQuestionText
		}
	case QuestionTypePoll:
		if strings.TrimSpace(q.Text) == "" {
			return ErrEmptyQuestionText
		}
		if len(q.Options) == 0 {
			return ErrPollNeedsOptions
		}
	case QuestionTypeFile:
		if strings.TrimSpace(q.Text) == "" {
			return ErrEmptyQuestionText
		}
		if q.MaxFileSize < 0 {
			return ErrInvalidMaxFileSize
		}
	case QuestionTypeMeetingScheduler:
		if strings.TrimSpace(q.Text) == "" {
			return ErrEmptyQuestionText
		}
	case QuestionTypeBotFile:
		if strings.TrimSpace(q.FilePath) == "" {
			return ErrBotFileNeedsPath
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, q.Type)
	}
	return nil
}

// EffectiveMaxFileSize returns the configured cap or the default.
func (q *Question) EffectiveMaxFileSize() int64 {
	if q.MaxFileSize > 0 {
		return q.MaxFileSize
	}
	return DefaultMaxFileSize
}

// QuestionIndex returns the position of the question with the given id, or -1.
func (s *SurveyDefinition) QuestionIndex(id string) int {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return i
		}
	}
	return -1
}
