package models

import (
	"fmt"
	"time"
)

// Event types emitted by transports for inbound webhook payloads.
const (
	EventTypeText  = "text"
	EventTypeVoice = "voice"
	EventTypePoll  = "poll"
	EventTypeFile  = "file"
)

// Event is one inbound message normalized from a transport webhook.
type Event struct {
	Type           string
	ChatID         string
	SenderName     string
	Text           string
	VoiceURL       string
	VoiceMIME      string
	PollSelections []string
	File           *FilePayload
	Time           time.Time
}

// FilePayload describes an uploaded file attached to an inbound event.
type FilePayload struct {
	URL  string
	Name string
	MIME string
	Size int64
}

// Fields is a flat record field map persisted to the record store.
type Fields map[string]any

// Attachment is one element of an array-of-object file field. Array-valued
// fields replace the stored value wholesale on update; they are never merged.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Type     string `json:"type,omitempty"`
}

// TimeSlot is a bookable interval.
type TimeSlot struct {
	Start time.Time
	End   time.Time
}

// String renders the slot as "HH:MM - HH:MM".
func (s TimeSlot) String() string {
	return fmt.Sprintf("%s - %s", s.Start.Format("15:04"), s.End.Format("15:04"))
}

// Meeting sub-flow stages.
const (
	MeetingAwaitingDate = "awaiting_date"
	MeetingAwaitingTime = "awaiting_time"
)

// MeetingState is the nested scheduling sub-flow state. It exists only while
// a meeting_scheduler question is being answered; the owning session index
// stays on that question until the sub-flow confirms or is abandoned.
type MeetingState struct {
	Stage          string
	QuestionID     string
	AvailableDates []time.Time
	SelectedDate   time.Time
	Slots          []TimeSlot
}

// SessionState is the per-chat conversation state. All access is serialized
// by the session store's per-chat lock; the struct itself carries no locking.
type SessionState struct {
	ChatID          string
	SurveyName      string
	Survey          *SurveyDefinition
	CurrentQuestion int
	Answers         Fields
	RecordID        string
	StartedAt       time.Time
	LastActivity    time.Time
	ReminderSent    bool
	Meeting         *MeetingState
}

// NewSessionState creates a fresh session positioned at the first question.
func NewSessionState(chatID string, survey *SurveyDefinition) *SessionState {
	now := time.Now()
	return &SessionState{
		ChatID:       chatID,
		SurveyName:   survey.Name,
		Survey:       survey,
		Answers:      make(Fields),
		StartedAt:    now,
		LastActivity: now,
	}
}

// Touch records activity, resetting the idle clock and any pending reminder.
func (s *SessionState) Touch() {
	s.LastActivity = time.Now()
	s.ReminderSent = false
}

// Done reports whether the session has advanced past the last question.
func (s *SessionState) Done() bool {
	return s.CurrentQuestion >= len(s.Survey.Questions)
}

// Current returns the active question, or nil when the session is done.
func (s *SessionState) Current() *Question {
	if s.CurrentQuestion < 0 || s.Done() {
		return nil
	}
	return &s.Survey.Questions[s.CurrentQuestion]
}

// Advance moves to the next sequential question, clamped to len(questions).
func (s *SessionState) Advance() {
	if !s.Done() {
		s.CurrentQuestion++
	}
}

// JumpTo moves to the question with the given id. It reports whether the id
// resolved; an unresolved id leaves the index unchanged.
func (s *SessionState) JumpTo(questionID string) bool {
	idx := s.Survey.QuestionIndex(questionID)
	if idx < 0 {
		return false
	}
	s.CurrentQuestion = idx
	return true
}
