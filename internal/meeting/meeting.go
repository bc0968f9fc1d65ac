// Package meeting implements the nested scheduling sub-flow driven by
// meeting_scheduler questions: a date poll, a time poll with an escape
// hatch, booking, and persistence of the confirmed time.
package meeting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"surveyflow/internal/calendar"
	"surveyflow/internal/messaging"
	"surveyflow/internal/models"
)

// EscapeOption lets the user back out of a day's time poll.
const EscapeOption = "Actually, let me pick a different day"

// dateLabelFormat renders candidate days in date polls.
const dateLabelFormat = "Monday, 02.01"

// meetingTimeLayout is how confirmed times are persisted.
const meetingTimeLayout = "2006-01-02 15:04"

// DefaultDaysToShow is used when the survey does not configure it.
const DefaultDaysToShow = 7

// Sender is the outbound surface the sub-flow needs. Satisfied by the
// messaging dispatcher.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendPoll(ctx context.Context, chatID string, poll messaging.Poll) error
	SendFile(ctx context.Context, chatID string, file messaging.OutFile) error
}

// RecordWriter persists the confirmed meeting time.
type RecordWriter interface {
	UpdateRecord(ctx context.Context, table, id string, fields models.Fields) error
}

// Handler runs the scheduling sub-flow. All methods are called with the
// session already held under its per-chat lock.
type Handler struct {
	cal     calendar.Calendar
	sender  Sender
	records RecordWriter
	now     func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithNow replaces the clock. Used by tests.
func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates a meeting sub-flow handler.
func NewHandler(cal calendar.Calendar, sender Sender, records RecordWriter, opts ...HandlerOption) *Handler {
	h := &Handler{cal: cal, sender: sender, records: records, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Enter starts the sub-flow for a meeting question. It scans ahead for days
// with open slots and presents them as a date poll. When no day has a slot
// the no-slots message is sent, no sub-state is created, and the session
// index stays on the question. Returns whether the sub-flow was entered.
func (h *Handler) Enter(ctx context.Context, state *models.SessionState, q *models.Question) (bool, error) {
	days, err := h.candidateDays(ctx, state.Survey.Calendar)
	if err != nil {
		return false, fmt.Errorf("failed to scan for available days: %w", err)
	}
	if len(days) == 0 {
		msg := state.Survey.Messages.NoSlots
		if msg == "" {
			msg = "Sorry, there are no available meeting times right now. We will reach out to you directly."
		}
		if err := h.sender.SendText(ctx, state.ChatID, msg); err != nil {
			return false, err
		}
		slog.Info("Meeting no available days", "chat_id", state.ChatID, "survey", state.SurveyName)
		return false, nil
	}

	state.Meeting = &models.MeetingState{
		Stage:          models.MeetingAwaitingDate,
		QuestionID:     q.ID,
		AvailableDates: days,
	}
	return true, h.sendDatePoll(ctx, state, q.Text)
}

// candidateDays scans up to 2×days_to_show consecutive days, starting today,
// collecting at most days_to_show days that have at least one open slot.
func (h *Handler) candidateDays(ctx context.Context, settings models.CalendarSettings) ([]time.Time, error) {
	daysToShow := settings.DaysToShow
	if daysToShow <= 0 {
		daysToShow = DefaultDaysToShow
	}
	var days []time.Time
	day := h.now()
	for scanned := 0; scanned < 2*daysToShow && len(days) < daysToShow; scanned++ {
		slots, err := h.cal.AvailableSlots(ctx, day)
		if err != nil {
			return nil, err
		}
		if len(slots) > 0 {
			days = append(days, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return days, nil
}

func (h *Handler) sendDatePoll(ctx context.Context, state *models.SessionState, question string) error {
	options := make([]string, 0, len(state.Meeting.AvailableDates))
	for _, day := range state.Meeting.AvailableDates {
		options = append(options, day.Format(dateLabelFormat))
	}
	if question == "" {
		question = "Which day works for you?"
	}
	return h.sender.SendPoll(ctx, state.ChatID, messaging.Poll{Question: question, Options: options})
}

// HandlePoll routes a poll answer to the current sub-flow stage. It returns
// whether the sub-flow finished (meeting confirmed and the session advanced),
// so the caller can dispatch the next question.
func (h *Handler) HandlePoll(ctx context.Context, state *models.SessionState, selections []string) (bool, error) {
	if state.Meeting == nil || len(selections) == 0 {
		return false, nil
	}
	choice := selections[0]
	switch state.Meeting.Stage {
	case models.MeetingAwaitingDate:
		return false, h.handleDateChoice(ctx, state, choice)
	case models.MeetingAwaitingTime:
		return h.handleTimeChoice(ctx, state, choice)
	default:
		return false, fmt.Errorf("unknown meeting stage %q", state.Meeting.Stage)
	}
}

func (h *Handler) handleDateChoice(ctx context.Context, state *models.SessionState, choice string) error {
	var selected time.Time
	found := false
	for _, day := range state.Meeting.AvailableDates {
		if day.Format(dateLabelFormat) == choice {
			selected = day
			found = true
			break
		}
	}
	if !found {
		slog.Warn("Meeting date choice not among candidates", "chat_id", state.ChatID, "choice", choice)
		return nil
	}

	// Re-fetch: availability may have changed since the poll was sent.
	slots, err := h.cal.AvailableSlots(ctx, selected)
	if err != nil {
		return fmt.Errorf("failed to refresh slots: %w", err)
	}
	if len(slots) == 0 {
		return h.sender.SendText(ctx, state.ChatID,
			fmt.Sprintf("Unfortunately %s has just filled up. Please pick another day.", choice))
	}

	state.Meeting.Stage = models.MeetingAwaitingTime
	state.Meeting.SelectedDate = selected
	state.Meeting.Slots = slots

	options := make([]string, 0, len(slots)+1)
	for _, s := range slots {
		options = append(options, s.String())
	}
	options = append(options, EscapeOption)
	return h.sender.SendPoll(ctx, state.ChatID, messaging.Poll{
		Question: fmt.Sprintf("Great, %s it is. What time suits you?", choice),
		Options:  options,
	})
}

func (h *Handler) handleTimeChoice(ctx context.Context, state *models.SessionState, choice string) (bool, error) {
	if choice == EscapeOption {
		q := state.Current()
		if q == nil {
			return false, fmt.Errorf("meeting sub-flow active without a current question")
		}
		state.Meeting = nil
		_, err := h.Enter(ctx, state, q)
		return false, err
	}

	var slot models.TimeSlot
	found := false
	for _, s := range state.Meeting.Slots {
		if s.String() == choice {
			slot = s
			found = true
			break
		}
	}
	if !found {
		slog.Warn("Meeting time choice not among offered slots", "chat_id", state.ChatID, "choice", choice)
		return false, nil
	}

	// The slot was offered a poll ago; make sure it is still open.
	fresh, err := h.cal.AvailableSlots(ctx, state.Meeting.SelectedDate)
	if err != nil {
		return false, fmt.Errorf("failed to revalidate slot: %w", err)
	}
	stillOpen := false
	for _, s := range fresh {
		if s.Start.Equal(slot.Start) && s.End.Equal(slot.End) {
			stillOpen = true
			break
		}
	}
	if !stillOpen {
		state.Meeting.Slots = fresh
		if err := h.sender.SendText(ctx, state.ChatID,
			"Sorry, that time was just taken. Here are the remaining options."); err != nil {
			return false, err
		}
		return false, h.resendTimePoll(ctx, state)
	}

	booking, err := h.cal.Book(ctx, slot, h.attendee(state))
	if err != nil {
		return false, fmt.Errorf("failed to book meeting: %w", err)
	}

	confirmed := slot.Start.Format(meetingTimeLayout)
	state.Answers[state.Meeting.QuestionID] = confirmed
	if state.RecordID != "" && h.records != nil {
		fields := models.Fields{state.Meeting.QuestionID: confirmed}
		if err := h.records.UpdateRecord(ctx, state.Survey.Storage.Table, state.RecordID, fields); err != nil {
			return false, fmt.Errorf("failed to persist meeting time: %w", err)
		}
	}

	confirmation := fmt.Sprintf("You're booked for %s at %s. See you then!",
		state.Meeting.SelectedDate.Format(dateLabelFormat), slot.String())
	if err := h.sender.SendText(ctx, state.ChatID, confirmation); err != nil {
		return false, err
	}
	// The invite is a courtesy; booking already succeeded.
	if err := h.sender.SendFile(ctx, state.ChatID, messaging.OutFile{
		Name: "invite.ics",
		MIME: "text/calendar",
		Data: booking.InviteICS,
	}); err != nil {
		slog.Warn("Meeting invite send failed", "chat_id", state.ChatID, "error", err)
	}

	slog.Info("Meeting confirmed",
		"chat_id", state.ChatID, "survey", state.SurveyName,
		"event_id", booking.EventID, "time", confirmed)
	state.Meeting = nil
	state.Advance()
	return true, nil
}

func (h *Handler) resendTimePoll(ctx context.Context, state *models.SessionState) error {
	if len(state.Meeting.Slots) == 0 {
		state.Meeting.Stage = models.MeetingAwaitingDate
		return h.sendDatePoll(ctx, state, "That day has filled up. Which other day works?")
	}
	options := make([]string, 0, len(state.Meeting.Slots)+1)
	for _, s := range state.Meeting.Slots {
		options = append(options, s.String())
	}
	options = append(options, EscapeOption)
	return h.sender.SendPoll(ctx, state.ChatID, messaging.Poll{
		Question: "What time suits you?",
		Options:  options,
	})
}

// attendee derives booking details from what the survey has collected so far.
func (h *Handler) attendee(state *models.SessionState) calendar.Attendee {
	name := ""
	for _, key := range []string{"full_name", "name"} {
		if v, ok := state.Answers[key].(string); ok && v != "" {
			name = v
			break
		}
	}
	phone := state.ChatID
	if i := strings.IndexByte(phone, '@'); i > 0 {
		phone = phone[:i]
	}
	meetingType := ""
	if v, ok := state.Answers["meeting_type"].(string); ok {
		meetingType = v
	}
	return calendar.Attendee{Name: name, Phone: phone, MeetingType: meetingType}
}
