package meeting

import (
	"context"
	"testing"
	"time"

	"surveyflow/internal/calendar"
	"surveyflow/internal/messaging"
	"surveyflow/internal/models"
)

// scriptedCalendar serves slots from a fixed map and records bookings.
type scriptedCalendar struct {
	slots    map[string][]models.TimeSlot // key: YYYY-MM-DD
	bookings []calendar.Attendee
	bookErr  error
}

func (c *scriptedCalendar) AvailableSlots(ctx context.Context, day time.Time) ([]models.TimeSlot, error) {
	return c.slots[day.Format("2006-01-02")], nil
}

func (c *scriptedCalendar) Book(ctx context.Context, slot models.TimeSlot, attendee calendar.Attendee) (*calendar.Booking, error) {
	if c.bookErr != nil {
		return nil, c.bookErr
	}
	c.bookings = append(c.bookings, attendee)
	// Booked slots disappear from the day's availability.
	key := slot.Start.Format("2006-01-02")
	var remaining []models.TimeSlot
	for _, s := range c.slots[key] {
		if !s.Start.Equal(slot.Start) {
			remaining = append(remaining, s)
		}
	}
	c.slots[key] = remaining
	return &calendar.Booking{EventID: "evt1", Slot: slot, InviteICS: []byte("BEGIN:VCALENDAR")}, nil
}

type recordingWriter struct {
	updates []models.Fields
}

func (r *recordingWriter) UpdateRecord(ctx context.Context, table, id string, fields models.Fields) error {
	r.updates = append(r.updates, fields)
	return nil
}

var baseDay = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func slotAt(day time.Time, hour int) models.TimeSlot {
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
	return models.TimeSlot{Start: start, End: start.Add(30 * time.Minute)}
}

func meetingSurvey() *models.SurveyDefinition {
	return &models.SurveyDefinition{
		Name:           "onboarding",
		TriggerPhrases: []string{"start"},
		Storage:        models.StorageConfig{Table: "Responses"},
		Questions: []models.Question{
			{ID: "meeting_time", Type: models.QuestionTypeMeetingScheduler, Text: "When shall we meet?"},
			{ID: "closing", Type: models.QuestionTypeText, Text: "Anything else?"},
		},
		Messages: models.Messages{NoSlots: "No times available, sorry."},
		Calendar: models.CalendarSettings{DaysToShow: 2},
	}
}

func meetingSession() *models.SessionState {
	state := models.NewSessionState("79001234567@c.us", meetingSurvey())
	state.RecordID = "rec1"
	state.Answers["full_name"] = "Dana"
	return state
}

func newTestHandler(cal calendar.Calendar, sender Sender, records RecordWriter) *Handler {
	return NewHandler(cal, sender, records, WithNow(func() time.Time { return baseDay }))
}

func TestEnterNoSlotsStaysOut(t *testing.T) {
	cal := &scriptedCalendar{slots: map[string][]models.TimeSlot{}}
	sender := &messaging.MockTransport{}
	state := meetingSession()

	entered, err := newTestHandler(cal, sender, nil).Enter(context.Background(), state, state.Current())
	if err != nil {
		t.Fatalf("enter failed: %v", err)
	}
	if entered {
		t.Error("sub-flow must not be entered without slots")
	}
	if state.Meeting != nil {
		t.Error("no sub-state should exist")
	}
	if state.CurrentQuestion != 0 {
		t.Error("index must not advance")
	}
	texts := sender.SentTexts()
	if len(texts) != 1 || texts[0].Text != "No times available, sorry." {
		t.Errorf("expected the no-slots message, got %v", texts)
	}
}

func TestEnterPresentsDatePoll(t *testing.T) {
	day2 := baseDay.AddDate(0, 0, 1)
	cal := &scriptedCalendar{slots: map[string][]models.TimeSlot{
		baseDay.Format("2006-01-02"): {slotAt(baseDay, 9)},
		day2.Format("2006-01-02"):    {slotAt(day2, 10)},
	}}
	sender := &messaging.MockTransport{}
	state := meetingSession()

	entered, err := newTestHandler(cal, sender, nil).Enter(context.Background(), state, state.Current())
	if err != nil || !entered {
		t.Fatalf("enter: entered=%v err=%v", entered, err)
	}
	if state.Meeting == nil || state.Meeting.Stage != models.MeetingAwaitingDate {
		t.Fatalf("unexpected sub-state %+v", state.Meeting)
	}
	polls := sender.SentPolls()
	if len(polls) != 1 {
		t.Fatalf("expected one date poll, got %d", len(polls))
	}
	if len(polls[0].Poll.Options) != 2 || polls[0].Poll.Options[0] != baseDay.Format(dateLabelFormat) {
		t.Errorf("unexpected date options %v", polls[0].Poll.Options)
	}
}

func TestFullSchedulingFlow(t *testing.T) {
	cal := &scriptedCalendar{slots: map[string][]models.TimeSlot{
		baseDay.Format("2006-01-02"): {slotAt(baseDay, 9), slotAt(baseDay, 10)},
	}}
	sender := &messaging.MockTransport{}
	writer := &recordingWriter{}
	h := newTestHandler(cal, sender, writer)
	state := meetingSession()
	ctx := context.Background()

	if entered, err := h.Enter(ctx, state, state.Current()); err != nil || !entered {
		t.Fatalf("enter: %v", err)
	}

	// Date selection produces a time poll with the escape option appended.
	done, err := h.HandlePoll(ctx, state, []string{baseDay.Format(dateLabelFormat)})
	if err != nil || done {
		t.Fatalf("date step: done=%v err=%v", done, err)
	}
	polls := sender.SentPolls()
	timePoll := polls[len(polls)-1].Poll
	if timePoll.Options[len(timePoll.Options)-1] != EscapeOption {
		t.Errorf("escape option missing: %v", timePoll.Options)
	}

	done, err = h.HandlePoll(ctx, state, []string{"09:00 - 09:30"})
	if err != nil {
		t.Fatalf("time step failed: %v", err)
	}
	if !done {
		t.Fatal("expected sub-flow completion")
	}
	if state.Meeting != nil {
		t.Error("sub-state must be cleared")
	}
	if state.CurrentQuestion != 1 {
		t.Errorf("index must advance past the meeting question, got %d", state.CurrentQuestion)
	}
	if state.Answers["meeting_time"] != "2025-06-02 09:00" {
		t.Errorf("answer not recorded: %v", state.Answers["meeting_time"])
	}
	if len(writer.updates) != 1 || writer.updates[0]["meeting_time"] != "2025-06-02 09:00" {
		t.Errorf("meeting time not persisted: %v", writer.updates)
	}
	if len(cal.bookings) != 1 || cal.bookings[0].Name != "Dana" || cal.bookings[0].Phone != "79001234567" {
		t.Errorf("attendee details wrong: %+v", cal.bookings)
	}
	if files := sender.SentFiles(); len(files) != 1 || files[0].File.Name != "invite.ics" {
		t.Errorf("invite not sent: %v", files)
	}
}

func TestStaleSlotOffersRemaining(t *testing.T) {
	cal := &scriptedCalendar{slots: map[string][]models.TimeSlot{
		baseDay.Format("2006-01-02"): {slotAt(baseDay, 9), slotAt(baseDay, 10)},
	}}
	sender := &messaging.MockTransport{}
	h := newTestHandler(cal, sender, nil)
	state := meetingSession()
	ctx := context.Background()

	_, _ = h.Enter(ctx, state, state.Current())
	_, _ = h.HandlePoll(ctx, state, []string{baseDay.Format(dateLabelFormat)})

	// The 09:00 slot vanishes between the poll and the answer.
	cal.slots[baseDay.Format("2006-01-02")] = []models.TimeSlot{slotAt(baseDay, 10)}

	done, err := h.HandlePoll(ctx, state, []string{"09:00 - 09:30"})
	if err != nil || done {
		t.Fatalf("stale step: done=%v err=%v", done, err)
	}
	if state.Meeting == nil || state.Meeting.Stage != models.MeetingAwaitingTime {
		t.Fatalf("state must stay in time selection: %+v", state.Meeting)
	}
	polls := sender.SentPolls()
	fresh := polls[len(polls)-1].Poll
	if len(fresh.Options) != 2 || fresh.Options[0] != "10:00 - 10:30" {
		t.Errorf("expected refreshed slot options, got %v", fresh.Options)
	}
}

func TestEscapeOptionReentersDateSelection(t *testing.T) {
	day2 := baseDay.AddDate(0, 0, 1)
	cal := &scriptedCalendar{slots: map[string][]models.TimeSlot{
		baseDay.Format("2006-01-02"): {slotAt(baseDay, 9)},
		day2.Format("2006-01-02"):    {slotAt(day2, 11)},
	}}
	sender := &messaging.MockTransport{}
	h := newTestHandler(cal, sender, nil)
	state := meetingSession()
	ctx := context.Background()

	_, _ = h.Enter(ctx, state, state.Current())
	_, _ = h.HandlePoll(ctx, state, []string{baseDay.Format(dateLabelFormat)})

	done, err := h.HandlePoll(ctx, state, []string{EscapeOption})
	if err != nil || done {
		t.Fatalf("escape step: done=%v err=%v", done, err)
	}
	if state.Meeting == nil || state.Meeting.Stage != models.MeetingAwaitingDate {
		t.Fatalf("expected date selection again, got %+v", state.Meeting)
	}
	polls := sender.SentPolls()
	last := polls[len(polls)-1].Poll
	if len(last.Options) != 2 {
		t.Errorf("expected fresh date poll, got %v", last.Options)
	}
}
