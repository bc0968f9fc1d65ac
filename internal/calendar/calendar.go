// Package calendar computes bookable meeting slots from working-hours
// settings and records bookings.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"surveyflow/internal/models"
)

// Attendee identifies who a meeting is booked for.
type Attendee struct {
	Name        string
	Phone       string
	MeetingType string
}

// Booking is a confirmed meeting.
type Booking struct {
	EventID   string
	Slot      models.TimeSlot
	InviteICS []byte
}

// Calendar answers slot queries and books meetings.
type Calendar interface {
	AvailableSlots(ctx context.Context, day time.Time) ([]models.TimeSlot, error)
	Book(ctx context.Context, slot models.TimeSlot, attendee Attendee) (*Booking, error)
}

// BusyLister reports intervals already taken on a day, for example from an
// external calendar account.
type BusyLister interface {
	BusyIntervals(ctx context.Context, day time.Time) ([]models.TimeSlot, error)
}

// WorkingHours is a Calendar that derives slots from per-weekday working
// hours. Bookings are tracked internally and excluded from later queries,
// alongside whatever the optional BusyLister reports.
type WorkingHours struct {
	settings models.CalendarSettings
	location *time.Location
	busy     BusyLister
	now      func() time.Time

	mu     sync.Mutex
	booked []models.TimeSlot
}

// WorkingHoursOption configures a WorkingHours calendar.
type WorkingHoursOption func(*WorkingHours)

// WithBusyLister attaches an external busy-interval source.
func WithBusyLister(b BusyLister) WorkingHoursOption {
	return func(w *WorkingHours) { w.busy = b }
}

// WithNow replaces the clock. Used by tests.
func WithNow(now func() time.Time) WorkingHoursOption {
	return func(w *WorkingHours) { w.now = now }
}

// NewWorkingHours creates a calendar for the given settings.
func NewWorkingHours(settings models.CalendarSettings, opts ...WorkingHoursOption) (*WorkingHours, error) {
	loc := time.Local
	if settings.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(settings.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", settings.Timezone, err)
		}
	}
	if settings.SlotDurationMin <= 0 {
		return nil, fmt.Errorf("slot duration must be positive, got %d", settings.SlotDurationMin)
	}
	w := &WorkingHours{
		settings: settings,
		location: loc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// parseWindow parses "HH:MM-HH:MM" into the day's concrete start and end.
func parseWindow(day time.Time, window string, loc *time.Location) (time.Time, time.Time, error) {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("working hours %q must be HH:MM-HH:MM", window)
	}
	start, err := time.ParseInLocation("15:04", strings.TrimSpace(parts[0]), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window start %q: %w", parts[0], err)
	}
	end, err := time.ParseInLocation("15:04", strings.TrimSpace(parts[1]), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window end %q: %w", parts[1], err)
	}
	y, m, d := day.In(loc).Date()
	toDay := func(t time.Time) time.Time {
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
	}
	return toDay(start), toDay(end), nil
}

func overlaps(a, b models.TimeSlot) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// AvailableSlots returns the open slots on a day: the working-hours grid
// minus busy intervals, bookings, and anything already in the past.
func (w *WorkingHours) AvailableSlots(ctx context.Context, day time.Time) ([]models.TimeSlot, error) {
	weekday := strings.ToLower(day.In(w.location).Weekday().String())
	window, ok := w.settings.WorkingHours[weekday]
	if !ok || window == "" {
		return nil, nil
	}
	start, end, err := parseWindow(day, window, w.location)
	if err != nil {
		return nil, err
	}

	var busy []models.TimeSlot
	if w.busy != nil {
		busy, err = w.busy.BusyIntervals(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("failed to list busy intervals: %w", err)
		}
	}
	w.mu.Lock()
	busy = append(busy, w.booked...)
	w.mu.Unlock()

	slotLen := time.Duration(w.settings.SlotDurationMin) * time.Minute
	step := slotLen + time.Duration(w.settings.BufferMin)*time.Minute
	now := w.now()

	var slots []models.TimeSlot
	for cur := start; !cur.Add(slotLen).After(end); cur = cur.Add(step) {
		slot := models.TimeSlot{Start: cur, End: cur.Add(slotLen)}
		if slot.Start.Before(now) {
			continue
		}
		taken := false
		for _, b := range busy {
			if overlaps(slot, b) {
				taken = true
				break
			}
		}
		if !taken {
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

// Book reserves a slot if it is still open and returns the booking with an
// ICS invite attached.
func (w *WorkingHours) Book(ctx context.Context, slot models.TimeSlot, attendee Attendee) (*Booking, error) {
	open, err := w.AvailableSlots(ctx, slot.Start)
	if err != nil {
		return nil, err
	}
	free := false
	for _, s := range open {
		if s.Start.Equal(slot.Start) && s.End.Equal(slot.End) {
			free = true
			break
		}
	}
	if !free {
		return nil, fmt.Errorf("slot %s on %s is no longer available", slot, slot.Start.Format("2006-01-02"))
	}

	w.mu.Lock()
	w.booked = append(w.booked, slot)
	w.mu.Unlock()

	title := w.settings.MeetingTitle
	if title == "" {
		title = "Meeting"
	}
	if attendee.MeetingType != "" {
		title = fmt.Sprintf("%s: %s", title, attendee.MeetingType)
	}
	booking := &Booking{
		EventID:   uuid.NewString(),
		Slot:      slot,
		InviteICS: buildICS(title, slot, attendee),
	}
	slog.Info("Calendar meeting booked",
		"event_id", booking.EventID, "start", slot.Start.Format(time.RFC3339), "attendee", attendee.Name)
	return booking, nil
}
