package calendar

import (
	"context"
	"strings"
	"testing"
	"time"

	"surveyflow/internal/models"
)

func testSettings() models.CalendarSettings {
	return models.CalendarSettings{
		WorkingHours: map[string]string{
			"monday":  "09:00-12:00",
			"tuesday": "10:00-11:00",
		},
		SlotDurationMin: 30,
		BufferMin:       15,
		DaysToShow:      3,
		Timezone:        "UTC",
	}
}

// monday is a fixed Monday well in the future of the fake clock.
var monday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
}

func TestAvailableSlotsGrid(t *testing.T) {
	w, err := NewWorkingHours(testSettings(), WithNow(fixedNow))
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	slots, err := w.AvailableSlots(context.Background(), monday)
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	// 09:00-12:00 with 30min slots and 15min buffer: 09:00, 09:45, 10:30, 11:15.
	want := []string{"09:00 - 09:30", "09:45 - 10:15", "10:30 - 11:00", "11:15 - 11:45"}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(slots), slots)
	}
	for i, s := range slots {
		if s.String() != want[i] {
			t.Errorf("slot %d: expected %s, got %s", i, want[i], s)
		}
	}
}

func TestAvailableSlotsNonWorkingDay(t *testing.T) {
	w, _ := NewWorkingHours(testSettings(), WithNow(fixedNow))
	sunday := monday.AddDate(0, 0, -1)
	slots, err := w.AvailableSlots(context.Background(), sunday)
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots on a non-working day, got %v", slots)
	}
}

func TestAvailableSlotsExcludesPast(t *testing.T) {
	// Clock at 10:00 on the queried Monday: morning slots are gone.
	late := func() time.Time { return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) }
	w, _ := NewWorkingHours(testSettings(), WithNow(late))
	slots, err := w.AvailableSlots(context.Background(), monday)
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 remaining slots, got %v", slots)
	}
	if slots[0].String() != "10:30 - 11:00" {
		t.Errorf("unexpected first slot %s", slots[0])
	}
}

type fixedBusy struct {
	intervals []models.TimeSlot
}

func (f *fixedBusy) BusyIntervals(ctx context.Context, day time.Time) ([]models.TimeSlot, error) {
	return f.intervals, nil
}

func TestAvailableSlotsExcludesBusy(t *testing.T) {
	busy := &fixedBusy{intervals: []models.TimeSlot{{
		Start: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}}}
	w, _ := NewWorkingHours(testSettings(), WithNow(fixedNow), WithBusyLister(busy))
	slots, err := w.AvailableSlots(context.Background(), monday)
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	for _, s := range slots {
		if s.String() == "09:45 - 10:15" {
			t.Errorf("busy-overlapping slot offered: %v", slots)
		}
	}
	if len(slots) != 3 {
		t.Errorf("expected 3 slots, got %v", slots)
	}
}

func TestBookRemovesSlotAndRejectsDoubleBooking(t *testing.T) {
	w, _ := NewWorkingHours(testSettings(), WithNow(fixedNow))
	ctx := context.Background()

	slots, _ := w.AvailableSlots(ctx, monday)
	first := slots[0]

	booking, err := w.Book(ctx, first, Attendee{Name: "Dana", Phone: "+79001234567"})
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}
	if booking.EventID == "" {
		t.Error("booking has no event id")
	}
	ics := string(booking.InviteICS)
	if !strings.Contains(ics, "BEGIN:VEVENT") || !strings.Contains(ics, "DTSTART:20250602T090000Z") {
		t.Errorf("invite malformed:\n%s", ics)
	}

	remaining, _ := w.AvailableSlots(ctx, monday)
	if len(remaining) != len(slots)-1 {
		t.Errorf("booked slot still offered: %v", remaining)
	}

	if _, err := w.Book(ctx, first, Attendee{Name: "Eve"}); err == nil {
		t.Error("double booking must fail")
	}
}
