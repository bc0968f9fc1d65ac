package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"surveyflow/internal/models"
)

const icsTimeLayout = "20060102T150405Z"

// buildICS renders a minimal single-event iCalendar document.
func buildICS(title string, slot models.TimeSlot, attendee Attendee) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//surveyflow//EN\r\n")
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s\r\n", uuid.NewString())
	fmt.Fprintf(&b, "DTSTAMP:%s\r\n", time.Now().UTC().Format(icsTimeLayout))
	fmt.Fprintf(&b, "DTSTART:%s\r\n", slot.Start.UTC().Format(icsTimeLayout))
	fmt.Fprintf(&b, "DTEND:%s\r\n", slot.End.UTC().Format(icsTimeLayout))
	fmt.Fprintf(&b, "SUMMARY:%s\r\n", escapeICS(title))
	if attendee.Name != "" {
		fmt.Fprintf(&b, "DESCRIPTION:%s\r\n", escapeICS(fmt.Sprintf("Meeting with %s (%s)", attendee.Name, attendee.Phone)))
	}
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

func escapeICS(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n")
	return r.Replace(s)
}
