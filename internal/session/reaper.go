package session

import (
	"context"
	"log/slog"
	"time"

	"surveyflow/internal/models"
)

// Reaper defaults, overridable through options.
const (
	DefaultSurveyTimeout = 30 * time.Minute
	DefaultReminderAfter = 2 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
	statusUpdateDeadline = 30 * time.Second
)

// TextSender sends one text message. Satisfied by the messaging dispatcher.
type TextSender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// StatusWriter updates a record's status field. Satisfied by the engine's
// record writer.
type StatusWriter interface {
	WriteStatus(ctx context.Context, survey *models.SurveyDefinition, recordID, status string) error
}

// Reaper expires idle sessions. Sessions idle past the reminder window get
// one nudge; sessions idle past the survey timeout are removed, the user is
// notified best-effort, and the record status update runs detached so a slow
// store never blocks the sweep.
type Reaper struct {
	store         *Store
	sender        TextSender
	statusWriter  StatusWriter
	timeout       time.Duration
	reminderAfter time.Duration
	now           func() time.Time
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithTimeout overrides the survey timeout.
func WithTimeout(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithReminderAfter overrides the reminder window.
func WithReminderAfter(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.reminderAfter = d
		}
	}
}

// withNow replaces the clock. Used by tests.
func withNow(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

// NewReaper creates a Reaper over the given store.
func NewReaper(store *Store, sender TextSender, statusWriter StatusWriter, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:         store,
		sender:        sender,
		statusWriter:  statusWriter,
		timeout:       DefaultSurveyTimeout,
		reminderAfter: DefaultReminderAfter,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep walks every active session once. Each chat is handled under its own
// lock, so a sweep never races a webhook event on the same conversation.
func (r *Reaper) Sweep(ctx context.Context) {
	chats := r.store.Snapshot()
	if len(chats) == 0 {
		return
	}
	slog.Debug("Reaper sweep starting", "active_sessions", len(chats))

	for _, chatID := range chats {
		r.store.Do(chatID, func(state *models.SessionState) *models.SessionState {
			if state == nil {
				return nil
			}
			idle := r.now().Sub(state.LastActivity)
			switch {
			case idle >= r.timeout:
				r.expire(ctx, state)
				return nil
			case idle >= r.reminderAfter && !state.ReminderSent:
				r.remind(ctx, state)
				return state
			default:
				return state
			}
		})
	}
}

func (r *Reaper) remind(ctx context.Context, state *models.SessionState) {
	msg := state.Survey.Messages.Reminder
	if msg == "" {
		return
	}
	if err := r.sender.SendText(ctx, state.ChatID, msg); err != nil {
		slog.Warn("Reaper reminder send failed", "chat_id", state.ChatID, "error", err)
		return
	}
	state.ReminderSent = true
	slog.Info("Reaper reminder sent", "chat_id", state.ChatID, "survey", state.SurveyName)
}

func (r *Reaper) expire(ctx context.Context, state *models.SessionState) {
	slog.Info("Reaper expiring idle session",
		"chat_id", state.ChatID, "survey", state.SurveyName,
		"idle", r.now().Sub(state.LastActivity).Round(time.Second))

	if msg := state.Survey.Messages.Timeout; msg != "" {
		if err := r.sender.SendText(ctx, state.ChatID, msg); err != nil {
			slog.Warn("Reaper timeout notice failed", "chat_id", state.ChatID, "error", err)
		}
	}

	if state.RecordID == "" || r.statusWriter == nil {
		return
	}
	// Fire-and-forget: the sweep must not wait on the record store.
	survey := state.Survey
	recordID := state.RecordID
	chatID := state.ChatID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), statusUpdateDeadline)
		defer cancel()
		if err := r.statusWriter.WriteStatus(ctx, survey, recordID, models.StatusCancelledTimeout); err != nil {
			slog.Error("Reaper status update failed", "chat_id", chatID, "record_id", recordID, "error", err)
		}
	}()
}
