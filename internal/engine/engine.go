// Package engine drives survey conversations: it turns inbound events into
// session transitions, runs the answer side effects, resolves conditional
// flow, and manages the scheduling sub-flow and completion.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"surveyflow/internal/meeting"
	"surveyflow/internal/messaging"
	"surveyflow/internal/models"
	"surveyflow/internal/recordstore"
	"surveyflow/internal/session"
	"surveyflow/internal/survey"
)

// interMessagePause separates consecutive outbound messages so the
// conversation reads naturally.
const interMessagePause = 1500 * time.Millisecond

// statusUpdateDeadline bounds detached record status writes.
const statusUpdateDeadline = 30 * time.Second

// stopPhrases cancel an active survey when sent as a standalone message.
var stopPhrases = []string{"stop", "cancel", "exit", "quit", "stop survey"}

// Sender is the outbound messaging surface. Satisfied by the dispatcher.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendPoll(ctx context.Context, chatID string, poll messaging.Poll) error
	SendFile(ctx context.Context, chatID string, file messaging.OutFile) error
}

// Reflector generates answer acknowledgments.
type Reflector interface {
	Reflect(ctx context.Context, survey *models.SurveyDefinition, question *models.Question, answer string) (string, error)
}

// Summarizer generates the completion summary.
type Summarizer interface {
	Summarize(ctx context.Context, survey *models.SurveyDefinition, answers models.Fields) (string, error)
}

// Transcriber converts voice notes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Downloader fetches inbound attachments by gateway URL.
type Downloader interface {
	DownloadFile(ctx context.Context, url string) ([]byte, error)
}

// Engine processes inbound events against the session store.
type Engine struct {
	surveys    *survey.Registry
	sessions   *session.Store
	sender     Sender
	records    recordstore.Store
	reflector  Reflector
	summarizer Summarizer
	transcribe Transcriber
	download   Downloader
	meetings   *meeting.Handler

	notificationChat string
	pause            func(ctx context.Context)
	fileReader       func(path string) ([]byte, error)
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithNotificationChat sets the chat notified on survey completion.
func WithNotificationChat(chatID string) Option {
	return func(e *Engine) { e.notificationChat = chatID }
}

// WithReflector attaches a reflection generator.
func WithReflector(r Reflector) Option {
	return func(e *Engine) { e.reflector = r }
}

// WithSummarizer attaches a summary generator.
func WithSummarizer(s Summarizer) Option {
	return func(e *Engine) { e.summarizer = s }
}

// WithTranscriber attaches a voice transcriber.
func WithTranscriber(t Transcriber) Option {
	return func(e *Engine) { e.transcribe = t }
}

// WithDownloader attaches an attachment downloader.
func WithDownloader(d Downloader) Option {
	return func(e *Engine) { e.download = d }
}

// WithMeetingHandler attaches the scheduling sub-flow.
func WithMeetingHandler(h *meeting.Handler) Option {
	return func(e *Engine) { e.meetings = h }
}

// withPause replaces the inter-message pause. Used by tests.
func withPause(fn func(ctx context.Context)) Option {
	return func(e *Engine) { e.pause = fn }
}

// withFileReader replaces local file reads for bot_file questions. Used by tests.
func withFileReader(fn func(path string) ([]byte, error)) Option {
	return func(e *Engine) { e.fileReader = fn }
}

// NewEngine creates an Engine.
func NewEngine(surveys *survey.Registry, sessions *session.Store, sender Sender, records recordstore.Store, opts ...Option) *Engine {
	e := &Engine{
		surveys:  surveys,
		sessions: sessions,
		sender:   sender,
		records:  records,
		pause: func(ctx context.Context) {
			select {
			case <-time.After(interMessagePause):
			case <-ctx.Done():
			}
		},
		fileReader: readLocalFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WriteStatus updates a record's status field. Also used by the session
// reaper for timeout cancellations.
func (e *Engine) WriteStatus(ctx context.Context, def *models.SurveyDefinition, recordID, status string) error {
	return e.records.UpdateRecord(ctx, def.Storage.Table, recordID, models.Fields{"status": status})
}

// HandleEvent processes one inbound event. It never panics; a failure inside
// the handler degrades to the survey's error message for that chat.
func (e *Engine) HandleEvent(ctx context.Context, evt *models.Event) {
	if evt == nil || evt.ChatID == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine recovered from panic", "chat_id", evt.ChatID, "panic", r)
			// The survey definition may be unknown at this point, so the
			// apology is a fixed fallback rather than the survey's error copy.
			if err := e.sender.SendText(ctx, evt.ChatID, "Sorry, something went wrong on our side. Please try again."); err != nil {
				slog.Warn("Engine apology send failed", "chat_id", evt.ChatID, "error", err)
			}
		}
	}()

	e.sessions.Do(evt.ChatID, func(state *models.SessionState) *models.SessionState {
		if state == nil {
			return e.maybeStart(ctx, evt)
		}
		return e.handleSessionEvent(ctx, state, evt)
	})
}

func isStopPhrase(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	for _, p := range stopPhrases {
		if lowered == p {
			return true
		}
	}
	return false
}

// maybeStart begins a survey when the event matches a trigger phrase.
// Anything else from a chat without a session is ignored.
func (e *Engine) maybeStart(ctx context.Context, evt *models.Event) *models.SessionState {
	trigger := evt.Text
	if trigger == "" && len(evt.PollSelections) > 0 {
		trigger = evt.PollSelections[0]
	}
	if trigger == "" || isStopPhrase(trigger) {
		return nil
	}
	def := e.surveys.FindByTrigger(trigger)
	if def == nil {
		slog.Debug("Engine no survey for message", "chat_id", evt.ChatID)
		return nil
	}

	fields := models.Fields{
		"status":    models.StatusNew,
		"chat_id":   evt.ChatID,
		"fill_date": evt.Time.Format("2006-01-02"),
	}
	if evt.SenderName != "" {
		fields["sender_name"] = evt.SenderName
	}
	recordID, err := e.records.CreateRecord(ctx, def.Storage.Table, fields)
	if err != nil {
		slog.Error("Engine failed to create record", "chat_id", evt.ChatID, "survey", def.Name, "error", err)
		e.sendError(ctx, evt.ChatID, def)
		return nil
	}

	state := models.NewSessionState(evt.ChatID, def)
	state.RecordID = recordID
	slog.Info("Engine survey started", "chat_id", evt.ChatID, "survey", def.Name, "record_id", recordID)

	if def.Messages.Welcome != "" {
		if err := e.sender.SendText(ctx, evt.ChatID, def.Messages.Welcome); err != nil {
			slog.Warn("Engine welcome send failed", "chat_id", evt.ChatID, "error", err)
		}
		e.pause(ctx)
	}
	return e.dispatchCurrent(ctx, state)
}

// handleSessionEvent processes an event for an active session.
func (e *Engine) handleSessionEvent(ctx context.Context, state *models.SessionState, evt *models.Event) *models.SessionState {
	state.Touch()

	if evt.Type == models.EventTypeText && isStopPhrase(evt.Text) {
		return e.cancel(ctx, state)
	}

	if state.Meeting != nil {
		if evt.Type != models.EventTypePoll {
			// Only poll answers move the scheduling sub-flow.
			return state
		}
		done, err := e.meetings.HandlePoll(ctx, state, evt.PollSelections)
		if err != nil {
			slog.Error("Engine meeting step failed", "chat_id", state.ChatID, "error", err)
			e.sendError(ctx, state.ChatID, state.Survey)
			return state
		}
		if done {
			return e.continueAfterAdvance(ctx, state)
		}
		return state
	}

	return e.handleAnswer(ctx, state, evt)
}

// cancel ends the survey at the user's request.
func (e *Engine) cancel(ctx context.Context, state *models.SessionState) *models.SessionState {
	slog.Info("Engine survey cancelled by user", "chat_id", state.ChatID, "survey", state.SurveyName)
	if err := e.sender.SendText(ctx, state.ChatID, "Okay, the survey has been cancelled. Message us again any time."); err != nil {
		slog.Warn("Engine cancel notice failed", "chat_id", state.ChatID, "error", err)
	}
	e.detachStatusWrite(state, models.StatusCancelledByUser)
	return nil
}

// detachStatusWrite updates the record status without blocking the caller.
func (e *Engine) detachStatusWrite(state *models.SessionState, status string) {
	if state.RecordID == "" {
		return
	}
	def := state.Survey
	recordID := state.RecordID
	chatID := state.ChatID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), statusUpdateDeadline)
		defer cancel()
		if err := e.WriteStatus(ctx, def, recordID, status); err != nil {
			slog.Error("Engine status update failed", "chat_id", chatID, "record_id", recordID, "status", status, "error", err)
		}
	}()
}

func (e *Engine) sendError(ctx context.Context, chatID string, def *models.SurveyDefinition) {
	msg := def.Messages.Error
	if msg == "" {
		msg = "Something went wrong on our side. Please try again."
	}
	if err := e.sender.SendText(ctx, chatID, msg); err != nil {
		slog.Warn("Engine error notice failed", "chat_id", chatID, "error", err)
	}
}
