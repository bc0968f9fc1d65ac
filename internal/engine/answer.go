package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"surveyflow/internal/models"
)

// handleAnswer records the event as an answer to the current question, runs
// the side-effect phase, resolves conditional flow, and moves the session.
func (e *Engine) handleAnswer(ctx context.Context, state *models.SessionState, evt *models.Event) *models.SessionState {
	q := state.Current()
	if q == nil {
		return e.complete(ctx, state)
	}

	value, flowAnswer, ok := e.extractAnswer(ctx, state, q, evt)
	if !ok {
		return state
	}
	state.Answers[q.ID] = value

	// Reflection and persistence run concurrently. The reflection is sent
	// even when persistence fails; only persistence failure blocks advancing.
	var reflection string
	var g errgroup.Group
	if e.reflector != nil {
		g.Go(func() error {
			r, err := e.reflector.Reflect(ctx, state.Survey, q, flowAnswer)
			if err != nil {
				slog.Warn("Engine reflection failed", "chat_id", state.ChatID, "question_id", q.ID, "error", err)
				return nil
			}
			reflection = r
			return nil
		})
	}
	g.Go(func() error {
		return e.persistAnswer(ctx, state, q.ID, value)
	})
	persistErr := g.Wait()

	if reflection != "" {
		if err := e.sender.SendText(ctx, state.ChatID, reflection); err != nil {
			slog.Warn("Engine reflection send failed", "chat_id", state.ChatID, "error", err)
		}
		e.pause(ctx)
	}
	if persistErr != nil {
		slog.Error("Engine failed to persist answer",
			"chat_id", state.ChatID, "question_id", q.ID, "error", persistErr)
		e.sendError(ctx, state.ChatID, state.Survey)
		return state
	}

	e.applyFlow(ctx, state, q, flowAnswer)
	return e.continueAfterAdvance(ctx, state)
}

// extractAnswer converts the event into the stored answer value and the
// cleaned string used for flow resolution and reflection. ok is false when
// the event does not answer the current question and should be ignored, or
// when validation already replied to the user.
func (e *Engine) extractAnswer(ctx context.Context, state *models.SessionState, q *models.Question, evt *models.Event) (value any, flowAnswer string, ok bool) {
	switch q.Type {
	case models.QuestionTypePoll:
		if evt.Type != models.EventTypePoll {
			return nil, "", false
		}
		selections := CleanPollSelections(evt.PollSelections, q)
		if len(selections) == 0 {
			return nil, "", false
		}
		// The first selection controls flow even for multi-answer polls.
		return strings.Join(selections, ", "), selections[0], true

	case models.QuestionTypeFile:
		return e.extractFileAnswer(ctx, state, q, evt)

	default: // text and voice questions accept both typed and spoken answers
		switch evt.Type {
		case models.EventTypeText:
			text := CleanText(evt.Text)
			if text == "" {
				return nil, "", false
			}
			return text, text, true
		case models.EventTypeVoice:
			text, err := e.transcribeVoice(ctx, evt)
			if err != nil {
				slog.Error("Engine voice transcription failed", "chat_id", state.ChatID, "error", err)
				e.sendError(ctx, state.ChatID, state.Survey)
				return nil, "", false
			}
			if text == "" {
				return nil, "", false
			}
			return text, text, true
		default:
			return nil, "", false
		}
	}
}

func (e *Engine) transcribeVoice(ctx context.Context, evt *models.Event) (string, error) {
	if e.download == nil || e.transcribe == nil {
		return "", fmt.Errorf("voice messages are not supported by this deployment")
	}
	audio, err := e.download.DownloadFile(ctx, evt.VoiceURL)
	if err != nil {
		return "", fmt.Errorf("failed to download voice note: %w", err)
	}
	filename := "voice.ogg"
	if ext := extensionForMIME(evt.VoiceMIME); ext != "" {
		filename = "voice" + ext
	}
	text, err := e.transcribe.Transcribe(ctx, audio, filename)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe voice note: %w", err)
	}
	return CleanText(text), nil
}

// extractFileAnswer validates an uploaded file and converts it into an
// attachment-array answer. Validation failures reply to the user and leave
// the session on the question.
func (e *Engine) extractFileAnswer(ctx context.Context, state *models.SessionState, q *models.Question, evt *models.Event) (any, string, bool) {
	msgs := state.Survey.Messages.FileUpload
	reply := func(msg, fallback string) {
		if msg == "" {
			msg = fallback
		}
		if err := e.sender.SendText(ctx, state.ChatID, msg); err != nil {
			slog.Warn("Engine file reply failed", "chat_id", state.ChatID, "error", err)
		}
	}

	if evt.Type != models.EventTypeFile || evt.File == nil {
		reply(msgs.Missing, "Please send a file to answer this question.")
		return nil, "", false
	}
	f := evt.File
	if !mimeAllowed(f.MIME, q.AllowedTypes) {
		reply(msgs.InvalidType, fmt.Sprintf("That file type is not accepted here. Please send %s.", friendlyTypes(q.AllowedTypes)))
		return nil, "", false
	}
	if f.Size > q.EffectiveMaxFileSize() {
		reply(msgs.TooLarge, fmt.Sprintf("That file is too large. The limit is %d MB.", q.EffectiveMaxFileSize()/(1024*1024)))
		return nil, "", false
	}

	if msgs.Success != "" {
		if err := e.sender.SendText(ctx, state.ChatID, msgs.Success); err != nil {
			slog.Warn("Engine file reply failed", "chat_id", state.ChatID, "error", err)
		}
	}
	value := []models.Attachment{{URL: f.URL, Filename: f.Name, Type: f.MIME}}
	return value, f.Name, true
}

// persistAnswer writes the answer and moves the record into review.
func (e *Engine) persistAnswer(ctx context.Context, state *models.SessionState, questionID string, value any) error {
	if state.RecordID == "" {
		return nil
	}
	fields := models.Fields{
		questionID: value,
		"status":   models.StatusInReview,
	}
	return e.records.UpdateRecord(ctx, state.Survey.Storage.Table, state.RecordID, fields)
}

// applyFlow resolves the question's flow rule against the cleaned answer and
// moves the session index. Without a matching rule the session advances
// sequentially.
func (e *Engine) applyFlow(ctx context.Context, state *models.SessionState, q *models.Question, answer string) {
	if q.Flow == nil {
		state.Advance()
		return
	}
	then := q.Flow.Resolve(answer)
	if then == nil {
		state.Advance()
		return
	}
	if then.Say != "" {
		msg := e.substitutePlaceholders(ctx, state, then.Say)
		if err := e.sender.SendText(ctx, state.ChatID, msg); err != nil {
			slog.Warn("Engine flow message failed", "chat_id", state.ChatID, "error", err)
		}
		e.pause(ctx)
	}
	if then.Goto != "" {
		if !state.JumpTo(then.Goto) {
			slog.Warn("Engine flow goto target missing, advancing sequentially",
				"chat_id", state.ChatID, "goto", then.Goto)
			state.Advance()
		}
		return
	}
	state.Advance()
}

// continueAfterAdvance dispatches the question the session now points at, or
// completes the survey when the index has moved past the last question.
func (e *Engine) continueAfterAdvance(ctx context.Context, state *models.SessionState) *models.SessionState {
	if state.Done() {
		return e.complete(ctx, state)
	}
	return e.dispatchCurrent(ctx, state)
}

/// complete finishes the survey: optional summary, completion message, record
// status, and the operator notification. The returned nil removes the session.
func (e *Engine) complete(ctx context.Context, state *models.SessionState) *models.SessionState {
	slog.Info("Engine survey completed",
		"chat_id", state.ChatID, "survey", state.SurveyName, "record_id", state.RecordID)

	if e.summarizer != nil {
		summary, err := e.summarizer.Summarize(ctx, state.Survey, state.Answers)
		if err != nil {
			slog.Warn("Engine summary generation failed", "chat_id", state.ChatID, "error", err)
		} else if summary != "" {
			if err := e.sender.SendText(ctx, state.ChatID, summary); err != nil {
				slog.Warn("Engine summary send failed", "chat_id", state.ChatID, "error", err)
			}
			e.pause(ctx)
		}
	}

	completion := state.Survey.Messages.Completion.Text
	if completion == "" {
		completion = "That's everything, thank you for your time!"
	}
	completion = e.substitutePlaceholders(ctx, state, completion)
	if err := e.sender.SendText(ctx, state.ChatID, completion); err != nil {
		slog.Warn("Engine completion send failed", "chat_id", state.ChatID, "error", err)
	}

	e.detachStatusWrite(state, models.StatusCompleted)

	if e.notificationChat != "" {
		notice := fmt.Sprintf("Survey %q completed by %s (record %s)",
			state.SurveyName, state.ChatID, state.RecordID)
		if err := e.sender.SendText(ctx, e.notificationChat, notice); err != nil {
			slog.Warn("Engine completion notification failed", "chat_id", e.notificationChat, "error", err)
		}
	}
	return nil
}

// extensionForMIME maps common inbound audio MIME types to file extensions.
func extensionForMIME(mime string) string {
	mime, _, _ = strings.Cut(mime, ";")
	switch strings.TrimSpace(mime) {
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ""
	}
}
