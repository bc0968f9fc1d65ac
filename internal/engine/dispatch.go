package engine

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"surveyflow/internal/messaging"
	"surveyflow/internal/models"
)

// dispatchCurrent sends the question the session currently points at.
// bot_file questions send their file and auto-advance, so this loops until a
// question that waits for input is reached or the survey completes.
func (e *Engine) dispatchCurrent(ctx context.Context, state *models.SessionState) *models.SessionState {
	for {
		if state.Done() {
			return e.complete(ctx, state)
		}
		q := state.Current()

		switch q.Type {
		case models.QuestionTypePoll:
			poll := messaging.Poll{
				Question:        e.substitutePlaceholders(ctx, state, q.Text),
				Options:         q.Options,
				MultipleAnswers: q.MultipleAnswers,
			}
			if err := e.sender.SendPoll(ctx, state.ChatID, poll); err != nil {
				slog.Error("Engine poll send failed", "chat_id", state.ChatID, "question_id", q.ID, "error", err)
				e.sendError(ctx, state.ChatID, state.Survey)
			}
			return state

		case models.QuestionTypeMeetingScheduler:
			if e.meetings == nil {
				slog.Warn("Engine meeting question without a scheduler, skipping",
					"chat_id", state.ChatID, "question_id", q.ID)
				state.Advance()
				continue
			}
			entered, err := e.meetings.Enter(ctx, state, q)
			if err != nil {
				slog.Error("Engine meeting entry failed", "chat_id", state.ChatID, "question_id", q.ID, "error", err)
				e.sendError(ctx, state.ChatID, state.Survey)
			} else if !entered {
				// No available days; the no-slots message was already sent.
				// The index stays on the question either way.
				slog.Info("Engine meeting question waiting without slots", "chat_id", state.ChatID, "question_id", q.ID)
			}
			return state

		case models.QuestionTypeBotFile:
			if err := e.sendBotFile(ctx, state, q); err != nil {
				slog.Error("Engine bot file send failed", "chat_id", state.ChatID, "question_id", q.ID, "error", err)
			}
			state.Advance()
			e.pause(ctx)
			continue

		case models.QuestionTypeFile:
			text := e.substitutePlaceholders(ctx, state, q.Text)
			text = fmt.Sprintf("%s\n(accepted: %s)", text, friendlyTypes(q.AllowedTypes))
			if err := e.sender.SendText(ctx, state.ChatID, text); err != nil {
				slog.Error("Engine question send failed", "chat_id", state.ChatID, "question_id", q.ID, "error", err)
			}
			return state

		default:
			text := e.substitutePlaceholders(ctx, state, q.Text)
			if err := e.sender.SendText(ctx, state.ChatID, text); err != nil {
				slog.Error("Engine question send failed", "chat_id", state.ChatID, "question_id", q.ID, "error", err)
			}
			return state
		}
	}
}

// sendBotFile delivers a survey-owned file (consent forms, brochures) from
// local disk, with the optional lead-in text first.
func (e *Engine) sendBotFile(ctx context.Context, state *models.SessionState, q *models.Question) error {
	if q.Text != "" {
		if err := e.sender.SendText(ctx, state.ChatID, e.substitutePlaceholders(ctx, state, q.Text)); err != nil {
			return err
		}
		e.pause(ctx)
	}
	data, err := e.fileReader(q.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", q.FilePath, err)
	}
	name := filepath.Base(q.FilePath)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return e.sender.SendFile(ctx, state.ChatID, messaging.OutFile{
		Name:    name,
		MIME:    mimeType,
		Caption: q.Caption,
		Data:    data,
	})
}

func readLocalFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
