// Package messaging defines the outbound transport abstraction and the retry
// dispatcher that every component sends through. Concrete transports exist
// for the Green API REST gateway and Twilio.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"surveyflow/internal/models"
)

// Errors returned by transports.
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyMessage   = errors.New("message body cannot be empty")
	ErrNoPollOptions  = errors.New("poll must have at least one option")
)

// Poll is an outbound poll message.
type Poll struct {
	Question        string
	Options         []string
	MultipleAnswers bool
}

// OutFile is an outbound file message.
type OutFile struct {
	Name    string
	MIME    string
	Caption string
	Data    []byte
}

// Transport sends messages to one chat on a messaging platform.
type Transport interface {
	SendText(ctx context.Context, chatID, text string) error
	SendPoll(ctx context.Context, chatID string, poll Poll) error
	SendFile(ctx context.Context, chatID string, file OutFile) error
}

// WebhookParser turns an inbound webhook request into a normalized event.
// Transports that receive events by webhook implement this alongside
// Transport. A nil event with a nil error means the payload was valid but
// carries nothing actionable (status callbacks, unsupported message kinds).
type WebhookParser interface {
	ParseWebhook(r *http.Request) (*models.Event, error)
}

// SendError is the terminal failure of a dispatched send: every retry
// attempt failed. Last is the error from the final attempt.
type SendError struct {
	Attempts int
	Last     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *SendError) Unwrap() error { return e.Last }

// MockTransport records sent messages for tests.
type MockTransport struct {
	mu    sync.Mutex
	Texts []MockText
	Polls []MockPoll
	Files []MockFile

	// TextErr etc. are returned by the next matching send when set. FailCount
	// limits how many times the error fires before sends start succeeding.
	TextErr   error
	PollErr   error
	FileErr   error
	FailCount int
	failed    int
}

type MockText struct {
	ChatID string
	Text   string
}

type MockPoll struct {
	ChatID string
	Poll   Poll
}

type MockFile struct {
	ChatID string
	File   OutFile
}

func (m *MockTransport) takeErr(err error) error {
	if err == nil {
		return nil
	}
	if m.FailCount > 0 && m.failed >= m.FailCount {
		return nil
	}
	m.failed++
	return err
}

func (m *MockTransport) SendText(ctx context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(m.TextErr); err != nil {
		return err
	}
	m.Texts = append(m.Texts, MockText{ChatID: chatID, Text: text})
	return nil
}

func (m *MockTransport) SendPoll(ctx context.Context, chatID string, poll Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(m.PollErr); err != nil {
		return err
	}
	m.Polls = append(m.Polls, MockPoll{ChatID: chatID, Poll: poll})
	return nil
}

func (m *MockTransport) SendFile(ctx context.Context, chatID string, file OutFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(m.FileErr); err != nil {
		return err
	}
	m.Files = append(m.Files, MockFile{ChatID: chatID, File: file})
	return nil
}

// SentTexts returns a copy of recorded text messages.
func (m *MockTransport) SentTexts() []MockText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockText, len(m.Texts))
	copy(out, m.Texts)
	return out
}

// SentPolls returns a copy of recorded polls.
func (m *MockTransport) SentPolls() []MockPoll {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockPoll, len(m.Polls))
	copy(out, m.Polls)
	return out
}

// SentFiles returns a copy of recorded file messages.
func (m *MockTransport) SentFiles() []MockFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockFile, len(m.Files))
	copy(out, m.Files)
	return out
}
