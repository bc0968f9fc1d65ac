package messaging

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep() DispatcherOption {
	return withSleep(func(ctx context.Context, d time.Duration) {})
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	mock := &MockTransport{TextErr: errors.New("gateway 502"), FailCount: 2}
	var slept []time.Duration
	d := NewDispatcher(mock,
		withSleep(func(ctx context.Context, dur time.Duration) { slept = append(slept, dur) }))

	if err := d.SendText(context.Background(), "123@c.us", "hello"); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if got := mock.SentTexts(); len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("message not delivered after retries: %+v", got)
	}
	// Linear backoff: delay×1 after attempt 1, delay×2 after attempt 2.
	if len(slept) != 2 || slept[0] != DefaultRetryDelay || slept[1] != 2*DefaultRetryDelay {
		t.Errorf("unexpected backoff schedule: %v", slept)
	}
}

func TestDispatcherExhaustsRetries(t *testing.T) {
	cause := errors.New("gateway down")
	mock := &MockTransport{TextErr: cause}
	quiet := noSleep()
	d := NewDispatcher(mock, quiet)

	err := d.SendText(context.Background(), "123@c.us", "hello")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *SendError, got %T: %v", err, err)
	}
	if sendErr.Attempts != DefaultMaxRetries {
		t.Errorf("expected %d attempts, got %d", DefaultMaxRetries, sendErr.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Error("SendError must unwrap to the last underlying failure")
	}
	if len(mock.SentTexts()) != 0 {
		t.Error("no message should be recorded on terminal failure")
	}
}

func TestDispatcherCustomBudget(t *testing.T) {
	mock := &MockTransport{PollErr: errors.New("boom")}
	quiet := noSleep()
	d := NewDispatcher(mock, quiet, WithMaxRetries(5))

	err := d.SendPoll(context.Background(), "123@c.us", Poll{Question: "Q", Options: []string{"A"}})
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Attempts != 5 {
		t.Fatalf("expected 5 attempts, got %v", err)
	}
}

func TestDispatcherStopsOnCancelledContext(t *testing.T) {
	mock := &MockTransport{TextErr: errors.New("slow")}
	quiet := noSleep()
	d := NewDispatcher(mock, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.SendText(ctx, "123@c.us", "hello")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation surfaced, got %v", sendErr.Last)
	}
}

func TestSendBatchPausesEveryFifth(t *testing.T) {
	mock := &MockTransport{}
	var pauses int
	d := NewDispatcher(mock, withSleep(func(ctx context.Context, dur time.Duration) {
		if dur == batchPause {
			pauses++
		}
	}))

	messages := make([]BatchMessage, 12)
	for i := range messages {
		messages[i] = BatchMessage{ChatID: "123@c.us", Text: "update"}
	}
	results := d.SendBatch(context.Background(), messages)
	for i, err := range results {
		if err != nil {
			t.Fatalf("message %d failed: %v", i, err)
		}
	}
	if len(mock.SentTexts()) != 12 {
		t.Errorf("expected 12 sends, got %d", len(mock.SentTexts()))
	}
	// Pauses after the 5th and 10th submissions only.
	if pauses != 2 {
		t.Errorf("expected 2 batch pauses, got %d", pauses)
	}
}

// chatFailTransport fails every send to one chat and accepts the rest.
type chatFailTransport struct {
	MockTransport
	failChat string
}

func (c *chatFailTransport) SendText(ctx context.Context, chatID, text string) error {
	if chatID == c.failChat {
		return errors.New("unreachable chat")
	}
	return c.MockTransport.SendText(ctx, chatID, text)
}

func TestSendBatchIsolatesFailures(t *testing.T) {
	mock := &chatFailTransport{failChat: "2@c.us"}
	quiet := noSleep()
	d := NewDispatcher(mock, quiet)

	results := d.SendBatch(context.Background(), []BatchMessage{
		{ChatID: "1@c.us", Text: "a"},
		{ChatID: "2@c.us", Text: "b"},
		{ChatID: "3@c.us", Text: "c"},
	})
	if results[0] != nil || results[2] != nil {
		t.Fatalf("healthy chats must succeed: %v", results)
	}
	var sendErr *SendError
	if !errors.As(results[1], &sendErr) {
		t.Fatalf("expected terminal failure for unreachable chat, got %v", results[1])
	}
	if len(mock.SentTexts()) != 2 {
		t.Errorf("expected 2 delivered messages, got %d", len(mock.SentTexts()))
	}
}
