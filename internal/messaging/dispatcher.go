package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher defaults.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
	// batchPauseEvery and batchPause throttle bulk sends so the upstream
	// gateway does not rate-limit the instance.
	batchPauseEvery = 5
	batchPause      = 1 * time.Second
)

// Dispatcher wraps a Transport with bounded retries. Failed sends are retried
// with linear backoff (delay × attempt number); once the attempt budget is
// spent the caller gets a *SendError and the dispatcher moves on.
type Dispatcher struct {
	transport  Transport
	maxRetries int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxRetries overrides the attempt budget.
func WithMaxRetries(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxRetries = n
		}
	}
}

// WithRetryDelay overrides the base backoff delay.
func WithRetryDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.retryDelay = delay
		}
	}
}

// withSleep replaces the backoff sleeper. Used by tests.
func withSleep(fn func(ctx context.Context, d time.Duration)) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = fn }
}

// NewDispatcher creates a Dispatcher over the given transport.
func NewDispatcher(transport Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transport:  transport,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		sleep: func(ctx context.Context, dur time.Duration) {
			select {
			case <-time.After(dur):
			case <-ctx.Done():
			}
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) withRetry(ctx context.Context, chatID, kind string, send func() error) error {
	var last error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			last = err
			break
		}
		last = send()
		if last == nil {
			if attempt > 1 {
				slog.Debug("Dispatcher send succeeded after retry", "chat_id", chatID, "kind", kind, "attempt", attempt)
			}
			return nil
		}
		slog.Warn("Dispatcher send attempt failed", "chat_id", chatID, "kind", kind, "attempt", attempt, "error", last)
		if attempt < d.maxRetries {
			d.sleep(ctx, d.retryDelay*time.Duration(attempt))
		}
	}
	err := &SendError{Attempts: d.maxRetries, Last: last}
	slog.Error("Dispatcher send exhausted retries", "chat_id", chatID, "kind", kind, "error", err)
	return err
}

// SendText sends a text message with retries.
func (d *Dispatcher) SendText(ctx context.Context, chatID, text string) error {
	return d.withRetry(ctx, chatID, "text", func() error {
		return d.transport.SendText(ctx, chatID, text)
	})
}

// SendPoll sends a poll with retries.
func (d *Dispatcher) SendPoll(ctx context.Context, chatID string, poll Poll) error {
	return d.withRetry(ctx, chatID, "poll", func() error {
		return d.transport.SendPoll(ctx, chatID, poll)
	})
}

// SendFile sends a file with retries.
func (d *Dispatcher) SendFile(ctx context.Context, chatID string, file OutFile) error {
	return d.withRetry(ctx, chatID, "file", func() error {
		return d.transport.SendFile(ctx, chatID, file)
	})
}

// BatchMessage is one text message in a bulk send.
type BatchMessage struct {
	ChatID string
	Text   string
}

// SendBatch dispatches messages concurrently, pausing one second after every
// fifth submission. Each message carries its own retry budget; one chat's
// failure never blocks the rest. The returned slice maps 1:1 to the input,
// nil for successes.
func (d *Dispatcher) SendBatch(ctx context.Context, messages []BatchMessage) []error {
	results := make([]error, len(messages))
	var wg sync.WaitGroup
	for i, msg := range messages {
		wg.Add(1)
		go func(i int, msg BatchMessage) {
			defer wg.Done()
			results[i] = d.SendText(ctx, msg.ChatID, msg.Text)
		}(i, msg)
		if (i+1)%batchPauseEvery == 0 && i+1 < len(messages) {
			d.sleep(ctx, batchPause)
		}
	}
	wg.Wait()
	return results
}
