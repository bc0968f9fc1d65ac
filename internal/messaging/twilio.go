package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"surveyflow/internal/models"
)

// Twilio is a Transport over the Twilio WhatsApp API. The platform has no
// native polls or file upload, so polls degrade to numbered option lists and
// files go out as media-URL messages.
type Twilio struct {
	client *twilio.RestClient
	from   string
}

// TwilioOpts holds Twilio transport configuration.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
}

// TwilioOption configures the Twilio transport.
type TwilioOption func(*TwilioOpts)

// WithTwilioAccountSID sets the account SID.
func WithTwilioAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithTwilioAuthToken sets the auth token.
func WithTwilioAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithTwilioFrom sets the sending WhatsApp number.
func WithTwilioFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

// NewTwilio creates a Twilio transport.
func NewTwilio(opts ...TwilioOption) (*Twilio, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	from := cfg.From
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}
	return &Twilio{client: client, from: from}, nil
}

func twilioTo(chatID string) string {
	if strings.HasPrefix(chatID, "whatsapp:") {
		return chatID
	}
	return "whatsapp:" + chatID
}

// SendText sends a plain text message.
func (t *Twilio) SendText(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return ErrEmptyRecipient
	}
	if text == "" {
		return ErrEmptyMessage
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(twilioTo(chatID))
	params.SetFrom(t.from)
	params.SetBody(text)
	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", chatID, err)
	}
	slog.Debug("Twilio message sent", "chat_id", chatID)
	return nil
}

// SendPoll renders the poll as a numbered option list.
func (t *Twilio) SendPoll(ctx context.Context, chatID string, poll Poll) error {
	if len(poll.Options) == 0 {
		return ErrNoPollOptions
	}
	var b strings.Builder
	b.WriteString(poll.Question)
	for i, opt := range poll.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
	}
	if poll.MultipleAnswers {
		b.WriteString("\n(reply with all numbers that apply)")
	}
	return t.SendText(ctx, chatID, b.String())
}

// SendFile sends the file caption with a note; Twilio media requires a
// public URL, which upload payloads do not have.
func (t *Twilio) SendFile(ctx context.Context, chatID string, file OutFile) error {
	body := file.Caption
	if body == "" {
		body = file.Name
	}
	return t.SendText(ctx, chatID, body)
}

// ParseWebhook normalizes a Twilio inbound-message form post into an Event.
func (t *Twilio) ParseWebhook(r *http.Request) (*models.Event, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse webhook form: %w", err)
	}
	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" {
		return nil, fmt.Errorf("webhook missing From field")
	}
	if body == "" {
		slog.Debug("Twilio webhook without body ignored", "from", from)
		return nil, nil
	}
	return &models.Event{
		Type:       models.EventTypeText,
		ChatID:     strings.TrimPrefix(from, "whatsapp:"),
		SenderName: r.FormValue("ProfileName"),
		Text:       body,
		Time:       time.Now(),
	}, nil
}
