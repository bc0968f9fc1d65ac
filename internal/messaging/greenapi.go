package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"surveyflow/internal/models"
)

// GreenAPI is a Transport over the Green API REST gateway. Requests go to
// {base}/waInstance{instance}/{method}/{token}.
type GreenAPI struct {
	baseURL    string
	instanceID string
	token      string
	httpClient *http.Client
}

// GreenAPIOption configures a GreenAPI transport.
type GreenAPIOption func(*GreenAPI)

// WithGreenAPIBaseURL overrides the gateway base URL.
func WithGreenAPIBaseURL(base string) GreenAPIOption {
	return func(g *GreenAPI) {
		if base != "" {
			g.baseURL = base
		}
	}
}

// WithGreenAPIHTTPClient overrides the HTTP client. Used by tests.
func WithGreenAPIHTTPClient(c *http.Client) GreenAPIOption {
	return func(g *GreenAPI) { g.httpClient = c }
}

// NewGreenAPI creates a Green API transport for one instance.
func NewGreenAPI(instanceID, token string, opts ...GreenAPIOption) *GreenAPI {
	g := &GreenAPI{
		baseURL:    "https://api.greenapi.com",
		instanceID: instanceID,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GreenAPI) endpoint(method string) string {
	return fmt.Sprintf("%s/waInstance%s/%s/%s", g.baseURL, g.instanceID, method, g.token)
}

func (g *GreenAPI) postJSON(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, detail)
	}
	return nil
}

// SendText sends a plain text message.
func (g *GreenAPI) SendText(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return ErrEmptyRecipient
	}
	if text == "" {
		return ErrEmptyMessage
	}
	return g.postJSON(ctx, "sendMessage", map[string]any{
		"chatId":  chatID,
		"message": text,
	})
}

// SendPoll sends a native poll.
func (g *GreenAPI) SendPoll(ctx context.Context, chatID string, poll Poll) error {
	if chatID == "" {
		return ErrEmptyRecipient
	}
	if len(poll.Options) == 0 {
		return ErrNoPollOptions
	}
	options := make([]map[string]string, 0, len(poll.Options))
	for _, opt := range poll.Options {
		options = append(options, map[string]string{"optionName": opt})
	}
	return g.postJSON(ctx, "sendPoll", map[string]any{
		"chatId":          chatID,
		"message":         poll.Question,
		"options":         options,
		"multipleAnswers": poll.MultipleAnswers,
	})
}

// SendFile uploads and sends a file.
func (g *GreenAPI) SendFile(ctx context.Context, chatID string, file OutFile) error {
	if chatID == "" {
		return ErrEmptyRecipient
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chatId", chatID); err != nil {
		return fmt.Errorf("failed to write chatId field: %w", err)
	}
	if file.Caption != "" {
		if err := w.WriteField("caption", file.Caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
	}
	if err := w.WriteField("fileName", file.Name); err != nil {
		return fmt.Errorf("failed to write fileName field: %w", err)
	}
	part, err := w.CreateFormFile("file", file.Name)
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return fmt.Errorf("failed to write file data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint("sendFileByUpload"), &buf)
	if err != nil {
		return fmt.Errorf("failed to build sendFileByUpload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendFileByUpload request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendFileByUpload returned status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// DownloadFile fetches an inbound attachment by its gateway URL.
func (g *GreenAPI) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read download body: %w", err)
	}
	return data, nil
}

// greenWebhook mirrors the inbound notification shape.
type greenWebhook struct {
	TypeWebhook string `json:"typeWebhook"`
	Timestamp   int64  `json:"timestamp"`
	SenderData  struct {
		ChatID     string `json:"chatId"`
		SenderName string `json:"senderName"`
	} `json:"senderData"`
	MessageData struct {
		TypeMessage     string `json:"typeMessage"`
		TextMessageData struct {
			TextMessage string `json:"textMessage"`
		} `json:"textMessageData"`
		ExtendedTextMessageData struct {
			Text string `json:"text"`
		} `json:"extendedTextMessageData"`
		FileMessageData struct {
			DownloadURL string `json:"downloadUrl"`
			FileName    string `json:"fileName"`
			MimeType    string `json:"mimeType"`
			FileSize    int64  `json:"fileSize"`
			Caption     string `json:"caption"`
		} `json:"fileMessageData"`
		PollMessageData struct {
			Votes []struct {
				OptionName   string   `json:"optionName"`
				OptionVoters []string `json:"optionVoters"`
			} `json:"votes"`
		} `json:"pollMessageData"`
	} `json:"messageData"`
}

// ParseWebhook normalizes a Green API notification into an Event. Webhook
// types other than incoming messages, and message kinds the engine does not
// handle, yield (nil, nil).
func (g *GreenAPI) ParseWebhook(r *http.Request) (*models.Event, error) {
	var wh greenWebhook
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	if wh.TypeWebhook != "incomingMessageReceived" {
		slog.Debug("GreenAPI ignoring webhook type", "type", wh.TypeWebhook)
		return nil, nil
	}
	if wh.SenderData.ChatID == "" {
		return nil, fmt.Errorf("webhook missing sender chat id")
	}

	evt := &models.Event{
		ChatID:     wh.SenderData.ChatID,
		SenderName: wh.SenderData.SenderName,
		Time:       time.Unix(wh.Timestamp, 0),
	}
	md := wh.MessageData
	switch md.TypeMessage {
	case "textMessage":
		evt.Type = models.EventTypeText
		evt.Text = md.TextMessageData.TextMessage
	case "extendedTextMessage":
		evt.Type = models.EventTypeText
		evt.Text = md.ExtendedTextMessageData.Text
	case "audioMessage":
		evt.Type = models.EventTypeVoice
		evt.VoiceURL = md.FileMessageData.DownloadURL
		evt.VoiceMIME = md.FileMessageData.MimeType
	case "pollUpdateMessage":
		evt.Type = models.EventTypePoll
		for _, vote := range md.PollMessageData.Votes {
			for _, voter := range vote.OptionVoters {
				if voter == wh.SenderData.ChatID {
					evt.PollSelections = append(evt.PollSelections, vote.OptionName)
					break
				}
			}
		}
	case "imageMessage", "documentMessage", "videoMessage", "fileMessage":
		evt.Type = models.EventTypeFile
		evt.File = &models.FilePayload{
			URL:  md.FileMessageData.DownloadURL,
			Name: md.FileMessageData.FileName,
			MIME: md.FileMessageData.MimeType,
			Size: md.FileMessageData.FileSize,
		}
		if md.FileMessageData.Caption != "" {
			evt.Text = md.FileMessageData.Caption
		}
	default:
		slog.Debug("GreenAPI ignoring message type", "type", md.TypeMessage, "chat_id", evt.ChatID)
		return nil, nil
	}
	return evt, nil
}
