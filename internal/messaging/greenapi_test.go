package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"surveyflow/internal/models"
)

func webhookRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
}

func TestParseWebhookTextMessage(t *testing.T) {
	g := NewGreenAPI("1101", "token")
	payload := `{
		"typeWebhook": "incomingMessageReceived",
		"timestamp": 1718000000,
		"senderData": {"chatId": "79001234567@c.us", "senderName": "Dana"},
		"messageData": {"typeMessage": "textMessage", "textMessageData": {"textMessage": "start survey"}}
	}`
	evt, err := g.ParseWebhook(webhookRequest(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if evt == nil || evt.Type != models.EventTypeText {
		t.Fatalf("expected text event, got %+v", evt)
	}
	if evt.ChatID != "79001234567@c.us" || evt.SenderName != "Dana" || evt.Text != "start survey" {
		t.Errorf("fields not mapped: %+v", evt)
	}
}

func TestParseWebhookExtendedText(t *testing.T) {
	g := NewGreenAPI("1101", "token")
	payload := `{
		"typeWebhook": "incomingMessageReceived",
		"senderData": {"chatId": "1@c.us"},
		"messageData": {"typeMessage": "extendedTextMessage", "extendedTextMessageData": {"text": "hello there"}}
	}`
	evt, err := g.ParseWebhook(webhookRequest(t, payload))
	if err != nil || evt == nil || evt.Text != "hello there" {
		t.Fatalf("extended text not parsed: evt=%+v err=%v", evt, err)
	}
}

func TestParseWebhookPollVotesFilteredToVoter(t *testing.T) {
	g := NewGreenAPI("1101", "token")
	payload := `{
		"typeWebhook": "incomingMessageReceived",
		"senderData": {"chatId": "me@c.us"},
		"messageData": {"typeMessage": "pollUpdateMessage", "pollMessageData": {"votes": [
			{"optionName": "Remote", "optionVoters": ["someone@c.us", "me@c.us"]},
			{"optionName": "Office", "optionVoters": ["someone@c.us"]},
			{"optionName": "Hybrid", "optionVoters": ["me@c.us"]}
		]}}
	}`
	evt, err := g.ParseWebhook(webhookRequest(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if evt.Type != models.EventTypePoll {
		t.Fatalf("expected poll event, got %q", evt.Type)
	}
	want := []string{"Remote", "Hybrid"}
	if len(evt.PollSelections) != len(want) {
		t.Fatalf("expected %v, got %v", want, evt.PollSelections)
	}
	for i, sel := range want {
		if evt.PollSelections[i] != sel {
			t.Errorf("selection %d: expected %q, got %q", i, sel, evt.PollSelections[i])
		}
	}
}

func TestParseWebhookVoiceAndFile(t *testing.T) {
	g := NewGreenAPI("1101", "token")
	voice := `{
		"typeWebhook": "incomingMessageReceived",
		"senderData": {"chatId": "1@c.us"},
		"messageData": {"typeMessage": "audioMessage", "fileMessageData": {"downloadUrl": "https://files/voice.ogg", "mimeType": "audio/ogg"}}
	}`
	evt, err := g.ParseWebhook(webhookRequest(t, voice))
	if err != nil || evt.Type != models.EventTypeVoice || evt.VoiceURL != "https://files/voice.ogg" {
		t.Fatalf("voice not parsed: evt=%+v err=%v", evt, err)
	}

	file := `{
		"typeWebhook": "incomingMessageReceived",
		"senderData": {"chatId": "1@c.us"},
		"messageData": {"typeMessage": "documentMessage", "fileMessageData": {
			"downloadUrl": "https://files/cv.pdf", "fileName": "cv.pdf", "mimeType": "application/pdf", "fileSize": 120000
		}}
	}`
	evt, err = g.ParseWebhook(webhookRequest(t, file))
	if err != nil || evt.Type != models.EventTypeFile {
		t.Fatalf("file not parsed: evt=%+v err=%v", evt, err)
	}
	if evt.File == nil || evt.File.Name != "cv.pdf" || evt.File.Size != 120000 {
		t.Errorf("file payload incomplete: %+v", evt.File)
	}
}

func TestParseWebhookIgnoresOtherTypes(t *testing.T) {
	g := NewGreenAPI("1101", "token")
	cases := []string{
		`{"typeWebhook": "outgoingMessageStatus"}`,
		`{"typeWebhook": "incomingMessageReceived", "senderData": {"chatId": "1@c.us"}, "messageData": {"typeMessage": "locationMessage"}}`,
	}
	for _, payload := range cases {
		evt, err := g.ParseWebhook(webhookRequest(t, payload))
		if err != nil {
			t.Errorf("unexpected error for %s: %v", payload, err)
		}
		if evt != nil {
			t.Errorf("expected nil event for %s, got %+v", payload, evt)
		}
	}
}

func TestGreenAPISendTextRequestShape(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGreenAPI("1101", "secret", WithGreenAPIBaseURL(srv.URL), WithGreenAPIHTTPClient(srv.Client()))
	if err := g.SendText(context.Background(), "1@c.us", "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotPath != "/waInstance1101/sendMessage/secret" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody["chatId"] != "1@c.us" || gotBody["message"] != "hi" {
		t.Errorf("unexpected body %v", gotBody)
	}
}

func TestGreenAPISendPollRequestShape(t *testing.T) {
	var gotBody struct {
		ChatID          string              `json:"chatId"`
		Message         string              `json:"message"`
		Options         []map[string]string `json:"options"`
		MultipleAnswers bool                `json:"multipleAnswers"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGreenAPI("1101", "secret", WithGreenAPIBaseURL(srv.URL), WithGreenAPIHTTPClient(srv.Client()))
	poll := Poll{Question: "Pick one", Options: []string{"A", "B"}, MultipleAnswers: true}
	if err := g.SendPoll(context.Background(), "1@c.us", poll); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(gotBody.Options) != 2 || gotBody.Options[0]["optionName"] != "A" {
		t.Errorf("options not wrapped as optionName objects: %v", gotBody.Options)
	}
	if !gotBody.MultipleAnswers {
		t.Error("multipleAnswers flag lost")
	}
}

func TestGreenAPISendFileMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("not multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.FormValue("chatId") != "1@c.us" || r.FormValue("fileName") != "invite.ics" {
			t.Errorf("form fields missing: %v", r.MultipartForm.Value)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part missing: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(f); err != nil || buf.String() != "BEGIN:VCALENDAR" {
			t.Errorf("file content wrong: %q err=%v", buf.String(), err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGreenAPI("1101", "secret", WithGreenAPIBaseURL(srv.URL), WithGreenAPIHTTPClient(srv.Client()))
	err := g.SendFile(context.Background(), "1@c.us", OutFile{
		Name: "invite.ics", MIME: "text/calendar", Data: []byte("BEGIN:VCALENDAR"),
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
}

func TestGreenAPISurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGreenAPI("1101", "secret", WithGreenAPIBaseURL(srv.URL), WithGreenAPIHTTPClient(srv.Client()))
	if err := g.SendText(context.Background(), "1@c.us", "hi"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
