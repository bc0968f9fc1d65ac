// Package api exposes the HTTP surface of SurveyFlow: the messaging webhook
// that feeds the survey engine, plus status and health endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"surveyflow/internal/messaging"
	"surveyflow/internal/models"
	"surveyflow/internal/survey"
)

// EventHandler consumes normalized inbound events. Satisfied by the engine.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt *models.Event)
}

// SessionCounter reports active-session counts for the status endpoint.
type SessionCounter interface {
	Len() int
}

// Server is the SurveyFlow HTTP server.
type Server struct {
	addr     string
	parser   messaging.WebhookParser
	engine   EventHandler
	surveys  *survey.Registry
	sessions SessionCounter
	httpSrv  *http.Server
	started  time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSessionCounter exposes the session count on the status endpoint.
func WithSessionCounter(c SessionCounter) ServerOption {
	return func(s *Server) { s.sessions = c }
}

// NewServer creates an HTTP server wiring the webhook parser to the engine.
func NewServer(addr string, parser messaging.WebhookParser, engine EventHandler, surveys *survey.Registry, opts ...ServerOption) *Server {
	s := &Server{
		addr:    addr,
		parser:  parser,
		engine:  engine,
		surveys: surveys,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/", s.statusHandler)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	slog.Info("Server listening", "addr", s.addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// webhookHandler receives inbound messaging callbacks. The gateway retries on
// non-2xx replies, so parse failures are acknowledged with 200 and logged
// rather than bounced back.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, Error("method not allowed"))
		return
	}

	evt, err := s.parser.ParseWebhook(r)
	if err != nil {
		slog.Warn("Server webhook parse failed", "error", err)
		writeJSONResponse(w, http.StatusOK, Error("unparseable payload"))
		return
	}
	if evt == nil {
		writeJSONResponse(w, http.StatusOK, Ignored())
		return
	}

	slog.Debug("Server webhook event", "type", evt.Type, "chat_id", evt.ChatID)
	s.engine.HandleEvent(r.Context(), evt)
	writeJSONResponse(w, http.StatusOK, Success(nil))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, Error("method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(nil))
}

// statusHandler reports what the instance is serving.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONResponse(w, http.StatusNotFound, Error("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, Error("method not allowed"))
		return
	}

	names := make([]string, 0)
	for _, def := range s.surveys.All() {
		names = append(names, def.Name)
	}
	status := map[string]any{
		"service":        "surveyflow",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"surveys":        names,
	}
	if s.sessions != nil {
		status["active_sessions"] = s.sessions.Len()
	}
	writeJSONResponse(w, http.StatusOK, Success(status))
}
