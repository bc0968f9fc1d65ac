package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"surveyflow/internal/api"
	"surveyflow/internal/calendar"
	"surveyflow/internal/config"
	"surveyflow/internal/engine"
	"surveyflow/internal/genai"
	"surveyflow/internal/meeting"
	"surveyflow/internal/messaging"
	"surveyflow/internal/models"
	"surveyflow/internal/recordstore"
	"surveyflow/internal/scheduler"
	"surveyflow/internal/session"
	"surveyflow/internal/survey"
)

const shutdownTimeout = 10 * time.Second

func main() {
	initializeLogger()
	loadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Configuration invalid", "error", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg)

	if err := run(cfg); err != nil {
		slog.Error("SurveyFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SurveyFlow exited successfully")
}

// initializeLogger sets up structured logging with debug level.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
}

// applyFlagOverrides lets command-line flags override individual environment
// settings.
func applyFlagOverrides(cfg *config.Config) {
	surveysDir := flag.String("surveys-dir", cfg.SurveysDir, "directory of survey documents (overrides $SURVEYS_DIR)")
	listenAddr := flag.String("listen-addr", cfg.ListenAddr, "HTTP listen address (overrides $LISTEN_ADDR)")
	dbDSN := flag.String("db-dsn", cfg.DatabaseDSN, "database DSN for the record store (overrides $DATABASE_URL)")
	openaiKey := flag.String("openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	flag.Parse()

	cfg.SurveysDir = *surveysDir
	cfg.ListenAddr = *listenAddr
	cfg.DatabaseDSN = *dbDSN
	cfg.OpenAIKey = *openaiKey

	slog.Debug("flags parsed",
		"surveys_dir", cfg.SurveysDir,
		"listen_addr", cfg.ListenAddr,
		"db_dsn_set", cfg.DatabaseDSN != "",
		"openai_key_set", cfg.OpenAIKey != "")
}

func run(cfg *config.Config) error {
	registry, err := survey.LoadDir(cfg.SurveysDir)
	if err != nil {
		return err
	}

	transport, parser, downloader, err := buildTransport(cfg)
	if err != nil {
		return err
	}
	dispatcher := messaging.NewDispatcher(transport, buildDispatcherOptions(cfg)...)

	records, err := buildRecordStore(cfg)
	if err != nil {
		return err
	}

	sessions := session.NewStore()
	engineOpts, err := buildEngineOptions(cfg, registry, dispatcher, records, downloader)
	if err != nil {
		return err
	}
	eng := engine.NewEngine(registry, sessions, dispatcher, records, engineOpts...)

	reaper := session.NewReaper(sessions, dispatcher, eng,
		session.WithTimeout(time.Duration(cfg.SurveyTimeoutMin)*time.Minute),
		session.WithReminderAfter(time.Duration(cfg.ReminderAfterMin)*time.Minute))
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sweepInterval := time.Duration(cfg.SweepIntervalSec) * time.Second
	if err := sched.Every(sweepInterval, func() {
		reaper.Sweep(context.Background())
	}); err != nil {
		return err
	}
	slog.Info("Session reaper scheduled",
		"sweep_interval", sweepInterval,
		"timeout_minutes", cfg.SurveyTimeoutMin,
		"reminder_minutes", cfg.ReminderAfterMin)

	srv := api.NewServer(cfg.ListenAddr, parser, eng, registry, api.WithSessionCounter(sessions))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// buildTransport constructs the configured messaging transport, its webhook
// parser, and the attachment downloader when the transport supports one.
func buildTransport(cfg *config.Config) (messaging.Transport, messaging.WebhookParser, engine.Downloader, error) {
	switch cfg.Transport {
	case config.TransportGreenAPI:
		green := messaging.NewGreenAPI(cfg.GreenAPIInstanceID, cfg.GreenAPIToken,
			messaging.WithGreenAPIBaseURL(cfg.GreenAPIBaseURL))
		slog.Info("Messaging transport configured", "transport", "greenapi")
		return green, green, green, nil
	case config.TransportTwilio:
		tw, err := messaging.NewTwilio(
			messaging.WithTwilioAccountSID(cfg.TwilioAccountSID),
			messaging.WithTwilioAuthToken(cfg.TwilioAuthToken),
			messaging.WithTwilioFrom(cfg.TwilioFromNumber))
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("Messaging transport configured", "transport", "twilio")
		return tw, tw, nil, nil
	default:
		// Unreachable after config validation.
		return nil, nil, nil, os.ErrInvalid
	}
}

func buildDispatcherOptions(cfg *config.Config) []messaging.DispatcherOption {
	var opts []messaging.DispatcherOption
	if cfg.MaxSendRetries > 0 {
		opts = append(opts, messaging.WithMaxRetries(cfg.MaxSendRetries))
	}
	if cfg.SendRetryDelaySec > 0 {
		opts = append(opts, messaging.WithRetryDelay(time.Duration(cfg.SendRetryDelaySec)*time.Second))
	}
	return opts
}

// buildRecordStore picks a backend: Airtable when credentials are present,
// otherwise SQLite or PostgreSQL by DSN shape, otherwise in-memory. Every
// backend is wrapped with the record cache.
func buildRecordStore(cfg *config.Config) (recordstore.Store, error) {
	var backend recordstore.Store
	var err error
	switch {
	case cfg.AirtableAPIKey != "" && cfg.AirtableBaseID != "":
		slog.Info("Record store configured", "backend", "airtable", "base_id", cfg.AirtableBaseID)
		backend, err = recordstore.NewAirtableStore(cfg.AirtableAPIKey, cfg.AirtableBaseID)
	case cfg.DatabaseDSN != "" && recordstore.DetectDSNType(cfg.DatabaseDSN) == "postgres":
		slog.Info("Record store configured", "backend", "postgres")
		backend, err = recordstore.NewPostgresStore(recordstore.WithPostgresDSN(cfg.DatabaseDSN))
	case cfg.DatabaseDSN != "":
		slog.Info("Record store configured", "backend", "sqlite", "db_path", cfg.DatabaseDSN)
		backend, err = recordstore.NewSQLiteStore(recordstore.WithSQLiteDSN(cfg.DatabaseDSN))
	default:
		slog.Warn("No record store configured, answers are kept in memory only")
		backend = recordstore.NewInMemoryStore()
	}
	if err != nil {
		return nil, err
	}
	return recordstore.NewCached(backend, recordstore.DefaultRecordTTL), nil
}

// buildEngineOptions wires the optional engine collaborators: AI reflections
// and summaries, voice transcription, the completion notification, and the
// meeting scheduler.
func buildEngineOptions(cfg *config.Config, registry *survey.Registry, dispatcher *messaging.Dispatcher, records recordstore.Store, downloader engine.Downloader) ([]engine.Option, error) {
	var opts []engine.Option

	if cfg.NotificationChat != "" {
		opts = append(opts, engine.WithNotificationChat(cfg.NotificationChat))
	}

	if cfg.OpenAIKey != "" {
		genaiOpts := []genai.Option{genai.WithAPIKey(cfg.OpenAIKey)}
		if cfg.OpenAIModel != "" {
			genaiOpts = append(genaiOpts, genai.WithModel(cfg.OpenAIModel))
		}
		client, err := genai.NewClient(genaiOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			engine.WithReflector(genai.NewReflector(client)),
			engine.WithSummarizer(genai.NewSummarizer(client)),
			engine.WithTranscriber(client))
		slog.Info("GenAI configured", "model", cfg.OpenAIModel)
	} else {
		slog.Warn("OPENAI_API_KEY not set, reflections, summaries and voice answers are disabled")
	}

	if downloader != nil {
		opts = append(opts, engine.WithDownloader(downloader))
	}

	if cal := buildCalendar(registry); cal != nil {
		opts = append(opts, engine.WithMeetingHandler(meeting.NewHandler(cal, dispatcher, records)))
	}

	return opts, nil
}

// buildCalendar creates the working-hours calendar from the first loaded
// survey that uses a meeting question. Surveys without calendars skip the
// scheduler entirely.
func buildCalendar(registry *survey.Registry) calendar.Calendar {
	for _, def := range registry.All() {
		for i := range def.Questions {
			if def.Questions[i].Type != models.QuestionTypeMeetingScheduler {
				continue
			}
			cal, err := calendar.NewWorkingHours(def.Calendar)
			if err != nil {
				slog.Error("Calendar settings invalid, meeting questions will be skipped",
					"survey", def.Name, "error", err)
				return nil
			}
			slog.Info("Calendar configured", "survey", def.Name, "timezone", def.Calendar.Timezone)
			return cal
		}
	}
	return nil
}
