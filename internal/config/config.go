// Package config loads SurveyFlow configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Transport identifiers selectable via SURVEYFLOW_TRANSPORT.
const (
	TransportGreenAPI = "greenapi"
	TransportTwilio   = "twilio"
)

// Config holds all runtime configuration. Values come from the environment
// (after main loads .env); command-line flags may override individual fields.
type Config struct {
	Transport string `env:"SURVEYFLOW_TRANSPORT" envDefault:"greenapi"`

	GreenAPIBaseURL    string `env:"GREEN_API_BASE_URL" envDefault:"https://api.greenapi.com"`
	GreenAPIInstanceID string `env:"GREEN_API_INSTANCE_ID"`
	GreenAPIToken      string `env:"GREEN_API_TOKEN"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_FROM_NUMBER"`

	OpenAIKey   string `env:"OPENAI_API_KEY"`
	OpenAIModel string `env:"OPENAI_MODEL"`

	AirtableAPIKey string `env:"AIRTABLE_API_KEY"`
	AirtableBaseID string `env:"AIRTABLE_BASE_ID"`
	DatabaseDSN    string `env:"DATABASE_URL"`

	SurveysDir string `env:"SURVEYS_DIR" envDefault:"./surveys"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	SurveyTimeoutMin  int    `env:"SURVEY_TIMEOUT_MINUTES" envDefault:"30"`
	ReminderAfterMin  int    `env:"SURVEY_REMINDER_MINUTES" envDefault:"2"`
	SweepIntervalSec  int    `env:"SESSION_SWEEP_SECONDS" envDefault:"300"`
	NotificationChat  string `env:"COMPLETION_NOTIFICATION_CHAT_ID"`
	MaxSendRetries    int    `env:"MAX_SEND_RETRIES" envDefault:"3"`
	SendRetryDelaySec int    `env:"SEND_RETRY_DELAY_SECONDS" envDefault:"2"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements the env tags cannot express.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportGreenAPI:
		if c.GreenAPIInstanceID == "" || c.GreenAPIToken == "" {
			return fmt.Errorf("GREEN_API_INSTANCE_ID and GREEN_API_TOKEN are required when SURVEYFLOW_TRANSPORT=greenapi")
		}
	case TransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required when SURVEYFLOW_TRANSPORT=twilio")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.SurveyTimeoutMin <= 0 {
		return fmt.Errorf("SURVEY_TIMEOUT_MINUTES must be positive, got %d", c.SurveyTimeoutMin)
	}
	if c.SweepIntervalSec <= 0 {
		return fmt.Errorf("SESSION_SWEEP_SECONDS must be positive, got %d", c.SweepIntervalSec)
	}
	return nil
}
