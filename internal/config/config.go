// Package config reads environment configuration for the server.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultGreeting = "Hello! Thank you for calling. How can I help you today?"

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	Environment string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	TransferNumber    string

	GroqAPIKey       string
	GroqWhisperModel string

	CerebrasAPIKey  string
	CerebrasModelID string

	DeepgramAPIKey   string
	DeepgramTTSModel string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	DatabasePath string

	STTSampleRate  int
	TTSSampleRate  int
	SpeakingMargin time.Duration
	Greeting       string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	return Config{
		HTTPAddress: getenv("HTTP_ADDRESS", ":8080"),
		Environment: getenv("ENVIRONMENT", "development"),

		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		TransferNumber:    os.Getenv("TRANSFER_NUMBER"),

		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		GroqWhisperModel: getenv("GROQ_WHISPER_MODEL", "whisper-large-v3-turbo"),

		CerebrasAPIKey:  os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID: getenv("CEREBRAS_MODEL_ID", "gpt-oss-120b"),

		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramTTSModel: getenv("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_BUCKET", "transcripts"),

		DatabasePath: getenv("DATABASE_PATH", "calls.db"),

		STTSampleRate:  getenvInt("STT_SAMPLE_RATE", 16000),
		TTSSampleRate:  getenvInt("TTS_SAMPLE_RATE", 24000),
		SpeakingMargin: time.Duration(getenvInt("SPEAKING_MARGIN_MS", 1000)) * time.Millisecond,
		Greeting:       getenv("GREETING", defaultGreeting),
	}
}

// Validate reports every missing credential at once so a misconfigured
// deploy fails with a complete list rather than one variable at a time.
func (c Config) Validate() error {
	var errs []error
	require := func(value, name string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	require(c.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	require(c.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
	require(c.TwilioPhoneNumber, "TWILIO_PHONE_NUMBER")
	require(c.GroqAPIKey, "GROQ_API_KEY")
	require(c.CerebrasAPIKey, "CEREBRAS_API_KEY")
	require(c.DeepgramAPIKey, "DEEPGRAM_API_KEY")
	if c.STTSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("STT_SAMPLE_RATE must be positive"))
	}
	if c.TTSSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("TTS_SAMPLE_RATE must be positive"))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
