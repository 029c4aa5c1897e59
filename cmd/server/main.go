package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/phone-agent/internal/agent"
	"github.com/chadiek/phone-agent/internal/config"
	"github.com/chadiek/phone-agent/internal/endpoint"
	"github.com/chadiek/phone-agent/internal/httpserver"
	"github.com/chadiek/phone-agent/internal/llm"
	"github.com/chadiek/phone-agent/internal/logging"
	"github.com/chadiek/phone-agent/internal/store"
	"github.com/chadiek/phone-agent/internal/stream"
	"github.com/chadiek/phone-agent/internal/telephony"
	"github.com/chadiek/phone-agent/internal/transcript"
	"github.com/chadiek/phone-agent/internal/tts"
)

func main() {
	cfg := config.Load()

	log := logging.New(cfg.Environment)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	var uploader store.Uploader
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		sb, err := store.NewSupabaseStorage(store.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Fatal("supabase storage", zap.Error(err))
		}
		uploader = sb
	} else {
		log.Warn("supabase not configured, transcripts stay local only")
	}

	calls, err := store.Open(cfg.DatabasePath, uploader, log)
	if err != nil {
		log.Fatal("open call store", zap.Error(err))
	}

	phone := telephony.New(telephony.Config{
		AccountSID:     cfg.TwilioAccountSID,
		AuthToken:      cfg.TwilioAuthToken,
		PhoneNumber:    cfg.TwilioPhoneNumber,
		TransferNumber: cfg.TransferNumber,
	})

	orch := agent.NewOrchestrator(
		agent.Config{
			STTSampleRate:  cfg.STTSampleRate,
			SpeakingMargin: cfg.SpeakingMargin,
			Greeting:       cfg.Greeting,
		},
		agent.NewRegistry(),
		endpoint.NewDetector(),
		transcript.NewWhisperClient(cfg.GroqAPIKey, cfg.GroqWhisperModel),
		llm.NewCerebrasClient(cfg.CerebrasAPIKey, cfg.CerebrasModelID),
		tts.NewDeepgramClient(cfg.DeepgramAPIKey, cfg.DeepgramTTSModel, cfg.TTSSampleRate),
		phone,
		calls,
		log,
	)

	srv := httpserver.New(orch, stream.NewHandler(orch, log), phone, calls, log)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("address", cfg.HTTPAddress))
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
}
