package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/api"
	kaws "github.com/BTreeMap/Kantei/internal/aws"
	"github.com/BTreeMap/Kantei/internal/config"
	"github.com/BTreeMap/Kantei/internal/dedup"
	"github.com/BTreeMap/Kantei/internal/dialogue"
	"github.com/BTreeMap/Kantei/internal/enrich"
	"github.com/BTreeMap/Kantei/internal/genai"
	"github.com/BTreeMap/Kantei/internal/inbound"
	"github.com/BTreeMap/Kantei/internal/lockfile"
	"github.com/BTreeMap/Kantei/internal/messaging"
	"github.com/BTreeMap/Kantei/internal/recorder"
	"github.com/BTreeMap/Kantei/internal/store"
	"github.com/BTreeMap/Kantei/internal/sweeper"
	"github.com/BTreeMap/Kantei/internal/twiliowhatsapp"
	"github.com/BTreeMap/Kantei/internal/whatsapp"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, the chat transport and the idle-session sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", ":8080", "HTTP listen address (env API_ADDR)")
	flags.String("transport", config.TransportTwilio, "chat transport: twilio or whatsmeow (env TRANSPORT)")
	flags.String("dedup-backend", config.DedupMemory, "dedup backend: memory, sql or dynamodb (env DEDUP_BACKEND)")
	flags.String("qr-output", "", "path to write the whatsmeow login QR code (env WHATSAPP_QR_OUTPUT)")
	flags.Bool("numeric-code", false, "use a numeric whatsmeow login code instead of a QR code (env WHATSAPP_NUMERIC_CODE)")
	bindFlags(a.v, flags, map[string]string{
		"api.addr":              "addr",
		"transport":             "transport",
		"dedup.backend":         "dedup-backend",
		"whatsapp.qr_output":    "qr-output",
		"whatsapp.numeric_code": "numeric-code",
	})
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if err := cfg.ValidateTransport(); err != nil {
		return err
	}

	st, err := store.Open(storeOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	caps := genai.NewCapabilities(gen, cfg.LLM.Timeout, logger)

	rec, err := newRecorder(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	engine := newEngine(cfg, caps, newEnricher(cfg, logger), st, rec, logger)

	events, actions, release, err := newDedupWindows(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	defer release()
	guard := dedup.NewGuard(events, actions,
		dedup.WithEventWindow(cfg.Dedup.EventWindow),
		dedup.WithActionWindow(cfg.Dedup.ActionWindow),
		dedup.WithLogger(logger))

	sw := sweeper.New(engine, sweeper.WithInterval(cfg.Session.SweepInterval), sweeper.WithLogger(logger))
	apiOpts := []api.Option{api.WithAddr(cfg.API.Addr), api.WithLogger(logger)}

	switch cfg.Transport {
	case config.TransportWhatsmeow:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsApp.DBDSN), whatsapp.WithLogger(logger)}
		if cfg.WhatsApp.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.WhatsApp.QROutput))
		}
		if cfg.WhatsApp.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return fmt.Errorf("failed to start whatsmeow client: %w", err)
		}
		svc := messaging.NewWhatsAppService(client, logger)
		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer svc.Stop()

		dispatcher := inbound.NewDispatcher(guard, caps, engine, svc, logger)
		server := api.NewServer(dispatcher, nil, engine, st, apiOpts...)
		logger.Info("kantei: serving", zap.String("transport", cfg.Transport), zap.String("addr", cfg.API.Addr))
		return api.Run(ctx, server, sw.Run, func(ctx context.Context) error {
			return dispatcher.Consume(ctx, svc.Events())
		})

	default:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.Twilio.AccountSID),
			twiliowhatsapp.WithAuthToken(cfg.Twilio.AuthToken),
			twiliowhatsapp.WithFromWhats(cfg.Twilio.FromNumber),
			twiliowhatsapp.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client, logger)
		if cfg.API.PublicURL != "" {
			apiOpts = append(apiOpts, api.WithTwilioSignature(cfg.Twilio.AuthToken, webhookURL(cfg.API.PublicURL)))
		}

		dispatcher := inbound.NewDispatcher(guard, caps, engine, svc, logger)
		server := api.NewServer(dispatcher, svc, engine, st, apiOpts...)
		logger.Info("kantei: serving", zap.String("transport", cfg.Transport), zap.String("addr", cfg.API.Addr))
		return api.Run(ctx, server, sw.Run)
	}
}

func storeOptions(cfg config.Config, logger *zap.Logger) []store.Option {
	opts := []store.Option{store.WithLogger(logger)}
	if store.DetectDSNType(cfg.Database.DSN) == "postgres" {
		return append(opts, store.WithPostgresDSN(cfg.Database.DSN))
	}
	return append(opts, store.WithSQLiteDSN(cfg.Database.DSN))
}

func webhookURL(publicURL string) string {
	return strings.TrimSuffix(publicURL, "/") + "/webhook/twilio"
}

// newGenerator builds the configured generative backend.
func newGenerator(ctx context.Context, cfg config.Config, logger *zap.Logger) (genai.Generator, error) {
	common := []genai.Option{genai.WithLogger(logger)}
	if cfg.LLM.DebugDir != "" {
		common = append(common, genai.WithDebugDir(cfg.LLM.DebugDir))
	}

	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		client, err := genai.NewOpenAIClient(append(common,
			genai.WithAPIKey(cfg.OpenAI.APIKey),
			genai.WithBaseURL(cfg.OpenAI.BaseURL),
			genai.WithModel(cfg.OpenAI.Model))...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return client, nil
	default:
		client, err := genai.NewGeminiClient(ctx, append(common,
			genai.WithAPIKey(cfg.Gemini.APIKey),
			genai.WithModel(cfg.Gemini.PrimaryModel),
			genai.WithFallbackModel(cfg.Gemini.FallbackModel))...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return client, nil
	}
}

func newEnricher(cfg config.Config, logger *zap.Logger) enrich.Enricher {
	return enrich.NewGateway(
		enrich.WithTMDBToken(cfg.TMDB.Token),
		enrich.WithTimeout(cfg.Enrich.Timeout),
		enrich.WithLogger(logger))
}

func newEngine(cfg config.Config, caps *genai.Capabilities, enricher enrich.Enricher, sessions store.SessionRepo, rec dialogue.Recorder, logger *zap.Logger) *dialogue.Engine {
	return dialogue.NewEngine(sessions,
		dialogue.NewMediaFlow(caps, enricher, cfg.Dialogue.MaxRejections, logger),
		dialogue.NewSellFlow(caps, logger),
		dialogue.WithRecorder(rec),
		dialogue.WithIdleTimeout(cfg.Session.IdleTimeout),
		dialogue.WithLogger(logger))
}

// newRecorder always records to the store and additionally publishes to SQS when a queue is configured.
func newRecorder(ctx context.Context, cfg config.Config, st store.IdentificationRepo, logger *zap.Logger) (dialogue.Recorder, error) {
	sinks := recorder.MultiRecorder{recorder.Logged(recorder.NewStoreRecorder(st), "store", logger)}
	if cfg.Recorder.SQSQueueURL == "" {
		return sinks, nil
	}
	awsCfg, err := kaws.LoadConfig(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, err
	}
	sqsRec, err := recorder.NewSQSRecorder(kaws.NewSQSClient(awsCfg), cfg.Recorder.SQSQueueURL)
	if err != nil {
		return nil, err
	}
	return append(sinks, recorder.Logged(sqsRec, "sqs", logger)), nil
}

// newDedupWindows returns the event and action windows for the configured
// backend. The in-memory backend holds the state-directory lock until release.
func newDedupWindows(ctx context.Context, cfg config.Config, st store.Store, logger *zap.Logger) (dedup.Window, dedup.Window, func(), error) {
	switch cfg.Dedup.Backend {
	case config.DedupSQL:
		w, ok := st.(dedup.Window)
		if !ok {
			return nil, nil, nil, fmt.Errorf("dedup.backend %q needs a SQL database", cfg.Dedup.Backend)
		}
		return w, w, func() {}, nil
	case config.DedupDynamoDB:
		awsCfg, err := kaws.LoadConfig(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, nil, nil, err
		}
		w := dedup.NewDynamoWindow(kaws.NewDynamoDBClient(awsCfg), cfg.Dedup.DynamoDBTable)
		return w, w, func() {}, nil
	default:
		lock, err := lockfile.AcquireLock(cfg.StateDir, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		release := func() {
			if err := lock.Release(); err != nil {
				logger.Warn("kantei: failed to release state lock", zap.Error(err))
			}
		}
		return dedup.NewMemoryWindow(), dedup.NewMemoryWindow(), release, nil
	}
}
