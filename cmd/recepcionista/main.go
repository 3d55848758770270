// Command recepcionista runs the WhatsApp receptionist for a Kumon unit:
// webhook intake, the conversation engine, and outbox delivery, started
// in phases and stopped gracefully.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dmaraujo/recepcionista/calendar"
	"github.com/dmaraujo/recepcionista/config"
	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/emit"
	"github.com/dmaraujo/recepcionista/flow"
	"github.com/dmaraujo/recepcionista/gateway"
	"github.com/dmaraujo/recepcionista/intent"
	"github.com/dmaraujo/recepcionista/kv"
	"github.com/dmaraujo/recepcionista/llm"
	"github.com/dmaraujo/recepcionista/llm/model"
	"github.com/dmaraujo/recepcionista/metrics"
	"github.com/dmaraujo/recepcionista/outbox"
	"github.com/dmaraujo/recepcionista/preprocess"
	"github.com/dmaraujo/recepcionista/rag"
	"github.com/dmaraujo/recepcionista/registry"
	"github.com/dmaraujo/recepcionista/rules"
	"github.com/dmaraujo/recepcionista/template"
	"github.com/dmaraujo/recepcionista/validate"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file (default: ./.env if present)")
	jsonLogs := flag.Bool("json-logs", true, "emit JSON logs")
	flag.Parse()

	var handler slog.Handler
	if *jsonLogs {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(nil)

	convStore, closeConv, err := buildConvStore(cfg)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}
	obStore, closeOutbox, err := buildOutboxStore(cfg)
	if err != nil {
		return fmt.Errorf("outbox store: %w", err)
	}

	var cache kv.Cache = kv.NewMemCache()
	if cfg.RedisAddr != "" {
		cache = kv.NewRedisCache(cfg.RedisAddr)
	}

	rulesEngine := rules.NewEngine(cfg.Timezone, cfg.BusinessHours)
	pre := preprocess.New(cache, rulesEngine, m, cfg.GlobalRateCap).
		WithPeerLimit(cfg.RateLimitPerMin, cfg.RateLimitBurst)

	adapters, err := buildAdapters(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("llm adapters: %w", err)
	}
	budget := llm.NewBudget(cfg.DailyBudgetBRL, cfg.Timezone)
	llmGateway, err := llm.NewGateway(budget, adapters, llm.WithMetrics(m), llm.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("llm gateway: %w", err)
	}
	classifier := intent.NewCachedClassifier(intent.NewModelClassifier(llmGateway), cache)

	var retriever rag.Retriever = rag.NullRetriever{}
	if cfg.RAGEnabled {
		retriever = rag.NewHTTPRetriever(cfg.RAGURL, logger)
	}
	var cal calendar.Calendar = calendar.NullCalendar{}
	if cfg.CalendarEnabled {
		cal = calendar.NewHTTPCalendar(cfg.CalendarURL, cfg.GatewayAPIKey)
	}

	client := gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	coordCfg := outbox.DefaultCoordinatorConfig
	coordCfg.Workers = cfg.DeliveryWorkers
	coordCfg.Gap = cfg.MinMessageGap
	coordinator := outbox.NewCoordinator(obStore, client, cfg.GatewayInstances, coordCfg, m, logger)

	svc := &flow.Services{
		Templates: template.NewKVRegistry(cache, template.NewStaticRegistry()),
		Rules:     rulesEngine,
		LLM:       llmGateway,
		RAG:       retriever,
		Calendar:  cal,
		Logger:    logger,
	}
	thresholds := intent.Thresholds{High: cfg.ThresholdHigh, Medium: cfg.ThresholdMedium, Low: cfg.ThresholdLow}
	var emitter emit.Emitter = emit.NewLogEmitter(os.Stdout, true)
	if cfg.TracingEnabled {
		provider := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(provider)
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(flushCtx)
		}()
		emitter = emit.NewOTelEmitter(otel.Tracer("recepcionista"))
	}
	validator := validate.New(rulesEngine).WithMinConfidence(cfg.ValidatorMinConfidence)
	engine := flow.NewEngine(convStore, obStore, coordinator, classifier,
		validator, svc, thresholds, emitter, m)
	mailboxes := flow.NewMailboxes(engine, m, logger).
		WithLimits(cfg.MailboxDepth, cfg.TurnDeadline)

	reg := registry.New(logger, cfg.StartupDeadline)
	server := gateway.NewServer(gateway.ServerConfig{WebhookSecret: cfg.WebhookSecret},
		webhookHandler(pre, mailboxes, logger), reg.Ready, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)

	reg.Register(registry.Service{
		Name: "conversation-store", Phase: registry.PhaseCritical,
		Ready: pingOf(convStore),
		Stop:  func(context.Context) error { return closeConv() },
	})
	reg.Register(registry.Service{
		Name: "outbox-store", Phase: registry.PhaseCritical,
		Ready: pingOf(obStore),
		Stop:  func(context.Context) error { return closeOutbox() },
	})
	reg.Register(registry.Service{
		Name: "delivery-coordinator", Phase: registry.PhaseCritical,
		DependsOn: []string{"outbox-store"},
		Start: func(startCtx context.Context) error {
			coordinator.Start(ctx)
			return coordinator.Recover(startCtx)
		},
		Stop: func(context.Context) error { coordinator.Stop(); return nil },
	})
	reg.Register(registry.Service{
		Name: "mailboxes", Phase: registry.PhaseCritical,
		DependsOn: []string{"conversation-store", "delivery-coordinator"},
		Stop:      func(context.Context) error { mailboxes.Stop(); return nil },
	})
	reg.Register(registry.Service{
		Name: "llm-gateway", Phase: registry.PhaseHigh,
	})
	reg.Register(registry.Service{
		Name: "http", Phase: registry.PhaseHigh,
		DependsOn: []string{"llm-gateway"},
		Start: func(context.Context) error {
			go func() {
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					httpErr <- err
				}
			}()
			return nil
		},
		Stop: func(stopCtx context.Context) error { return httpServer.Shutdown(stopCtx) },
	})
	if cfg.RAGEnabled {
		reg.Register(registry.Service{Name: "rag", Phase: registry.PhaseMedium, Optional: true})
	}
	if cfg.CalendarEnabled {
		reg.Register(registry.Service{Name: "calendar", Phase: registry.PhaseMedium, Optional: true})
	}
	reg.Register(registry.Service{
		Name: "checkpoint-pruner", Phase: registry.PhaseDeferred, Optional: true,
		Start: func(context.Context) error {
			go pruneLoop(ctx, convStore, cfg.CheckpointRetention, logger)
			return nil
		},
	})

	if err := reg.Start(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	logger.Info("recepcionista up", "port", cfg.HTTPPort, "instances", cfg.GatewayInstances)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErr:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reg.Stop(shutdownCtx)
	return nil
}

// webhookHandler adapts gateway payloads into the intake pipeline. Gate
// drops are not errors: the webhook must still be acknowledged.
func webhookHandler(pre *preprocess.Preprocessor, mailboxes *flow.Mailboxes, logger *slog.Logger) gateway.HandleFunc {
	return func(ctx context.Context, payload gateway.WebhookPayload) error {
		turn, err := pre.Accept(ctx, preprocess.Inbound{
			Instance:  payload.Instance,
			RemoteJid: payload.Data.Key.RemoteJid,
			MessageID: payload.Data.Key.ID,
			PushName:  payload.Data.PushName,
			Text:      payload.Data.Message.Text(),
			TS:        time.Unix(payload.MessageTimestamp, 0),
		})
		var dropped *preprocess.DropError
		if errors.As(err, &dropped) {
			logger.Debug("turn dropped at intake",
				"reason", string(dropped.Reason), "message_id", payload.Data.Key.ID)
			return nil
		}
		if err != nil {
			return err
		}
		return mailboxes.Enqueue(turn)
	}
}

func buildConvStore(cfg *config.Config) (conv.Store, func() error, error) {
	switch cfg.DBDriver {
	case "memory":
		return conv.NewMemStore(), func() error { return nil }, nil
	case "sqlite":
		store, err := conv.NewSQLiteStore(cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "mysql":
		store, err := conv.NewMySQLStore(cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", cfg.DBDriver)
}

func buildOutboxStore(cfg *config.Config) (outbox.Store, func() error, error) {
	switch cfg.DBDriver {
	case "memory", "mysql":
		// The outbox keeps a local sqlite file even with a mysql
		// conversation store; delivery state is per-process.
		if cfg.DBDriver == "memory" {
			return outbox.NewMemStore(), func() error { return nil }, nil
		}
		fallthrough
	case "sqlite":
		store, err := outbox.NewSQLiteStore(outboxPath(cfg.DBDSN))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", cfg.DBDriver)
}

// outboxPath derives the outbox database file from the main DSN so the
// two sqlite files sit side by side.
func outboxPath(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return "outbox.db"
	}
	return dsn + ".outbox"
}

// buildAdapters instantiates the configured providers in failover order,
// skipping any without a key. The mock provider needs none.
func buildAdapters(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]model.ChatModel, error) {
	var adapters []model.ChatModel
	for _, provider := range cfg.Providers {
		switch provider {
		case "anthropic":
			if cfg.AnthropicKey == "" {
				logger.Warn("provider skipped, no key", "provider", provider)
				continue
			}
			adapters = append(adapters, model.NewAnthropicModel(cfg.AnthropicKey, "claude-3-5-haiku-latest"))
		case "openai":
			if cfg.OpenAIKey == "" {
				logger.Warn("provider skipped, no key", "provider", provider)
				continue
			}
			adapters = append(adapters, model.NewOpenAIModel(cfg.OpenAIKey, "gpt-4o-mini"))
		case "google":
			if cfg.GoogleKey == "" {
				logger.Warn("provider skipped, no key", "provider", provider)
				continue
			}
			google, err := model.NewGoogleModel(ctx, cfg.GoogleKey, "gemini-1.5-flash")
			if err != nil {
				return nil, fmt.Errorf("google adapter: %w", err)
			}
			adapters = append(adapters, google)
		case "mock":
			adapters = append(adapters, &model.MockModel{ModelName: "mock"})
		}
	}
	if len(adapters) == 0 {
		return nil, errors.New("no usable llm provider: set a provider key or add 'mock' to LLM_PROVIDERS")
	}
	return adapters, nil
}

// pingOf returns a readiness probe when the store exposes one.
func pingOf(store interface{}) func(context.Context) error {
	pinger, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.Ping
}

// pruneLoop deletes old checkpoints daily.
func pruneLoop(ctx context.Context, store conv.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.PruneCheckpoints(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("checkpoint pruning failed", "error", err)
				continue
			}
			logger.Info("checkpoints pruned", "removed", removed)
		}
	}
}
