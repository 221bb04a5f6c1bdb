package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itellico/joi-gateway/internal/agent"
	"github.com/itellico/joi-gateway/internal/bus"
	"github.com/itellico/joi-gateway/internal/config"
	"github.com/itellico/joi-gateway/internal/gateway"
	"github.com/itellico/joi-gateway/internal/ingress"
	"github.com/itellico/joi-gateway/internal/ingress/discord"
	"github.com/itellico/joi-gateway/internal/ingress/telegram"
	"github.com/itellico/joi-gateway/internal/knowledge"
	"github.com/itellico/joi-gateway/internal/memory"
	"github.com/itellico/joi-gateway/internal/providers"
	"github.com/itellico/joi-gateway/internal/review"
	"github.com/itellico/joi-gateway/internal/router"
	"github.com/itellico/joi-gateway/internal/scheduler"
	"github.com/itellico/joi-gateway/internal/store"
	"github.com/itellico/joi-gateway/internal/store/memstore"
	"github.com/itellico/joi-gateway/internal/store/pg"
	"github.com/itellico/joi-gateway/internal/store/sqlite"
	"github.com/itellico/joi-gateway/internal/tools"
	"github.com/itellico/joi-gateway/internal/tracing"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.HasAnyProvider() {
		slog.Warn("no provider API key configured; the gateway will start but every turn will fail to route")
	}

	msgBus := bus.New()
	providerRegistry := buildProviders(cfg)

	stores, db, err := buildStores(cfg)
	if err != nil {
		slog.Error("failed to construct stores", "error", err)
		os.Exit(1)
	}

	modelRouter := router.New(providerRegistry, stores.Routes, stores.Usage, cfg.Memory.EmbeddingDim)
	if err := modelRouter.SeedDefaultRoutes(context.Background()); err != nil {
		slog.Warn("failed to seed default model routes", "error", err)
	}

	memSvc := memory.NewService(stores.Memory)
	knowledgeSvc := knowledge.NewService(stores.Knowledge)
	reviewSvc := review.NewService(stores.Review, msgBus)

	toolsReg := buildTools(stores, memSvc, knowledgeSvc, reviewSvc)

	rt := agent.NewRuntime(stores.Agents, stores.Conversations, modelRouter, memSvc, toolsReg, msgBus)

	var sched *scheduler.Scheduler
	if stores.Cron != nil {
		sched = scheduler.New(stores.Cron, &runtimeDispatcher{rt: rt}, map[scheduler.Lane]int{
			scheduler.LaneCron:        2,
			scheduler.LaneInteractive: 4,
		})
		if err := sched.Recover(context.Background()); err != nil {
			slog.Warn("cron recovery failed", "error", err)
		}
	}

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		slog.Warn("tracing init failed", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	opts := []gateway.Option{
		gateway.WithReview(reviewSvc),
		gateway.WithMemory(memSvc),
		gateway.WithKnowledge(knowledgeSvc),
		gateway.WithTools(toolsReg),
	}
	if sched != nil {
		opts = append(opts, gateway.WithScheduler(sched))
	}
	if db != nil {
		opts = append(opts, gateway.WithDBPing(func(ctx context.Context) error { return db.PingContext(ctx) }))
	}

	server := gateway.NewServer(cfg, msgBus, rt, stores, modelRouter, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sched != nil {
		go sched.Run(ctx)
	}
	if every := cfg.Memory.ConsolidateEveryH; every > 0 {
		go memSvc.RunConsolidationLoop(ctx, time.Duration(every)*time.Hour)
	}

	startIngress(ctx, cfg, msgBus, rt)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		shutdownTracing(context.Background())
		cancel()
	}()

	slog.Info("joi-gateway starting",
		"version", Version,
		"standalone", cfg.IsStandalone(),
		"tools", toolsReg.Count(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func buildProviders(cfg *config.Config) map[string]providers.Provider {
	provs := make(map[string]providers.Provider)
	if cfg.Providers.Anthropic.APIKey != "" {
		provs["anthropic"] = providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		provs["openai"] = providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Models.DefaultModel)
	}
	if cfg.Providers.OpenRouter.APIKey != "" {
		provs["openrouter"] = providers.NewOpenAIProvider("openrouter", cfg.Providers.OpenRouter.APIKey, cfg.Providers.OpenRouter.APIBase, cfg.Models.DefaultModel)
	}
	if cfg.Providers.Ollama.APIBase != "" {
		provs["ollama"] = providers.NewOpenAIProvider("ollama", cfg.Providers.Ollama.APIKey, cfg.Providers.Ollama.APIBase, cfg.Models.DefaultModel)
	}
	return provs
}

func buildStores(cfg *config.Config) (*store.Stores, interface {
	PingContext(ctx context.Context) error
}, error) {
	if cfg.IsStandalone() {
		stores, err := sqlite.NewStandaloneStores(store.StoreConfig{SQLitePath: cfg.Database.SQLitePath})
		if err != nil {
			return nil, nil, err
		}
		stores.Agents = memstore.NewAgentStore(defaultAgentRecord(cfg))
		return stores, nil, nil
	}

	db, err := pg.OpenDB(cfg.Database.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	stores, err := pg.NewPGStores(store.StoreConfig{
		PostgresDSN: cfg.Database.PostgresDSN,
		EmbeddingDim: cfg.Memory.EmbeddingDim,
	}, nil)
	if err != nil {
		return nil, nil, err
	}
	if stores.Agents != nil {
		if _, err := stores.Agents.Get(context.Background(), "default"); err != nil {
			stores.Agents.Upsert(context.Background(), defaultAgentRecord(cfg))
		}
	}
	return stores, db, nil
}

func defaultAgentRecord(cfg *config.Config) *store.AgentRecord {
	return &store.AgentRecord{
		ID:           "default",
		Name:         "default",
		SystemPrompt: "You are a helpful assistant.",
		Model:        cfg.Models.DefaultModel,
		Skills:       []string{"web_search", "web_fetch", "memory_search", "memory_store", "spawn_agent"},
		Enabled:      true,
	}
}

func buildTools(stores *store.Stores, memSvc *memory.Service, knowledgeSvc *knowledge.Service, reviewSvc *review.Service) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.NewWebSearchTool(tools.WebSearchConfig{DDGEnabled: true}))
	reg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))
	reg.Register(tools.NewMemorySearchTool(memSvc))
	reg.Register(tools.NewMemoryStoreTool(memSvc))
	reg.Register(tools.NewKnowledgeQueryTool(knowledgeSvc))
	reg.Register(tools.NewKnowledgeCreateTool(knowledgeSvc))
	reg.Register(tools.NewReviewEnqueueTool(reviewSvc))
	if stores.Cron != nil {
		reg.Register(tools.NewCronCreateTool(stores.Cron))
	}
	reg.Register(agent.NewSpawnAgentTool())
	return reg
}

// runtimeDispatcher adapts the Agent Runtime to the scheduler's Dispatcher
// interface so the two packages don't import each other directly.
type runtimeDispatcher struct {
	rt *agent.Runtime
}

func (d *runtimeDispatcher) RunAgentTurn(ctx context.Context, req scheduler.AgentTurnRequest) error {
	_, err := d.rt.RunTurn(ctx, agent.TurnRequest{
		AgentID:       req.AgentID,
		UserMessage:   req.UserMessage,
		SessionTarget: req.SessionTarget,
		Model:         req.Model,
	})
	return err
}

func (d *runtimeDispatcher) HandleSystemEvent(ctx context.Context, name, payload string) error {
	slog.Info("scheduler system event", "name", name, "payload", payload)
	return nil
}

// startIngress constructs the enabled Discord/Telegram adapters and drives a
// turn per bus.InboundMessage consumed from msgBus. Polling/session lifecycle for each platform's
// client library is out of scope here — wiring a live *discordgo.Session or
// telego long-poller is left to deployment-specific main packages that import
// these adapters.
func startIngress(ctx context.Context, cfg *config.Config, msgBus *bus.MessageBus, rt *agent.Runtime) {
	if cfg.Discord.Enabled {
		_ = discord.New(cfg.Discord)
		slog.Info("discord ingress adapter configured (decode only; wire a discordgo.Session to drive it)")
	}
	if cfg.Telegram.Enabled {
		_ = telegram.New(cfg.Telegram)
		slog.Info("telegram ingress adapter configured (decode only; wire a telego poller to drive it)")
	}

	go func() {
		for {
			msg, ok := msgBus.ConsumeInbound(ctx)
			if !ok {
				return
			}
			go func(m bus.InboundMessage) {
				result, err := rt.RunTurn(ctx, agent.TurnRequest{
					AgentID:     defaultIfEmpty(m.AgentID, "default"),
					UserMessage: m.Content,
				})
				if err != nil {
					slog.Warn("ingress turn failed", "channel", m.Channel, "error", err)
					return
				}
				msgBus.PublishOutbound(bus.OutboundMessage{Channel: m.Channel, ChatID: m.ChatID, Content: result.Content})
			}(msg)
		}
	}()
}

func defaultIfEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var _ ingress.ChannelAdapter = (*discord.Adapter)(nil)
var _ ingress.ChannelAdapter = (*telegram.Adapter)(nil)
