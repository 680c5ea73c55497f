// Command worker is the Temporal worker process: it registers the seven
// durable workflows of pkg/workflow and the nineteen activities their
// steps call, then blocks serving work until terminated.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/fourthplaces/seesaw/internal/config"
	"github.com/fourthplaces/seesaw/internal/telemetry"
	crawlermachine "github.com/fourthplaces/seesaw/pkg/crawler/machine"
	"github.com/fourthplaces/seesaw/pkg/crawler/ingestor"
	"github.com/fourthplaces/seesaw/pkg/crawler/ssrf"
	"github.com/fourthplaces/seesaw/pkg/extraction/cache"
	"github.com/fourthplaces/seesaw/pkg/extraction/candidates"
	"github.com/fourthplaces/seesaw/pkg/extraction/merge"
	"github.com/fourthplaces/seesaw/pkg/extraction/notes"
	"github.com/fourthplaces/seesaw/pkg/extraction/refine"
	"github.com/fourthplaces/seesaw/pkg/extraction/summarize"
	"github.com/fourthplaces/seesaw/pkg/extraction/sync"
	"github.com/fourthplaces/seesaw/pkg/llm"
	"github.com/fourthplaces/seesaw/pkg/scrape"
	seesawbus "github.com/fourthplaces/seesaw/pkg/seesaw/bus"
	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
	seesawdispatch "github.com/fourthplaces/seesaw/pkg/seesaw/dispatch"
	seesawmachine "github.com/fourthplaces/seesaw/pkg/seesaw/machine"
	"github.com/fourthplaces/seesaw/pkg/websearch"
	"github.com/fourthplaces/seesaw/pkg/workflow"
)

func main() {
	var (
		taskQueueF = flag.String("task-queue", "seesaw-extraction", "Temporal task queue this worker serves")
		temporalF  = flag.String("temporal-host", "localhost:7233", "Temporal frontend address")
		nexusBaseF = flag.String("nexus-base-url", "", "Nexus endpoint base URL for the resource_link publish callback (empty disables it)")
		nexusSvcF  = flag.String("nexus-service", "resource-links", "Nexus service name the resource_link operation is registered under")
		debugF     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debugF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("load config: %w", err))
	}

	w, err := buildWorker(ctx, cfg, logger)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build worker dependencies: %w", err))
	}

	engine, err := workflow.New(workflow.Options{
		ClientOptions:    &client.Options{HostPort: *temporalF},
		DefaultTaskQueue: *taskQueueF,
		Logger:           logger,
	})
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("new workflow engine: %w", err))
	}
	defer engine.Close()

	if err := workflow.RegisterWorkflows(engine); err != nil {
		log.Fatal(ctx, fmt.Errorf("register workflows: %w", err))
	}
	if err := registerActivities(engine, w); err != nil {
		log.Fatal(ctx, fmt.Errorf("register activities: %w", err))
	}

	if *nexusBaseF != "" {
		publisher, err := newNexusPublisher(*nexusBaseF, *nexusSvcF)
		if err != nil {
			log.Fatal(ctx, fmt.Errorf("new nexus publisher: %w", err))
		}
		w.nexus = publisher
	}

	engine.Worker().Start()
	logger.Info(ctx, "worker started", "task_queue", *taskQueueF)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info(ctx, "worker shutting down")
	engine.Worker().Stop()
}

// buildWorker constructs every dependency activities.go's worker struct
// needs from cfg, wiring the same provider stack pkg/llm, pkg/websearch,
// pkg/scrape, pkg/crawler, and pkg/extraction/* already define adapters
// for.
func buildWorker(ctx context.Context, cfg *config.Config, logger telemetry.Logger) (*worker, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	anthropicClient := sdk.NewClient(option.WithAPIKey(cfg.LLMAPIKey.Expose()))
	base, err := llm.NewAnthropicService(&anthropicClient.Messages, llm.AnthropicOptions{
		DefaultModel: cfg.LLMDefaultModel,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic service: %w", err)
	}
	llmService := llm.NewAdaptiveLimiter(60000, 240000).Wrap(base)

	db, err := sql.Open("postgres", cfg.DatabaseURL.Expose())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pageStore := cache.NewPostgresPageStore(db)
	var summaryStore cache.SummaryStore = cache.NewPostgresSummaryStore(db)
	if !cfg.RedisURL.IsZero() {
		opts, err := redis.ParseURL(cfg.RedisURL.Expose())
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(opts)
		summaryStore = cache.NewRedisSummaryCache(redisClient, summaryStore, 0)
	}

	guard, err := ssrf.New(ssrf.Config{
		BlockedHosts: cfg.BlockedHosts,
		BlockedCIDRs: cfg.BlockedCIDRs,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("ssrf guard: %w", err)
	}

	webIngestor := ingestor.NewWebIngestor(httpClient, guard, 2, 4)
	simpleScraper := scrape.NewSimpleScraper(httpClient, guard)

	var searcher websearch.Searcher = websearch.NewTavilyClient(httpClient, "", cfg.TavilyAPIKey.Expose())

	embedder := merge.NewVoyageEmbedder(httpClient, "", cfg.EmbeddingAPIKey.Expose(), "")

	eventBus := seesawbus.New()
	dispatcher := seesawdispatch.New(busEmitter{eventBus}, nil)
	if err := dispatcher.Register(crawlermachine.CommandDiscoverResource, crawlermachine.DiscoverEffect{Ingestor: webIngestor}); err != nil {
		return nil, fmt.Errorf("register discover effect: %w", err)
	}
	if err := dispatcher.Register(crawlermachine.CommandExtractPage, crawlermachine.ExtractPageEffect{}); err != nil {
		return nil, fmt.Errorf("register extract page effect: %w", err)
	}
	coordinator := crawlermachine.NewCoordinator(
		seesawmachine.NewInmemStore(),
		seesawmachine.NewInmemLocker(),
		seesawdispatch.SingleCommand{Dispatcher: dispatcher},
	)
	crawlermachine.Subscribe(ctx, eventBus, coordinator, cfg.BusTopicCapacity, func(err error) {
		logger.Info(ctx, "crawler machine: route error", "err", err.Error())
	})

	return &worker{
		logger:       logger,
		ingestor:     webIngestor,
		pages:        pageStore,
		summaries:    summarize.New(summaryStore, llmService),
		extractor:    candidates.New(llmService),
		merger:       merge.New(embedder, llmService, 0),
		sync:         sync.New(llmService, cfg.MaxProposalRevisions, time.Duration(cfg.RetirementAgeDays)*24*time.Hour),
		refiner:      refine.New(llmService, cfg.MaxProposalRevisions),
		notes:        notes.New(llmService, logger),
		llmService:   llmService,
		searcher:     searcher,
		scraper:      simpleScraper,
		maxToolCalls: cfg.MaxToolCallsPerCandidate,
		handoff:      newHandoffStore(),
		otp:          newOTPStore(),
		orgs:         newOrgStore(),
		bus:          eventBus,
	}, nil
}

// busEmitter adapts seesawbus.Bus to seesawdispatch.Emitter's narrow
// Emit-only surface, the same shape effects_test.go's fake uses.
type busEmitter struct {
	bus seesawbus.Bus
}

func (b busEmitter) Emit(e core.Event) { b.bus.Emit(e) }
