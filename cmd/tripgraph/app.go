package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/tripgraph/tripgraph/features/model/anthropic"
	"github.com/tripgraph/tripgraph/features/model/bedrock"
	"github.com/tripgraph/tripgraph/features/model/middleware"
	"github.com/tripgraph/tripgraph/features/model/openai"
	runlogmongo "github.com/tripgraph/tripgraph/features/runlog/mongo"
	runlogmongoclient "github.com/tripgraph/tripgraph/features/runlog/mongo/clients/mongo"
	sessionmongo "github.com/tripgraph/tripgraph/features/session/mongo"
	sessionmongoclient "github.com/tripgraph/tripgraph/features/session/mongo/clients/mongo"
	sessionredis "github.com/tripgraph/tripgraph/features/session/redis"
	"github.com/tripgraph/tripgraph/features/session/sqlite"
	streampulse "github.com/tripgraph/tripgraph/features/stream/pulse"
	clientspulse "github.com/tripgraph/tripgraph/features/stream/pulse/clients/pulse"
	"github.com/tripgraph/tripgraph/features/tools/cache"
	"github.com/tripgraph/tripgraph/features/tools/fixtures"
	"github.com/tripgraph/tripgraph/features/tools/knowledge"
	"github.com/tripgraph/tripgraph/features/tools/openmeteo"
	"github.com/tripgraph/tripgraph/runtime/hooks"
	"github.com/tripgraph/tripgraph/runtime/model"
	"github.com/tripgraph/tripgraph/runtime/orchestrator"
	"github.com/tripgraph/tripgraph/runtime/planner"
	"github.com/tripgraph/tripgraph/runtime/runlog"
	runloginmem "github.com/tripgraph/tripgraph/runtime/runlog/inmem"
	"github.com/tripgraph/tripgraph/runtime/session"
	sessioninmem "github.com/tripgraph/tripgraph/runtime/session/inmem"
	"github.com/tripgraph/tripgraph/runtime/stream"
	"github.com/tripgraph/tripgraph/runtime/telemetry"
	"github.com/tripgraph/tripgraph/runtime/tools"
)

var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o",
	"bedrock":   "anthropic.claude-3-5-sonnet-20240620-v1:0",
}

// app holds the wired components of one CLI invocation.
type app struct {
	cfg     *Config
	logger  telemetry.Logger
	store   session.Store
	runlog  runlog.Store
	bus     hooks.Bus
	pulse   clientspulse.Client
	pingers []health.Pinger
	closers []func(context.Context) error

	// orch is built on first use so that read-only commands do not need
	// model credentials.
	orch *orchestrator.Orchestrator

	rdb   *redis.Client
	mongo *mongodriver.Client
}

// newApp connects the stores and transports selected by cfg.
func newApp(ctx context.Context, cfg *Config) (*app, error) {
	a := &app{cfg: cfg, logger: telemetry.NewClueLogger(), bus: hooks.NewBus()}
	if err := a.connect(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	cfg := a.cfg
	if cfg.usesRedis() {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Store.Redis.Addr, Password: cfg.Store.Redis.Password})
		a.closers = append(a.closers, func(context.Context) error { return a.rdb.Close() })
		a.pingers = append(a.pingers, redisPinger{a.rdb})
	}
	if cfg.Store.Kind == "mongo" {
		c, err := mongodriver.Connect(options.Client().ApplyURI(cfg.Store.Mongo.URI))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		a.mongo = c
		a.closers = append(a.closers, c.Disconnect)
	}

	if err := a.openStores(); err != nil {
		return err
	}

	rec := runlog.NewRecorder(a.runlog)
	if _, err := a.bus.Register(hooks.SubscriberFunc(func(ctx context.Context, e hooks.Event) error {
		if err := rec.HandleEvent(ctx, e); err != nil {
			a.logger.Warn(ctx, "run log append failed", "thread_id", e.ThreadID, "err", err)
		}
		return nil
	})); err != nil {
		return err
	}

	if cfg.Stream.Pulse {
		pc, err := clientspulse.New(clientspulse.Options{Redis: a.rdb, StreamMaxLen: cfg.Stream.MaxLen})
		if err != nil {
			return err
		}
		a.pulse = pc
		a.closers = append(a.closers, pc.Close)
		sink, err := streampulse.NewSink(streampulse.Options{Client: pc})
		if err != nil {
			return err
		}
		sub, err := stream.NewSubscriber(sink)
		if err != nil {
			return err
		}
		if _, err := a.bus.Register(sub); err != nil {
			return err
		}
		a.closers = append(a.closers, sink.Close)
	}
	return nil
}

func (a *app) openStores() error {
	cfg := a.cfg
	switch cfg.Store.Kind {
	case "memory":
		a.store = sessioninmem.New()
	case "sqlite":
		s, err := sqlite.New(cfg.Store.SQLite.Path)
		if err != nil {
			return err
		}
		a.store = s
		a.pingers = append(a.pingers, s)
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	case "redis":
		s, err := sessionredis.New(a.rdb, sessionredis.Options{TTL: cfg.Store.Redis.TTL})
		if err != nil {
			return err
		}
		a.store = s
	case "mongo":
		sc, err := sessionmongoclient.New(sessionmongoclient.Options{Client: a.mongo, Database: cfg.Store.Mongo.Database})
		if err != nil {
			return err
		}
		s, err := sessionmongo.NewStore(sc)
		if err != nil {
			return err
		}
		a.store = s
		a.pingers = append(a.pingers, s)

		rc, err := runlogmongoclient.New(runlogmongoclient.Options{Client: a.mongo, Database: cfg.Store.Mongo.Database})
		if err != nil {
			return err
		}
		rl, err := runlogmongo.NewStore(rc)
		if err != nil {
			return err
		}
		a.runlog = rl
		a.pingers = append(a.pingers, rl)
	}
	if a.runlog == nil {
		a.runlog = runloginmem.New()
	}
	return nil
}

// orchestrator builds the model client, the tool registry and the
// orchestrator.
func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	if a.orch != nil {
		return a.orch, nil
	}
	client, err := a.modelClient(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	o, err := orchestrator.New(orchestrator.Options{
		Store:           a.store,
		Tools:           reg,
		Capabilities:    planner.NewLLM(client, planner.WithMaxTokens(a.cfg.Model.MaxTokens)),
		Bus:             a.bus,
		Logger:          a.logger,
		Metrics:         telemetry.NewOTELMetrics(),
		Tracer:          telemetry.NewOTELTracer(),
		MaxRepairs:      a.cfg.Orchestrator.MaxRepairs,
		MaxStepAttempts: a.cfg.Orchestrator.MaxStepAttempts,
	})
	if err != nil {
		return nil, err
	}
	a.orch = o
	return o, nil
}

func (a *app) modelClient(ctx context.Context) (model.Client, error) {
	cfg := a.cfg.Model
	name := cfg.Name
	if name == "" {
		name = defaultModels[cfg.Provider]
	}
	var (
		client model.Client
		err    error
	)
	switch cfg.Provider {
	case "anthropic":
		if a.cfg.Anthropic.APIKey == "" {
			return nil, errors.New("anthropic.api_key is not set (ANTHROPIC_API_KEY)")
		}
		client, err = anthropic.NewFromAPIKey(a.cfg.Anthropic.APIKey, anthropic.Options{DefaultModel: name, MaxTokens: cfg.MaxTokens})
	case "openai":
		if a.cfg.OpenAI.APIKey == "" {
			return nil, errors.New("openai.api_key is not set (OPENAI_API_KEY)")
		}
		client, err = openai.NewFromAPIKey(a.cfg.OpenAI.APIKey, openai.Options{DefaultModel: name, MaxTokens: cfg.MaxTokens, Strict: cfg.Strict})
	case "bedrock":
		var awsCfg aws.Config
		if awsCfg, err = a.awsConfig(ctx); err != nil {
			return nil, err
		}
		client, err = bedrock.NewFromConfig(awsCfg, bedrock.Options{DefaultModel: name, MaxTokens: cfg.MaxTokens})
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.TPM > 0 {
		limiter := middleware.NewAdaptiveRateLimiter(middleware.RateLimitOptions{
			InitialTPM: float64(cfg.TPM),
			OnAdjust: func(tpm float64) {
				a.logger.Debug(ctx, "model token budget adjusted", "tpm", tpm)
			},
		})
		client = model.Chain(client, limiter.Middleware())
	}
	return client, nil
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if a.cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(a.cfg.AWS.Region))
	}
	if a.cfg.AWS.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(a.cfg.AWS.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

func (a *app) registry() (*tools.Registry, error) {
	cfg := a.cfg.Tools
	var regOpts []tools.RegistryOption
	regOpts = append(regOpts, tools.WithDefaultTimeout(cfg.Timeout))
	if a.cfg.cacheEnabled() {
		regOpts = append(regOpts, tools.WithMiddleware(cache.Middleware(a.rdb, cache.Options{
			TTL:    cfg.CacheTTL,
			Logger: a.logger,
			// Retrieval is scoped per caller and must not leak across scopes.
			Skip: []tools.Ident{tools.KnowledgeRetrieval},
		})))
	}
	reg := tools.NewRegistry(regOpts...)

	if err := fixtures.Register(reg, fixtures.Default()); err != nil {
		return nil, err
	}
	httpc := &http.Client{Timeout: cfg.Timeout, Transport: log.Client(http.DefaultTransport)}
	if err := openmeteo.Register(reg, openmeteo.New(openmeteo.Options{HTTPClient: httpc, UserAgent: cfg.UserAgent})); err != nil {
		return nil, err
	}
	retriever, err := a.knowledge()
	if err != nil {
		return nil, err
	}
	if err := knowledge.Register(reg, knowledge.New(retriever, cfg.KnowledgeItems)); err != nil {
		return nil, err
	}
	return reg, nil
}

func (a *app) knowledge() (knowledge.Retriever, error) {
	path := a.cfg.Tools.KnowledgePath
	if path == "" {
		return knowledge.NewMemory(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge documents: %w", err)
	}
	return knowledge.LoadYAML(data)
}

// Close releases every connection in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// redisPinger reports the shared Redis connection to the health checker.
type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Name() string                   { return "redis" }
func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
