package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/agentorchy/analytics"
	"github.com/mohitkumar/agentorchy/broadcast"
	"github.com/mohitkumar/agentorchy/channel"
	"github.com/mohitkumar/agentorchy/config"
	"github.com/mohitkumar/agentorchy/engine"
	"github.com/mohitkumar/agentorchy/executor"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/metadata"
	"github.com/mohitkumar/agentorchy/orchestrator"
	"github.com/mohitkumar/agentorchy/persistence"
	"github.com/mohitkumar/agentorchy/persistence/memory"
	"github.com/mohitkumar/agentorchy/persistence/mongo"
	"github.com/mohitkumar/agentorchy/persistence/redis"
	"github.com/mohitkumar/agentorchy/registry"
	"github.com/mohitkumar/agentorchy/rest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App owns every long lived component of a running server.
type App struct {
	Config       config.Config
	registry     *registry.Registry
	redisClient  rd.UniversalClient
	store        persistence.WorkflowStore
	sequences    *metadata.SequenceService
	metrics      *prometheus.Registry
	collector    analytics.WorkflowDataCollector
	executor     *executor.Executor
	channel      *channel.Channel
	hub          *broadcast.Hub
	publisher    broadcast.Publisher
	state        *orchestrator.MemoryStateStore
	engine       *engine.Engine
	orchestrator *orchestrator.Orchestrator
	httpServer   *rest.Server
	closers      []func() error
	shutdown     bool
	shutdownLock sync.Mutex
}

func New(conf config.Config) (*App, error) {
	a := &App{
		Config: conf,
	}
	setup := []func() error{
		a.setupRegistry,
		a.setupStorage,
		a.setupMetrics,
		a.setupExecutor,
		a.setupBroadcast,
		a.setupEngine,
		a.setupOrchestrator,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

func (a *App) HTTPServer() *rest.Server {
	return a.httpServer
}

func (a *App) setupRegistry() error {
	a.registry = registry.NewRegistry(a.Config.Registry.AgentsFile)
	return nil
}

func (a *App) redis() rd.UniversalClient {
	if a.redisClient == nil {
		a.redisClient = redis.NewClient(redis.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
			Password:  a.Config.RedisConfig.Password,
			PoolSize:  a.Config.RedisConfig.PoolSize,
		})
		a.closers = append(a.closers, a.redisClient.Close)
	}
	return a.redisClient
}

func (a *App) setupStorage() error {
	var defs metadata.MetadataStorage
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		ns := a.Config.RedisConfig.Namespace
		a.store = redis.NewRedisWorkflowStore(a.redis(), ns)
		defs = redis.NewRedisMetadataStorage(a.redis(), ns)
	case config.STORAGE_TYPE_MONGO:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := mongo.NewMongoWorkflowStore(ctx, mongo.Config{
			URI:        a.Config.MongoConfig.URI,
			Database:   a.Config.MongoConfig.Database,
			Collection: a.Config.MongoConfig.Collection,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { return store.Close(context.Background()) })
		a.store = store
		defs = metadata.NewInMemoryMetadataStorage()
	case config.STORAGE_TYPE_INMEM, "":
		a.store = memory.NewInMemoryWorkflowStore()
		defs = metadata.NewInMemoryMetadataStorage()
	default:
		return fmt.Errorf("unknown storage type %q", a.Config.StorageType)
	}
	var err error
	a.sequences, err = metadata.NewSequenceService(defs)
	return err
}

func (a *App) setupMetrics() error {
	a.metrics = prometheus.NewRegistry()
	a.metrics.MustRegister(collectors.NewGoCollector())
	var err error
	a.collector, err = analytics.NewDataCollector(analytics.DataCollectorConfig{
		CollectorType: analytics.DataCollectorType(a.Config.AnalyticsType),
		FileName:      a.Config.AnalyticsFile,
		Registerer:    a.metrics,
	})
	if err != nil {
		return err
	}
	if lc, ok := a.collector.(*analytics.LogFileDataCollector); ok {
		a.closers = append(a.closers, lc.Sync)
	}
	return nil
}

func (a *App) setupExecutor() error {
	conf := a.Config.Executor
	mock := executor.NewMockStrategy(executor.MockConfig{
		MinDelay:    conf.MockMinDelay,
		MaxDelay:    conf.MockMaxDelay,
		FailureRate: conf.MockFailureRate,
	})
	var strategy executor.Strategy
	switch conf.Strategy {
	case config.EXECUTOR_MOCK, "":
		strategy = mock
	case config.EXECUTOR_SCRIPT:
		strategy = executor.NewScriptStrategy(mock)
	case config.EXECUTOR_GENERATIVE:
		if conf.GeneratorURL == "" {
			return errors.New("generative executor needs a generator url")
		}
		generator := executor.NewHTTPGenerator(executor.HTTPGeneratorConfig{
			URL:    conf.GeneratorURL,
			Model:  conf.GeneratorModel,
			APIKey: conf.GeneratorAPIKey,
			RPS:    conf.GeneratorRPS,
		})
		strategy = executor.NewGenerativeStrategy(generator, executor.GenerativeConfig{
			RequiredSections: conf.RequiredSections,
			MaxAttempts:      conf.MaxAttempts,
			RetryInterval:    conf.RetryInterval,
		})
	default:
		return fmt.Errorf("unknown executor strategy %q", conf.Strategy)
	}
	a.executor = executor.NewExecutor(strategy, conf.InteractiveActions)
	return nil
}

func (a *App) setupBroadcast() error {
	a.channel = channel.NewChannel(a.Config.Engine.HistoryLimit)
	publishers := broadcast.Multi{broadcast.LogPublisher{}}
	switch a.Config.BroadcastType {
	case config.BROADCAST_TYPE_WEBSOCKET, "":
		a.hub = broadcast.NewHub(64, 5*time.Second)
		a.closers = append(a.closers, func() error { a.hub.Close(); return nil })
		publishers = append(publishers, a.hub)
	case config.BROADCAST_TYPE_REDIS:
		publishers = append(publishers, broadcast.NewRedisPublisher(a.redis(), a.Config.RedisConfig.Namespace))
	case config.BROADCAST_TYPE_NONE:
	default:
		return fmt.Errorf("unknown broadcast type %q", a.Config.BroadcastType)
	}
	a.publisher = publishers
	a.state = orchestrator.NewMemoryStateStore()
	return nil
}

func (a *App) setupEngine() error {
	conf := a.Config.Engine
	var err error
	a.engine, err = engine.NewEngine(engine.Config{
		MinPromptLength: conf.MinPromptLength,
		DefaultSequence: conf.DefaultSequence,
		Partitions:      conf.Partitions,
		StepWorkers:     conf.StepWorkers,
		WorkerCapacity:  conf.WorkerCapacity,
		RetryInterval:   conf.StepRetryInterval,
	}, a.registry, a.sequences, a.executor, a.channel, a.store, a.collector)
	return err
}

func (a *App) setupOrchestrator() error {
	conf := a.Config.Engine
	a.orchestrator = orchestrator.NewOrchestrator(orchestrator.Config{
		Retention:       conf.Retention,
		JanitorInterval: conf.JanitorInterval,
		DefinitionsDir:  a.Config.Registry.DefinitionsDir,
		AutoSubscribe:   conf.AutoSubscribe,
		RecoverOnStart:  conf.RecoverOnStart,
	}, a.registry, a.sequences, a.channel, a.engine, a.publisher, a.state)
	return nil
}

func (a *App) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.orchestrator, a.sequences, a.hub, a.state, a.metrics)
	return err
}

// Run initializes the orchestrator and serves HTTP until ctx is done or the
// server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.orchestrator.Initialize(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown()
	})
	return g.Wait()
}

func (a *App) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	logger.Info("shutting down server")

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.orchestrator.Shutdown()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}
	a.close()
	return nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("error releasing resource", zap.Error(err))
		}
	}
	a.closers = nil
}
