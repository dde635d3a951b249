package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rfi-copilot/internal/ai"
	appsvc "rfi-copilot/internal/app"
	"rfi-copilot/internal/cache"
	"rfi-copilot/internal/chunk"
	"rfi-copilot/internal/config"
	"rfi-copilot/internal/embedding"
	"rfi-copilot/internal/extract"
	"rfi-copilot/internal/pipeline"
	"rfi-copilot/internal/pkg/logger"
	"rfi-copilot/internal/platform/database"
	rabbitmqClient "rfi-copilot/internal/platform/rabbitmq"
	redisClient "rfi-copilot/internal/platform/redis"
	"rfi-copilot/internal/questions"
	"rfi-copilot/internal/repository"
	"rfi-copilot/internal/scrape"
	"rfi-copilot/internal/worker"
)

const inflightStatusTTL = 24 * time.Hour

type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Orchestrator   *pipeline.Orchestrator
	PipelineWorker *worker.PipelineWorker
	Documents      *appsvc.DocumentService
	Contexts       *appsvc.ContextService
	Questions      *appsvc.QuestionService

	inline *pipeline.InlineDispatcher
	cancel context.CancelFunc

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Options{File: cfg.Log.File, Level: cfg.Log.Level, Production: cfg.Log.Production})
	if err != nil {
		return nil, err
	}

	// Pipeline runs outlive the request that started them; Close cancels them.
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app := &App{Config: cfg, Logger: log, cancel: cancel, StartedAt: time.Now()}
	if err := app.wire(ctx, baseCtx); err != nil {
		_ = app.Close()
		return nil, err
	}
	log.Info("application ready",
		zap.String("env", cfg.App.Env),
		zap.String("database", cfg.Database.Driver),
		zap.String("classifier", cfg.Pipeline.Classifier),
		zap.String("dispatcher", cfg.Pipeline.Dispatcher),
		zap.String("status_store", cfg.Pipeline.StatusStore),
	)
	return app, nil
}

func (a *App) wire(ctx, baseCtx context.Context) error {
	cfg := a.Config

	db, err := database.New(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return err
	}
	a.DB = db
	if err := database.Migrate(db); err != nil {
		return err
	}

	client, err := NewOracle(cfg)
	if err != nil {
		return err
	}

	docRepo := repository.NewDocumentRepository(db)
	index := embedding.NewIndex(client, repository.NewEmbeddingRepository(db), embedding.Options{
		Dimensions:  cfg.LLM.EmbeddingDimensions,
		Concurrency: cfg.Pipeline.ChunkConcurrency,
		Logger:      a.Logger.Named("embedding"),
	})
	classifier := NewClassifier(cfg, client, index, a.Logger.Named("classifier"))
	extractor := extract.New(extract.Options{TempDir: cfg.Pipeline.TempDir, Logger: a.Logger.Named("extract")})

	status, err := a.statusStore(ctx)
	if err != nil {
		return err
	}

	orchestrator, err := pipeline.NewOrchestrator(docRepo, extractor, classifier, status, pipeline.Options{
		Chunker:     NewChunker(cfg),
		Concurrency: cfg.Pipeline.ChunkConcurrency,
		Logger:      a.Logger.Named("pipeline"),
	})
	if err != nil {
		return err
	}
	a.Orchestrator = orchestrator

	dispatcher, err := a.dispatcher(ctx, baseCtx, orchestrator)
	if err != nil {
		return err
	}

	intake := appsvc.IntakePolicy{MaxFileBytes: cfg.Upload.MaxFileBytes}
	a.Documents = appsvc.NewDocumentService(docRepo, status, dispatcher, intake, cfg.Upload.MaxFiles, a.Logger.Named("documents"))
	a.Questions = appsvc.NewQuestionService(repository.NewQuestionRepository(db), docRepo)
	a.Contexts = appsvc.NewContextService(
		repository.NewContextRepository(db),
		index,
		extractor,
		scrape.New(scrape.Options{
			Timeout:          time.Duration(cfg.Scrape.TimeoutSeconds) * time.Second,
			MinSnippetLength: cfg.Scrape.MinSnippetLength,
			UserAgent:        cfg.Scrape.UserAgent,
			MaxBodyBytes:     cfg.Scrape.MaxBodyBytes,
			Logger:           a.Logger.Named("scrape"),
		}),
		intake,
		a.Logger.Named("contexts"),
	)
	return nil
}

func (a *App) statusStore(ctx context.Context) (pipeline.StatusStore, error) {
	cfg := a.Config
	terminalTTL := time.Duration(cfg.Pipeline.StatusTTLSeconds) * time.Second
	if cfg.Pipeline.StatusStore != config.StatusStoreRedis {
		return pipeline.NewMemoryStatusStore(terminalTTL), nil
	}
	client, err := redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.Redis = client
	return cache.NewStatusCache(client, inflightStatusTTL, terminalTTL), nil
}

func (a *App) dispatcher(ctx, baseCtx context.Context, o *pipeline.Orchestrator) (pipeline.Dispatcher, error) {
	cfg := a.Config
	if cfg.Pipeline.Dispatcher != config.DispatcherRabbitMQ {
		a.inline = pipeline.NewInlineDispatcher(baseCtx, o, a.Logger.Named("dispatcher"))
		return a.inline, nil
	}

	conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.App.Name, cfg.RabbitMQ.PipelineQueue)
	if err != nil {
		return nil, err
	}
	a.MQConn = conn

	a.PipelineWorker = worker.NewPipelineWorker(conn, o, cfg.RabbitMQ.PipelineQueue, cfg.RabbitMQ.Prefetch, a.Logger.Named("worker"))
	if err := a.PipelineWorker.Start(baseCtx); err != nil {
		return nil, fmt.Errorf("start pipeline worker failed: %w", err)
	}
	return pipeline.NewQueueDispatcher(o, rabbitmqClient.NewJobPublisher(conn, cfg.RabbitMQ.PipelineQueue)), nil
}

// NewOracle builds the OpenAI-compatible client used for both completions
// and embeddings.
func NewOracle(cfg *config.Config) (*ai.OpenAICompatibleClient, error) {
	retry := ai.DefaultRetryPolicy()
	if cfg.LLM.MaxAttempts > 0 {
		retry.MaxAttempts = uint(cfg.LLM.MaxAttempts)
	}
	client, err := ai.NewOpenAICompatibleClient(ai.ClientOptions{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		Temperature:       cfg.LLM.Temperature,
		RequestTimeout:    time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		Retry:             retry,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client failed: %w", err)
	}
	return client, nil
}

// NewClassifier picks the question classifier named by pipeline.classifier.
// retriever may be nil, in which case answers are not grounded.
func NewClassifier(cfg *config.Config, completer ai.Completer, retriever questions.Retriever, log *zap.Logger) questions.Classifier {
	rules := questions.NewRuleClassifier(retriever, cfg.Pipeline.ContextTopK)
	attempts := max(cfg.LLM.MaxAttempts, 1)
	llm := func() *questions.LLMClassifier {
		return questions.NewLLMClassifier(completer, questions.LLMOptions{
			Timeout:   time.Duration(cfg.LLM.RequestTimeoutSeconds*attempts) * time.Second,
			Retriever: retriever,
			TopK:      cfg.Pipeline.ContextTopK,
			Logger:    log,
		})
	}
	switch cfg.Pipeline.Classifier {
	case config.ClassifierRules:
		return rules
	case config.ClassifierHybrid:
		return questions.NewHybridClassifier(llm(), rules, log)
	default:
		return llm()
	}
}

func NewChunker(cfg *config.Config) chunk.Chunker {
	return chunk.Chunker{
		Size:      cfg.Pipeline.ChunkSize,
		Overlap:   cfg.Pipeline.ChunkOverlap,
		MinLength: cfg.Pipeline.MinChunkLength,
	}
}

func (a *App) PingDatabase(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *App) PingRedis(ctx context.Context) error {
	return a.Redis.Ping(ctx).Err()
}

func (a *App) PingRabbitMQ(context.Context) error {
	return rabbitmqClient.Ping(a.MQConn)
}

// Close stops pipeline work first, then releases connections. Runs cut short
// here end in the error state and can be reprocessed.
func (a *App) Close() error {
	var errs []error
	if a.cancel != nil {
		a.cancel()
	}
	if a.PipelineWorker != nil {
		a.PipelineWorker.Close()
	}
	if a.inline != nil {
		a.inline.Wait()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
