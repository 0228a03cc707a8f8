package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"gradeflow/internal/ai"
	"gradeflow/internal/app"
	"gradeflow/internal/config"
	badgerClient "gradeflow/internal/platform/badger"
	"gradeflow/internal/platform/database"
	rabbitmqClient "gradeflow/internal/platform/rabbitmq"
	redisClient "gradeflow/internal/platform/redis"
	"gradeflow/internal/repository"
	"gradeflow/internal/worker"
)

type App struct {
	Config  *config.Config
	Store   repository.SessionStore
	Manager *app.SessionManager
	// MQConn is nil unless grading jobs go through RabbitMQ.
	MQConn *amqp.Connection

	StartedAt time.Time

	dispatcher  *worker.InProcessDispatcher
	queueWorker *worker.GradingQueueWorker
	sweeper     *worker.ExpirySweeper
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return Build(ctx, cfg)
}

// Build wires every component for cfg. Anything opened before a failure is
// closed again.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:    cfg,
		StartedAt: time.Now(),
	}
	if err := a.wire(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	a.Store = store

	llm := ai.NewOpenAICompatibleClient(ai.ClientConfig{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		Timeout:           cfg.GradingTimeout(),
	})
	extractor := ai.NewVisionExtractor(llm, cfg.LLM.OCRModel)
	scorer := ai.NewRubricScorer(llm, cfg.LLM.GradingModel)

	orchestrator := app.NewGradingOrchestrator(
		store,
		scorer,
		cfg.GradingTimeout(),
		time.Duration(cfg.Grading.EstimatedMs)*time.Millisecond,
	)

	var dispatcher app.GradingDispatcher
	switch cfg.Grading.Dispatcher {
	case config.DispatcherRabbitMQ:
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.GradingQueue)
		if err != nil {
			return err
		}
		a.MQConn = conn

		publisher := rabbitmqClient.NewGradingPublisher(conn, cfg.RabbitMQ.GradingQueue)
		dispatcher = worker.NewQueueDispatcher(publisher, 5*time.Second)

		a.queueWorker = worker.NewGradingQueueWorker(conn, orchestrator, cfg.RabbitMQ.GradingQueue, cfg.Grading.MaxConcurrent)
		if err := a.queueWorker.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("start grading worker failed: %w", err)
		}
	default:
		a.dispatcher = worker.NewInProcessDispatcher(orchestrator, cfg.Grading.MaxConcurrent)
		dispatcher = a.dispatcher
	}

	a.Manager = app.NewSessionManager(store, extractor, orchestrator, dispatcher, app.ManagerConfig{
		TTL:            cfg.SessionTTL(),
		MaxImageBytes:  cfg.Session.MaxImageBytes,
		MaxScore:       cfg.Grading.MaxScore,
		ExtractTimeout: cfg.GradingTimeout(),
	})

	a.sweeper = worker.NewExpirySweeper(store, cfg.Session.SweepSchedule, cfg.SweepGrace())
	if err := a.sweeper.Start(); err != nil {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.SessionStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMySQL:
		db, err := database.Open(ctx, "mysql", cfg.MySQLDSN())
		if err != nil {
			return nil, err
		}
		return repository.NewSessionRepository(db)
	case config.BackendSQLite:
		db, err := database.Open(ctx, "sqlite", cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return repository.NewSessionRepository(db)
	case config.BackendRedis:
		client, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		return repository.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.SweepGrace()), nil
	case config.BackendBadger:
		db, err := badgerClient.Open(cfg.Badger.Dir)
		if err != nil {
			return nil, err
		}
		return repository.NewBadgerStore(db), nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

// Close stops background work first so nothing writes to a closed store.
func (a *App) Close() error {
	var errs []error
	if a.sweeper != nil {
		a.sweeper.Close()
	}
	if a.queueWorker != nil {
		a.queueWorker.Close()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq failed: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store failed: %w", err))
		}
	}
	return errors.Join(errs...)
}
