// Package container - Dependency Injection container for the engine.
//
// Container управляет жизненным циклом всех зависимостей:
// - Создание (инфраструктура -> репозитории -> сервисы -> фоновые компоненты)
// - Доступ (getters)
// - Закрытие (cleanup в обратном порядке)
//
// Pattern: Composition Root
// - Все зависимости собираются в одном месте
// - Легко тестировать
// - Легко заменять реализации
package container

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Haleralex/payflow/internal/application/notification"
	"github.com/Haleralex/payflow/internal/application/ports"
	"github.com/Haleralex/payflow/internal/application/saga"
	"github.com/Haleralex/payflow/internal/application/transaction"
	"github.com/Haleralex/payflow/internal/application/user"
	"github.com/Haleralex/payflow/internal/application/wallet"
	"github.com/Haleralex/payflow/internal/application/webhook"
	"github.com/Haleralex/payflow/internal/config"
	busmemory "github.com/Haleralex/payflow/internal/infrastructure/eventbus/memory"
	"github.com/Haleralex/payflow/internal/infrastructure/eventbus/natsbus"
	"github.com/Haleralex/payflow/internal/infrastructure/eventbus/redisbus"
	"github.com/Haleralex/payflow/internal/infrastructure/persistence/postgres"
	"github.com/Haleralex/payflow/internal/infrastructure/queue/redisqueue"
	"github.com/Haleralex/payflow/internal/pkg/logger"
)

const (
	queueWebhooks      = "webhooks"
	queueNotifications = "notifications"
)

// ============================================
// Container
// ============================================

// Container - DI контейнер движка.
type Container struct {
	config *config.Config
	logger *slog.Logger

	// Infrastructure
	pool        *pgxpool.Pool
	redisClient *redis.Client

	// Шина: отдельный экземпляр на каждого подписчика, потому что на
	// экземпляре допустим один обработчик на тип события. Публикации
	// идут через publisherBus.
	publisherBus    ports.EventBus
	orchestratorBus ports.EventBus
	webhookBus      ports.EventBus
	notificationBus ports.EventBus

	// Queues
	webhookQueue      ports.JobQueue
	notificationQueue ports.JobQueue

	// Repositories
	userRepo        ports.UserRepository
	walletRepo      ports.WalletRepository
	operationRepo   ports.OperationRepository
	transactionRepo ports.TransactionRepository
	webhookRepo     ports.WebhookRepository
	uow             ports.UnitOfWork

	// Services
	ledger         *wallet.Service
	userService    *user.Service
	txQueries      *transaction.Queries
	webhookService *webhook.Service
	simulator      *saga.Simulator

	// Background components
	orchestrator       *saga.Orchestrator
	reconciler         *saga.Reconciler
	webhookDispatcher  *webhook.Dispatcher
	webhookWorker      *webhook.Worker
	notificationDisp   *notification.Dispatcher
	notificationWorker *notification.Worker
}

// New создаёт новый контейнер с заданной конфигурацией.
func New(cfg *config.Config) *Container {
	return &Container{
		config: cfg,
	}
}

// ============================================
// Initialization
// ============================================

// Initialize инициализирует все зависимости. Фоновые компоненты
// создаются, но не стартуют: их запускает Start.
func (c *Container) Initialize(ctx context.Context) error {
	c.initLogger()
	c.logger.Info("Initializing engine container...")

	if err := c.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database connected")

	if err := c.initRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	c.logger.Info("Redis connected")

	c.initEventBuses()
	c.initQueues()
	c.initRepositories()
	c.initServices()
	c.initBackground()

	c.logger.Info("Container initialization complete")
	return nil
}

// initLogger инициализирует логгер.
func (c *Container) initLogger() {
	logger.Setup(&logger.Config{
		Level:     c.config.Log.Level,
		Format:    c.config.Log.Format,
		Output:    os.Stdout,
		AddSource: c.config.App.Debug,
	})
	c.logger = slog.Default()
}

// initDatabase инициализирует подключение к БД.
func (c *Container) initDatabase(ctx context.Context) error {
	pool, err := postgres.NewConnectionPool(ctx, postgres.Config{
		Host:            c.config.Database.Host,
		Port:            c.config.Database.Port,
		Database:        c.config.Database.Database,
		User:            c.config.Database.User,
		Password:        c.config.Database.Password,
		SSLMode:         c.config.Database.SSLMode,
		MaxConns:        c.config.Database.MaxConnections,
		MinConns:        c.config.Database.MinConnections,
		MaxConnLifetime: c.config.Database.MaxConnLifetime,
		MaxConnIdleTime: c.config.Database.MaxConnIdleTime,
	})
	if err != nil {
		return err
	}
	c.pool = pool
	return nil
}

// initRedis инициализирует общий Redis-клиент (очереди и шина).
func (c *Container) initRedis(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     c.config.Redis.Address(),
		Password: c.config.Redis.Password,
		DB:       c.config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	c.redisClient = client
	return nil
}

// initEventBuses создаёт экземпляры шины по выбранному драйверу.
func (c *Container) initEventBuses() {
	switch c.config.Bus.Driver {
	case "nats":
		c.publisherBus = natsbus.NewBus(c.config.Bus.NATSURL, c.logger, nil)
		c.orchestratorBus = natsbus.NewBus(c.config.Bus.NATSURL, c.logger, nil)
		c.webhookBus = natsbus.NewBus(c.config.Bus.NATSURL, c.logger, nil)
		c.notificationBus = natsbus.NewBus(c.config.Bus.NATSURL, c.logger, nil)
	case "memory":
		broker := busmemory.NewBroker()
		c.publisherBus = broker.NewBus()
		c.orchestratorBus = broker.NewBus()
		c.webhookBus = broker.NewBus()
		c.notificationBus = broker.NewBus()
	default:
		c.publisherBus = redisbus.NewBus(c.redisClient, c.logger, nil)
		c.orchestratorBus = redisbus.NewBus(c.redisClient, c.logger, nil)
		c.webhookBus = redisbus.NewBus(c.redisClient, c.logger, nil)
		c.notificationBus = redisbus.NewBus(c.redisClient, c.logger, nil)
	}
}

// initQueues создаёт durable-очереди фоновых задач.
func (c *Container) initQueues() {
	c.webhookQueue = redisqueue.NewQueue(queueWebhooks, c.redisClient, c.logger, redisqueue.Options{
		Concurrency:     c.config.Queue.WebhookConcurrency,
		DefaultAttempts: c.config.Queue.WebhookAttempts,
		DefaultBackoff:  c.config.Queue.WebhookBackoff,
		StalledAfter:    c.config.Queue.StalledAfter,
	})
	c.notificationQueue = redisqueue.NewQueue(queueNotifications, c.redisClient, c.logger, redisqueue.Options{
		Concurrency:     c.config.Queue.NotificationConcurrency,
		DefaultAttempts: c.config.Queue.NotificationAttempts,
		DefaultBackoff:  c.config.Queue.NotificationBackoff,
		StalledAfter:    c.config.Queue.StalledAfter,
	})
}

// initRepositories инициализирует репозитории.
func (c *Container) initRepositories() {
	c.userRepo = postgres.NewUserRepository(c.pool)
	c.walletRepo = postgres.NewWalletRepository(c.pool)
	c.operationRepo = postgres.NewOperationRepository(c.pool)
	c.transactionRepo = postgres.NewTransactionRepository(c.pool)
	c.webhookRepo = postgres.NewWebhookRepository(c.pool)
	c.uow = postgres.NewUnitOfWork(c.pool)
}

// initServices инициализирует прикладные сервисы.
func (c *Container) initServices() {
	c.ledger = wallet.NewService(c.walletRepo, c.operationRepo, c.uow, c.logger)
	c.userService = user.NewService(c.userRepo, c.walletRepo, c.uow, c.logger)
	c.txQueries = transaction.NewQueries(c.transactionRepo)
	c.webhookService = webhook.NewService(c.webhookRepo, c.logger)

	c.simulator = saga.NewSimulator()
	if c.config.Simulator.Enabled {
		c.simulator.Configure(saga.SimulatorConfig{
			Enabled:     true,
			FailureRate: c.config.Simulator.FailureRate,
			FailureType: saga.FailureCredit,
		})
	}
}

// initBackground инициализирует фоновые компоненты.
func (c *Container) initBackground() {
	c.orchestrator = saga.NewOrchestrator(
		c.transactionRepo,
		c.userRepo,
		c.walletRepo,
		c.ledger,
		c.orchestratorBus,
		c.simulator,
		c.logger,
	)
	c.reconciler = saga.NewReconciler(
		c.transactionRepo,
		c.publisherBus,
		c.logger,
		c.config.Reconciler.SweepInterval,
		c.config.Reconciler.StallThreshold,
	)

	httpClient := &http.Client{Timeout: c.config.Webhook.RequestTimeout}
	c.webhookDispatcher = webhook.NewDispatcher(c.webhookRepo, c.webhookBus, c.webhookQueue, c.logger)
	c.webhookWorker = webhook.NewWorker(c.webhookRepo, c.webhookQueue, httpClient, c.logger)

	c.notificationDisp = notification.NewDispatcher(c.notificationBus, c.notificationQueue, c.logger)
	c.notificationWorker = notification.NewWorker(c.notificationQueue, c.logger)
}

// ============================================
// Start
// ============================================

// Start подключает шины и запускает фоновые компоненты.
//
// Порядок: воркеры очередей раньше диспетчеров, диспетчеры раньше
// оркестратора, reconciler последним - к моменту переиздания событий
// вся цепочка уже слушает.
func (c *Container) Start(ctx context.Context) error {
	for name, bus := range map[string]ports.EventBus{
		"publisher":    c.publisherBus,
		"orchestrator": c.orchestratorBus,
		"webhook":      c.webhookBus,
		"notification": c.notificationBus,
	} {
		if err := bus.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect %s bus: %w", name, err)
		}
	}

	if err := c.webhookWorker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start webhook worker: %w", err)
	}
	if err := c.notificationWorker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notification worker: %w", err)
	}

	if err := c.webhookDispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start webhook dispatcher: %w", err)
	}
	if err := c.notificationDisp.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notification dispatcher: %w", err)
	}

	if err := c.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	if c.config.Reconciler.Enabled {
		c.reconciler.Start(ctx)
	}

	c.logger.Info("Engine started",
		slog.String("version", c.config.App.Version),
		slog.String("environment", c.config.App.Environment),
		slog.String("bus_driver", c.config.Bus.Driver),
	)
	return nil
}

// ============================================
// Getters
// ============================================

// Config возвращает конфигурацию.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger возвращает логгер.
func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// Pool возвращает пул соединений к БД.
func (c *Container) Pool() *pgxpool.Pool {
	return c.pool
}

// Ledger возвращает сервис кошельков.
func (c *Container) Ledger() *wallet.Service {
	return c.ledger
}

// UserService возвращает сервис пользователей.
func (c *Container) UserService() *user.Service {
	return c.userService
}

// TransactionQueries возвращает read-сервис транзакций.
func (c *Container) TransactionQueries() *transaction.Queries {
	return c.txQueries
}

// WebhookService возвращает сервис управления подписками.
func (c *Container) WebhookService() *webhook.Service {
	return c.webhookService
}

// Orchestrator возвращает саговый оркестратор.
func (c *Container) Orchestrator() *saga.Orchestrator {
	return c.orchestrator
}

// Simulator возвращает симулятор сбоев.
func (c *Container) Simulator() *saga.Simulator {
	return c.simulator
}

// WebhookQueue возвращает очередь доставки вебхуков.
func (c *Container) WebhookQueue() ports.JobQueue {
	return c.webhookQueue
}

// NotificationQueue возвращает очередь уведомлений.
func (c *Container) NotificationQueue() ports.JobQueue {
	return c.notificationQueue
}

// ============================================
// Shutdown
// ============================================

// Shutdown выполняет graceful shutdown всех компонентов.
//
// Порядок обратный запуску: сначала останавливается производство
// новых событий (reconciler), потом дожидаются воркеры очередей,
// потом закрываются шины и соединения.
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	var errs []error

	if c.reconciler != nil {
		c.reconciler.Stop()
	}

	for name, q := range map[string]ports.JobQueue{
		"webhooks":      c.webhookQueue,
		"notifications": c.notificationQueue,
	} {
		if q == nil {
			continue
		}
		if err := q.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s queue close: %w", name, err))
		}
	}

	for name, bus := range map[string]ports.EventBus{
		"publisher":    c.publisherBus,
		"orchestrator": c.orchestratorBus,
		"webhook":      c.webhookBus,
		"notification": c.notificationBus,
	} {
		if bus == nil {
			continue
		}
		if err := bus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s bus close: %w", name, err))
		}
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if c.pool != nil {
		done := make(chan struct{})
		go func() {
			c.pool.Close()
			close(done)
		}()

		select {
		case <-done:
			c.logger.Info("Database connection closed")
		case <-ctx.Done():
			c.logger.Warn("Database close timeout")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

// ============================================
// Health Check
// ============================================

// HealthStatus - статус здоровья движка.
type HealthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// Health возвращает статус здоровья движка.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:  "healthy",
		Version: c.config.App.Version,
		Checks:  make(map[string]string),
	}

	if err := postgres.HealthCheck(ctx, c.pool); err != nil {
		status.Status = "unhealthy"
		status.Checks["database"] = "error: " + err.Error()
	} else {
		status.Checks["database"] = "ok"
	}

	if err := c.redisClient.Ping(ctx).Err(); err != nil {
		status.Status = "unhealthy"
		status.Checks["redis"] = "error: " + err.Error()
	} else {
		status.Checks["redis"] = "ok"
	}

	return status
}
