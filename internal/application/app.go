package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/application/usecase"
	"github.com/batchgate/batchgate/internal/domain/repository"
	"github.com/batchgate/batchgate/internal/domain/service"
	"github.com/batchgate/batchgate/internal/infrastructure/config"
	"github.com/batchgate/batchgate/internal/infrastructure/engine"
	"github.com/batchgate/batchgate/internal/infrastructure/eventbus"
	"github.com/batchgate/batchgate/internal/infrastructure/filestore"
	"github.com/batchgate/batchgate/internal/infrastructure/monitoring"
	"github.com/batchgate/batchgate/internal/infrastructure/persistence"
	"github.com/batchgate/batchgate/internal/infrastructure/scheduler"
	"github.com/batchgate/batchgate/internal/infrastructure/tokenizer"
	httpServer "github.com/batchgate/batchgate/internal/interfaces/http"
	"github.com/batchgate/batchgate/pkg/safego"
)

// App 应用程序（依赖注入容器）
type App struct {
	config *config.Config
	logger *zap.Logger

	// 仓储层
	batchRepo repository.BatchRepository
	fileRepo  repository.FileRepository
	blobs     *filestore.Store

	// 基础设施
	codec     service.Codec
	engine    *engine.Client
	scheduler *scheduler.Scheduler
	monitor   *monitoring.Monitor
	bus       eventbus.Bus

	// 应用服务
	chatUseCase  *usecase.ChatCompletionUseCase
	fileUseCase  *usecase.FileUseCase
	batchUseCase *usecase.BatchUseCase

	// 接口层
	httpServer *httpServer.Server

	// 监控采集循环的取消函数
	collectorCancel context.CancelFunc
}

// NewApp 创建应用程序
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	app.initApplicationServices()
	app.initInterfaces()
	app.wireMonitoring()

	return app, nil
}

// initRepositories 初始化仓储与文件存储
func (app *App) initRepositories() error {
	app.batchRepo = persistence.NewMemoryBatchRepository()
	app.fileRepo = persistence.NewMemoryFileRepository()

	blobs, err := filestore.New(app.config.Files.Dir)
	if err != nil {
		return fmt.Errorf("failed to init blob store: %w", err)
	}
	app.blobs = blobs

	app.logger.Info("Repositories initialized",
		zap.String("blob_dir", app.config.Files.Dir))
	return nil
}

// initInfrastructure 初始化分词器、引擎客户端、事件总线与调度器
func (app *App) initInfrastructure() error {
	codec, err := tokenizer.New(app.config.Tokenizer.Encoding)
	if err != nil {
		return fmt.Errorf("failed to init tokenizer: %w", err)
	}
	app.codec = codec

	app.monitor = monitoring.NewMonitor(app.logger)
	app.bus = eventbus.NewInMemoryBus(app.logger, 256)

	app.engine = engine.New(
		app.config.Engine.BaseURL,
		app.config.Engine.RequestTimeout,
		app.logger,
	)

	sched, err := scheduler.New(scheduler.Config{
		QueueCapacity: app.config.Scheduler.QueueCapacity,
		Interactive: scheduler.ClassConfig{
			Workers:  app.config.Scheduler.Interactive.Workers,
			MaxBatch: app.config.Scheduler.Interactive.MaxBatch,
			WaitTime: app.config.Scheduler.Interactive.WaitTime,
		},
		Batch: scheduler.ClassConfig{
			Workers:  app.config.Scheduler.Batch.Workers,
			MaxBatch: app.config.Scheduler.Batch.MaxBatch,
			WaitTime: app.config.Scheduler.Batch.WaitTime,
		},
	}, app.engine, app.monitor, app.logger)
	if err != nil {
		return fmt.Errorf("failed to init scheduler: %w", err)
	}
	app.scheduler = sched

	app.logger.Info("Infrastructure initialized",
		zap.String("engine_url", app.config.Engine.BaseURL),
		zap.String("tokenizer", app.config.Tokenizer.Encoding))
	return nil
}

// initApplicationServices 初始化应用服务
func (app *App) initApplicationServices() {
	app.chatUseCase = usecase.NewChatCompletionUseCase(
		app.scheduler,
		app.engine,
		app.codec,
		app.monitor,
		app.logger,
		app.config.Engine.RequestTimeout,
	)

	app.fileUseCase = usecase.NewFileUseCase(
		app.fileRepo,
		app.blobs,
		app.bus,
		app.logger,
	)

	app.batchUseCase = usecase.NewBatchUseCase(
		app.batchRepo,
		app.fileRepo,
		app.blobs,
		app.scheduler,
		app.codec,
		app.bus,
		usecase.BatchOptions{
			Model:     app.config.Batch.Model,
			MaxTokens: app.config.Batch.MaxTokens,
			Priority:  app.config.Batch.Priority,
		},
		app.logger,
	)
}

// initInterfaces 初始化接口层
func (app *App) initInterfaces() {
	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Addr:     app.config.Server.Addr(),
			Mode:     app.config.Server.Mode,
			APIToken: app.config.Auth.APIToken,
			Model:    app.config.Batch.Model,
		},
		httpServer.Deps{
			Chat:    app.chatUseCase,
			Files:   app.fileUseCase,
			Batches: app.batchUseCase,
			Monitor: app.monitor,
			Sched:   app.scheduler,
			Engine:  app.engine,
		},
		app.logger,
	)
}

// wireMonitoring 订阅生命周期事件并落到监控计数器
func (app *App) wireMonitoring() {
	app.bus.Subscribe(eventbus.EventTypeBatchCreated, func(ctx context.Context, e eventbus.Event) {
		app.monitor.IncBatchCreated()
	})

	app.bus.Subscribe(eventbus.EventTypeFileUploaded, func(ctx context.Context, e eventbus.Event) {
		app.monitor.IncFileUploaded()
	})

	app.bus.Subscribe(eventbus.EventTypeBatchStatusChanged, func(ctx context.Context, e eventbus.Event) {
		payload, ok := e.Payload().(eventbus.BatchStatusPayload)
		if !ok {
			return
		}
		switch payload.ToStatus {
		case "completed":
			app.monitor.IncBatchCompleted()
			app.monitor.AddUsage(payload.PromptTokens, payload.CompletionTokens)
		case "failed":
			app.monitor.IncBatchFailed()
		case "cancelled":
			app.monitor.IncBatchCancelled()
		}
	})
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	app.scheduler.Start()

	// 定期采集监控快照
	collectorCtx, cancel := context.WithCancel(context.Background())
	app.collectorCancel = cancel
	safego.Go(app.logger, "metrics-collector", func() {
		app.monitor.StartCollector(collectorCtx, 10*time.Second)
	})

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop 停止应用程序
// 顺序: 先停 HTTP 入口, 再排空调度器, 最后等批任务执行器落盘
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	if err := app.scheduler.Stop(ctx); err != nil {
		app.logger.Error("Failed to drain scheduler", zap.Error(err))
	}

	if err := app.batchUseCase.Drain(ctx); err != nil {
		app.logger.Error("Failed to drain batch executors", zap.Error(err))
	}

	if app.collectorCancel != nil {
		app.collectorCancel()
	}
	app.bus.Close()

	app.logger.Info("Application stopped successfully")
	return nil
}

// Logger 返回应用日志实例
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// AppConfig 返回应用配置
func (app *App) AppConfig() *config.Config {
	return app.config
}

// EngineClient 返回引擎客户端
func (app *App) EngineClient() *engine.Client {
	return app.engine
}
