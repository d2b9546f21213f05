package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/application/usecase"
	"github.com/batchgate/batchgate/internal/infrastructure/monitoring"
	"github.com/batchgate/batchgate/internal/infrastructure/scheduler"
	"github.com/batchgate/batchgate/internal/interfaces/http/handlers"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Addr     string
	Mode     string // local, production
	APIToken string // 为空时关闭鉴权
	Model    string // /v1/models 展示的模型名
}

// Pinger probes the upstream engine for the health route. Satisfied by
// engine.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles everything the routes need.
type Deps struct {
	Chat    *usecase.ChatCompletionUseCase
	Files   *usecase.FileUseCase
	Batches *usecase.BatchUseCase
	Monitor *monitoring.Monitor
	Sched   *scheduler.Scheduler
	Engine  Pinger
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	// 设置Gin模式
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	if cfg.APIToken == "" {
		logger.Warn("API token is empty, authentication disabled")
	}

	// 初始化处理器
	chatHandler := handlers.NewChatHandler(deps.Chat, cfg.Model, logger)
	fileHandler := handlers.NewFileHandler(deps.Files, logger)
	batchHandler := handlers.NewBatchHandler(deps.Batches, logger)
	debugHandler := handlers.NewDebugHandler(deps.Monitor, deps.Sched)

	// 注册路由
	setupRoutes(router, cfg.APIToken, chatHandler, fileHandler, batchHandler, debugHandler, deps.Monitor, deps.Engine)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(
	router *gin.Engine,
	apiToken string,
	chatHandler *handlers.ChatHandler,
	fileHandler *handlers.FileHandler,
	batchHandler *handlers.BatchHandler,
	debugHandler *handlers.DebugHandler,
	monitor *monitoring.Monitor,
	engine Pinger,
) {
	// 健康检查: 网关存活 + 引擎可达性
	router.GET("/health", func(c *gin.Context) {
		engineStatus := "ok"
		if engine != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := engine.Ping(ctx); err != nil {
				engineStatus = "unreachable"
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"engine": engineStatus,
			"time":   time.Now().Unix(),
		})
	})

	// Prometheus 文本指标
	router.GET("/metrics", gin.WrapF(monitor.PrometheusHandler()))

	// 运维调试
	debug := router.Group("/debug")
	{
		debug.GET("/stats", debugHandler.Stats)
		debug.GET("/history", debugHandler.History)
	}

	// OpenAI-compatible API
	v1 := router.Group("/v1")
	v1.Use(bearerAuth(apiToken))
	{
		v1.POST("/chat/completions", chatHandler.ChatCompletions)
		v1.GET("/models", chatHandler.ListModels)

		v1.POST("/files", fileHandler.Upload)
		v1.GET("/files", fileHandler.List)
		v1.GET("/files/:id", fileHandler.Get)
		v1.GET("/files/:id/content", fileHandler.Content)
		v1.DELETE("/files/:id", fileHandler.Delete)

		v1.POST("/batches", batchHandler.Create)
		v1.GET("/batches", batchHandler.List)
		v1.GET("/batches/:id", batchHandler.Get)
		v1.POST("/batches/:id/cancel", batchHandler.Cancel)
	}
}
