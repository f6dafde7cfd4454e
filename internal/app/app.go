package app

import (
	"context"
	"errors"
	"homework_eval_backend/internal/config"
	"homework_eval_backend/internal/controller"
	"homework_eval_backend/internal/repository"
	"homework_eval_backend/internal/service"
	"homework_eval_backend/pkg/configwatcher"
	"homework_eval_backend/pkg/database"
	"homework_eval_backend/pkg/logger"
	"homework_eval_backend/pkg/monitoring"
	"homework_eval_backend/pkg/security"
	"homework_eval_backend/pkg/tracing"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	configDir       string
	tracer          *sdktrace.TracerProvider
	services        *services
	configCallbacks []func(*config.Config)
}

type repositories struct {
	homework   *repository.HomeworkRepository
	submission *repository.SubmissionRepository
}

type services struct {
	homework   *service.HomeworkService
	submission *service.SubmissionService
	ocr        *service.OCRService
	pipeline   *service.PipelineService
}

type controllers struct {
	homework   *controller.HomeworkController
	submission *controller.SubmissionController
	health     *controller.HealthController
}

// RegisterConfigCallback 配置文件热更新后依次回调
func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		homework:   repository.NewHomeworkRepository(db),
		submission: repository.NewSubmissionRepository(db),
	}
}

func (a *App) initServices(ctx context.Context, repos *repositories, cfg *config.Config, rdb *redis.Client) (*services, error) {
	provider, err := service.NewStorageProvider(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}

	ocr := service.NewOCRService(
		service.NewOCRSpaceClient(cfg.OCR),
		service.NewImageNormalizer(cfg.OCR.MaxDimension),
		cfg.OCR.Policy,
		cfg.OCR.Concurrency,
	)

	var guard service.SubjectGuard
	if rdb != nil {
		guard = service.NewRedisSubjectGuard(rdb, cfg.Pipeline.AttemptTTL())
	} else {
		logger.Log.Warn("Redis not configured, using in-process submission guard")
		guard = service.NewLocalSubjectGuard()
	}

	s := &services{
		homework:   service.NewHomeworkService(repos.homework),
		submission: service.NewSubmissionService(repos.submission),
		ocr:        ocr,
	}

	s.pipeline = service.NewPipelineService(service.PipelineDeps{
		Validator: service.NewImageValidator(cfg.Pipeline.MaxImageBytes),
		Homework:  s.homework,
		Uploader:  service.NewUploadService(provider, cfg.Storage.UploadConcurrency),
		Extractor: ocr,
		Evaluator: service.NewEvaluationService(service.NewAIService(cfg.AI)),
		Recorder:  s.submission,
		Guard:     guard,
	}, service.PipelineOptions{
		MaxImages: cfg.Pipeline.MaxImages,
		Timeout:   cfg.Pipeline.Timeout(),
	})

	return s, nil
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		homework:   controller.NewHomeworkController(s.homework),
		submission: controller.NewSubmissionController(s.pipeline, s.submission, a.Config.Pipeline.MaxImageBytes),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute, security.ByClientIP))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config, configDir string) *App {
	logger.Log.Info("Starting homework evaluator", zap.String("mode", cfg.Server.Mode))

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	if cfg.Server.Mode != "release" || cfg.ForceMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Log.Info("Database migrated")
	}

	app := &App{
		Config:    cfg,
		DB:        db,
		configDir: configDir,
	}
	if cfg.MigrateOnly {
		return app
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}
	app.Redis = rdb

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("homework-evaluator", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	// 监控初始化
	monitoring.Init()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repos := app.initRepositories(db)
	services, err := app.initServices(ctx, repos, cfg, rdb)
	if err != nil {
		logger.Log.Fatal("Failed to initialize services", zap.Error(err))
	}
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 识别策略与并发度支持热更新，其余配置需重启生效
	app.RegisterConfigCallback(func(newCfg *config.Config) {
		services.ocr.Configure(newCfg.OCR.Policy, newCfg.OCR.Concurrency)
		logger.Log.Info("OCR settings reloaded",
			zap.String("policy", newCfg.OCR.Policy),
			zap.Int("concurrency", newCfg.OCR.Concurrency))
	})

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = cfg.Pipeline.MaxImageBytes * int64(cfg.Pipeline.MaxImages)
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	return app
}

func (a *App) watchConfig(ctx context.Context) {
	configFile := filepath.Join(a.configDir, "config.yaml")
	err := configwatcher.Watch(ctx, configFile, func(cfg *config.Config) {
		for _, cb := range a.configCallbacks {
			cb(cfg)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Warn("Config watcher stopped", zap.Error(err))
	}
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go a.watchConfig(watchCtx)

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")
	stopWatch()

	// 进行中的 SSE 连接最多等待一个流水线超时
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Pipeline.Timeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
