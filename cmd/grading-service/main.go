package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assessengine/internal/common/cache"
	"assessengine/internal/common/db"
	commonmw "assessengine/internal/common/http/middleware"
	"assessengine/internal/common/mq"
	"assessengine/internal/common/storage"
	"assessengine/internal/grading/controller"
	"assessengine/internal/grading/judge"
	"assessengine/internal/grading/rating"
	"assessengine/internal/grading/repository"
	"assessengine/internal/grading/sandbox"
	"assessengine/internal/grading/service"
	appErr "assessengine/pkg/errors"
	"assessengine/pkg/utils/logger"
	"assessengine/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath  = "configs/grading_service.yaml"
	healthCheckTimeout = 2 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQL(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	judgeDB, err := db.NewPostgres(&appCfg.JudgeDatabase)
	if err != nil {
		logger.Error(context.Background(), "init judge database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = judgeDB.Close()
	}()

	var (
		problemCache cache.Cache
		locker       cache.Locker
	)
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		problemCache = redisCache
		locker = redisCache
	} else {
		logger.Warn(context.Background(), "redis not configured, finalization lock is process local")
	}

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		objStorage = minioStorage
	}

	var (
		mqClient  *mq.KafkaQueue
		publisher repository.EventPublisher = repository.NopEventPublisher{}
	)
	if appCfg.Kafka.enabled() {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mqClient.Close()
		}()
		publisher = repository.NewMQEventPublisher(mqClient, appCfg.Topics)
	} else {
		logger.Warn(context.Background(), "kafka not configured, grading events are dropped")
	}

	dispatcher, err := buildDispatcher(appCfg, judgeDB, mysqlDB, objStorage)
	if err != nil {
		logger.Error(context.Background(), "init judges failed", zap.Error(err))
		return
	}

	contests := repository.NewContestRepository(mysqlDB)
	participations := repository.NewParticipationRepository(mysqlDB)

	gradingSvc, err := service.NewGradingService(service.GradingConfig{
		Problems:       repository.NewProblemRepository(mysqlDB, problemCache, appCfg.Grading.ProblemCacheTTL),
		Contests:       contests,
		Submissions:    repository.NewSubmissionRepository(mysqlDB),
		Participations: participations,
		Dispatcher:     dispatcher,
		Publisher:      publisher,
		DBTimeout:      appCfg.Grading.Timeouts.DB,
		MQTimeout:      appCfg.Grading.Timeouts.MQ,
		MaxSourceBytes: appCfg.Grading.MaxSourceBytes,
	})
	if err != nil {
		logger.Error(context.Background(), "init grading service failed", zap.Error(err))
		return
	}

	policy, err := rating.NewPolicy(appCfg.Ranking.Policy, appCfg.Ranking.IncrementalWeight)
	if err != nil {
		logger.Error(context.Background(), "init rating policy failed", zap.Error(err))
		return
	}
	tierPolicy, err := appCfg.Ranking.tierPolicy()
	if err != nil {
		logger.Error(context.Background(), "init tier policy failed", zap.Error(err))
		return
	}
	finalizeSvc, err := service.NewFinalizationService(service.FinalizationConfig{
		Database:        mysqlDB,
		Contests:        contests,
		Participations:  participations,
		Performances:    repository.NewPerformanceRepository(mysqlDB),
		Tiers:           repository.NewTierRepository(mysqlDB),
		Publisher:       publisher,
		Locker:          locker,
		Policy:          policy,
		Scale:           appCfg.Ranking.scale(),
		TierPolicy:      tierPolicy,
		LockTTL:         appCfg.Ranking.LockTTL,
		LockWait:        appCfg.Ranking.LockWait,
		FinalizeTimeout: appCfg.Ranking.FinalizeTimeout,
		DBTimeout:       appCfg.Grading.Timeouts.DB,
		MQTimeout:       appCfg.Grading.Timeouts.MQ,
	})
	if err != nil {
		logger.Error(context.Background(), "init finalization service failed", zap.Error(err))
		return
	}

	if mqClient != nil {
		consumer := service.NewContestClosedConsumer(finalizeSvc)
		err = mqClient.Subscribe(context.Background(), appCfg.Topics.ContestClosed, consumer.HandleMessage, appCfg.Kafka.subscribeOptions())
		if err != nil {
			logger.Error(context.Background(), "subscribe kafka failed", zap.Error(err))
			return
		}
		if err := mqClient.Start(); err != nil {
			logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
			return
		}
	}

	httpServer := buildHTTPServer(appCfg.Server, controller.NewGradingController(gradingSvc, finalizeSvc), mysqlDB)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "grading http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if mqClient != nil {
		_ = mqClient.Stop()
	}
}

func buildDispatcher(cfg *AppConfig, judgeDB, mysqlDB db.Database, objStorage storage.ObjectStorage) (*judge.Dispatcher, error) {
	sandboxClient, err := sandbox.NewClient(sandbox.Config{
		BaseURL: cfg.Sandbox.BaseURL,
		Timeout: cfg.Sandbox.Timeout,
	}, nil)
	if err != nil {
		return nil, err
	}
	corpus, err := repository.NewCorpusStore(repository.CorpusConfig{
		Database: mysqlDB,
		Storage:  objStorage,
		Bucket:   cfg.Grading.CorpusBucket,
		TTL:      cfg.Grading.CorpusTTL,
	})
	if err != nil {
		return nil, err
	}
	compiled, err := judge.NewCompiledJudge(judge.CompiledConfig{
		Executor:    sandboxClient,
		Corpus:      corpus,
		Languages:   cfg.Sandbox.Languages,
		Concurrency: cfg.Sandbox.Concurrency,
		CaseTimeout: cfg.Sandbox.CaseTimeout,
	})
	if err != nil {
		return nil, err
	}
	query, err := judge.NewQueryJudge(judge.QueryConfig{
		Database: judgeDB,
		Timeout:  cfg.Grading.QueryTimeout,
	})
	if err != nil {
		return nil, err
	}
	return judge.NewDispatcher(compiled, query, judge.NewClientCheckedJudge())
}

func buildHTTPServer(cfg ServerConfig, gradingController *controller.GradingController, database db.Database) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContext())
	router.Use(commonmw.AccessLog())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		if err := database.Ping(ctx); err != nil {
			response.Error(c, appErr.Wrap(err, appErr.ServiceUnavailable))
			return
		}
		stats := database.Stats()
		response.Success(c, gin.H{
			"status":           "ok",
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"wait_count":       stats.WaitCount,
		})
	})

	gradingController.Register(router.Group("/api/v1/grading"))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
