package main

import (
	"context"
	"ec-order-lifecycle-service/internal/config"
	"ec-order-lifecycle-service/internal/handler"
	"ec-order-lifecycle-service/internal/metrics"
	"ec-order-lifecycle-service/internal/repository"
	"ec-order-lifecycle-service/internal/scheduler"
	"ec-order-lifecycle-service/internal/service"
	"ec-order-lifecycle-service/pkg/events"
	"ec-order-lifecycle-service/pkg/kafka"
	"ec-order-lifecycle-service/pkg/migrate"
	"ec-order-lifecycle-service/pkg/rabbitmq"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// eventConsumer order-created 消費者（RabbitMQ 或 Kafka）
type eventConsumer interface {
	Start() error
	Stop() error
}

// eventProducer 可關閉的事件發布器
type eventProducer interface {
	events.Publisher
	Close() error
}

func main() {
	// 載入配置
	cfg := config.LoadConfig()
	logger := service.NewSlogLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	// 執行資料庫 migration
	if cfg.RunMigrations {
		log.Println("正在執行資料庫 migration...")
		if err := migrate.RunMigrations(cfg.GetDatabaseURL(), cfg.MigrationsPath); err != nil {
			log.Fatalf("資料庫 migration 失敗: %v", err)
		}
	}

	// 初始化資料庫連接池
	log.Println("正在連接資料庫...")
	pool, err := newPool(cfg)
	if err != nil {
		log.Fatalf("連接資料庫失敗: %v", err)
	}
	defer pool.Close()
	log.Printf("資料庫連接成功 (連接池: Min=%d, Max=%d, MaxLifetime=%v, MaxIdleTime=%v, HealthCheckPeriod=%v)",
		cfg.DBMinConns, cfg.DBMaxConns, cfg.DBMaxConnLifetime, cfg.DBMaxConnIdleTime, cfg.DBHealthCheckPeriod)

	// 建立 Repository（傳入配置）
	orderRepo := repository.NewPgOrderRepositoryWithConfig(pool, cfg.DBQueryTimeout, cfg.DBWriteTimeout)
	catalogRepo := repository.NewPgCatalogRepository(pool, cfg.DBQueryTimeout)

	// 初始化事件通道
	var (
		producer    eventProducer
		newConsumer func(events.Handler) (eventConsumer, error)
	)
	if cfg.UseKafka() {
		producer, newConsumer = setupKafka(cfg)
	} else {
		var closeConn func() error
		producer, newConsumer, closeConn = setupRabbitMQ(cfg)
		defer closeConn()
	}
	defer producer.Close()

	eventPublisher := service.NewBrokerEventPublisher(producer)

	// 建立服務
	orderService := service.NewOrderService(orderRepo, catalogRepo, eventPublisher, logger)

	delayScheduler := service.NewTimerDelayScheduler()
	paymentProcessor := service.NewPaymentProcessor(
		orderRepo,
		eventPublisher,
		delayScheduler,
		service.NewRandomDecider(cfg.PaymentSuccessRate),
		cfg.PaymentDelay,
		logger,
	)

	// 建立 Consumer 並啟動
	consumer, err := newConsumer(handler.NewOrderEventHandler(paymentProcessor))
	if err != nil {
		log.Fatalf("建立事件 Consumer 失敗: %v", err)
	}
	if err := consumer.Start(); err != nil {
		log.Fatalf("啟動事件 Consumer 失敗: %v", err)
	}
	log.Printf("事件 Consumer 已啟動 (broker=%s, channel=%s)", cfg.EventBroker, cfg.EventChannel)

	// 啟動過期掃描器
	sweeper := scheduler.NewExpirationSweeperWithConfig(
		orderRepo,
		eventPublisher,
		cfg.SweeperInterval,
		cfg.SweeperStalenessWindow,
		cfg.SweeperBatchSize,
		cfg.SweeperWorkerCount,
	)
	go sweeper.Start()

	// 設置 Gin
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), metrics.PrometheusMiddleware())

	// 健康檢查端點
	r.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "order-lifecycle-service",
		})
	})
	r.GET("/metrics", metrics.Handler())
	handler.NewOrderHTTPHandler(orderService).RegisterRoutes(r)

	server := &http.Server{
		Addr:              ":" + cfg.GetPort(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 設置優雅關閉
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 在 goroutine 中啟動 HTTP 服務器
	go func() {
		log.Printf("HTTP 服務啟動在端口 %s", cfg.GetPort())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服務啟動失敗: %v", err)
		}
	}()

	// 等待中斷信號
	<-sigChan
	log.Println("收到關閉信號，正在關閉服務...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("關閉 HTTP 服務失敗: %v", err)
	}

	// 停止 Consumer
	if err := consumer.Stop(); err != nil {
		log.Printf("停止事件 Consumer 失敗: %v", err)
	}

	// 取消尚未到期的付款結算，訂單留在 PROCESSING 由過期掃描處理
	delayScheduler.Stop()
	sweeper.Stop()

	log.Println("服務已關閉")
}

func newPool(cfg *config.Config) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, err
	}

	// 配置連接池
	dbConfig.MaxConns = int32(cfg.DBMaxConns)
	dbConfig.MinConns = int32(cfg.DBMinConns)
	dbConfig.MaxConnLifetime = cfg.DBMaxConnLifetime
	dbConfig.MaxConnIdleTime = cfg.DBMaxConnIdleTime
	dbConfig.HealthCheckPeriod = cfg.DBHealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		return nil, err
	}

	// 測試資料庫連接
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func setupRabbitMQ(cfg *config.Config) (eventProducer, func(events.Handler) (eventConsumer, error), func() error) {
	log.Println("正在連接 RabbitMQ...")
	conn, err := rabbitmq.NewConnection(cfg.GetRabbitMQURL())
	if err != nil {
		log.Fatalf("連接 RabbitMQ 失敗: %v", err)
	}
	log.Println("RabbitMQ 連接成功")

	topology := rabbitmq.NewTopology(cfg.EventChannel)
	producer, err := rabbitmq.NewOrderEventProducer(conn, topology)
	if err != nil {
		log.Fatalf("建立 RabbitMQ Producer 失敗: %v", err)
	}

	newConsumer := func(h events.Handler) (eventConsumer, error) {
		consumer, err := rabbitmq.NewOrderEventConsumerWithConfig(conn, topology, h, cfg.RabbitMQPrefetchCount, cfg.RabbitMQWorkerCount)
		if err != nil {
			return nil, err
		}
		return consumer, nil
	}
	return producer, newConsumer, conn.Close
}

func setupKafka(cfg *config.Config) (eventProducer, func(events.Handler) (eventConsumer, error)) {
	client := kafka.NewClient(cfg.KafkaBrokers)
	if !client.Enabled() {
		log.Fatal("EVENT_BROKER=kafka 但未設定 KAFKA_BROKERS")
	}
	log.Printf("使用 Kafka 作為事件通道 (brokers=%v, topic=%s)", client.Brokers, cfg.EventChannel)

	producer := kafka.NewOrderEventProducer(client, cfg.EventChannel)
	newConsumer := func(h events.Handler) (eventConsumer, error) {
		return kafka.NewOrderEventConsumer(client, cfg.EventChannel, cfg.KafkaGroupID, h), nil
	}
	return producer, newConsumer
}
