package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime_chat_service/internal/chat/app"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/internal/chat/router"
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/database"
	"realtime_chat_service/pkg/logger"
	testtool "realtime_chat_service/pkg/test_tool"
	"realtime_chat_service/pkg/token"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	defer logger.Log.Sync()
	cfg := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)
	store := cfg.Store.Defaults()
	relayCfg := cfg.Relay.Defaults()
	dirCfg := cfg.Directory.Defaults()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Mongo: 訊息 shard + room directory
	mongoURI := cfg.MongoSQL.MongoURI()
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    mongoURI,
			RetryCount:    cfg.MongoSQL.RetryCount,
			RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval),
		},
		dirCfg.Database)
	if err != nil {
		logger.Log.Fatal("Unable to connect to mongoDB database after retries",
			zap.String("address", fmt.Sprintf("[%s:%d]", cfg.MongoSQL.Host, cfg.MongoSQL.Port)),
			zap.Error(err),
		)
	}
	defer mongo.Close(context.Background())

	shards := repository.NewShardRegistry(mongo.Client)
	defer shards.Close()
	messageRepo := repository.NewMongoMessageRepository(shards, repository.StoreOptions{
		ChunkCapacity:   store.ChunkCapacity,
		ShardCapacity:   store.ShardCapacity,
		Timeout:         store.Timeout,
		DedupeReactions: store.DedupeReactions,
	})
	roomRepo := repository.NewMongoRoomRepository(mongo.Database, dirCfg.Collection, store.Timeout)

	// 2. PostgreSQL: identity (sessions + per-user room list)
	pg, err := database.NewDatabaseConnection(database.Connection{
		ConnectStr:    cfg.Identity.PostgresURI(),
		RetryCount:    cfg.Identity.RetryCount,
		RetryInterval: time.Duration(cfg.Identity.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to identity database after retries", zap.Error(err))
	}
	defer pg.Close()
	identityRepo := repository.NewPostgresIdentityRepository(pg, store.Timeout)

	// 3. Redis: 跨節點房間廣播
	redisClient := newRedisClient(cfg.Redis)
	defer redisClient.Close()
	bus := repository.NewRedisRoomBus(redisClient)

	// 4. Kafka lifecycle events, optional
	var publisher repository.LifecyclePublisher = repository.NopLifecyclePublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: time.Duration(cfg.Kafka.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("connect kafka", zap.Error(err))
		}
		publisher = repository.NewKafkaLifecyclePublisher(writer)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Log.Errorf("close lifecycle publisher", err)
		}
	}()

	// 5. MinIO avatars, optional
	var avatarRepo repository.AvatarRepository
	if cfg.MinIO.Endpoint != "" {
		mc, err := database.NewMinIOConnection(database.MinIOConnection{
			Endpoint:      cfg.MinIO.Endpoint,
			User:          cfg.MinIO.User,
			Password:      cfg.MinIO.Password,
			BucketName:    cfg.MinIO.Bucket,
			UseSSL:        cfg.MinIO.UseSSL,
			RetryCount:    cfg.MinIO.RetryCount,
			RetryInterval: time.Duration(cfg.MinIO.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("connect minio", zap.Error(err))
		}
		avatarRepo = repository.NewMinIOAvatarRepository(mc, cfg.MinIO.PublicURL)
	}

	verifier, err := token.NewVerifier(cfg.Token.PublicKeyPath, cfg.Token.Secret)
	if err != nil {
		logger.Log.Fatal("load token verifier", zap.Error(err))
	}

	// 6. 初始化 UseCases
	hub := app.NewHub(bus, app.DefaultSendBuffer)
	if err := hub.Run(ctx); err != nil {
		logger.Log.Fatal("subscribe room bus", zap.Error(err))
	}
	relay := app.NewMembershipRelay(roomRepo, identityRepo, publisher, relayCfg.Interval, relayCfg.Batch)
	go relay.Run(ctx)

	gatekeeper := app.NewGatekeeper(verifier, identityRepo)
	presence := app.NewPresence(hub, roomRepo, messageRepo)
	dispatcher := app.NewDispatcher(hub, messageRepo, roomRepo, store.PageSize)
	roomUC := app.NewRoomUseCase(messageRepo, roomRepo, avatarRepo, relay, hub)

	// 7. 啟動 Fiber
	r := fiber.New(fiber.Config{BodyLimit: 6 * 1024 * 1024})
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Log.Fatal("Failed to open access log", zap.Error(err))
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	router.RegisterRoutes(r, gatekeeper,
		app.NewChatWebsocketHandler(gatekeeper, presence, dispatcher, hub),
		app.NewRoomHandler(roomUC),
	)
	testtool.StartPprof()

	go func() {
		<-ctx.Done()
		logger.Log.Info("shutting down chat service")
		if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Errorf("fiber shutdown", err)
		}
	}()

	port := cfg.Port
	if port == "" {
		port = config.EnvConfig.ChatServicePort
	}
	port = ":" + port
	logger.Log.Info("Chat Service listening", zap.String("port", port))
	if err := r.Listen(port); err != nil {
		logger.Log.Errorf("Failed to start Fiber", err)
	}
}

// newRedisClient standalone when an address is configured, sentinel from .env otherwise
func newRedisClient(c config.RedisConfig) *redis.Client {
	if c.Addr != "" {
		client, err := database.NewRedisStandaloneClient(c.Addr, c.RedisDB)
		if err != nil {
			logger.Log.Fatal("connect redis", zap.String("addr", c.Addr), zap.Error(err))
		}
		return client
	}

	masterName, sentinel := config.GetRedisSetting()
	client, err := database.NewRedisClient(masterName, sentinel, c.RedisDB)
	if err != nil {
		logger.Log.Fatal("connect redis sentinel", zap.String("master", masterName), zap.Error(err))
	}
	return client
}
