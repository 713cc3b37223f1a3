package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"im-relay/internal/config"
	"im-relay/internal/handlers/apiserver"
	appKafka "im-relay/internal/kafka"
	"im-relay/internal/logger"
	"im-relay/internal/metrics"
	"im-relay/internal/middleware"
	appRedis "im-relay/internal/redis"
	"im-relay/internal/services"
	"im-relay/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig(os.Getenv("IM_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	sugar, err := logger.New(logger.Config{Development: cfg.Logger.Development, Level: cfg.Logger.Level})
	if err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer logger.Sync()
	sugar.Infow("API 服务器配置加载成功", "app", cfg.AppName, "version", cfg.AppVersion)

	metrics.Init()
	ctx := context.Background()

	// 2. 数据库与会话存储
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		sugar.Fatalf("无法初始化数据库: %v", err)
	}
	chatStore, err := storage.OpenChatStore(ctx, cfg, db)
	if err != nil {
		sugar.Fatalf("无法初始化会话存储: %v", err)
	}
	defer chatStore.Close(context.Background())

	if err := storage.AutoMigrateTables(db, chatStore.UsesSQL()); err != nil {
		sugar.Fatalf("数据库表迁移失败: %v", err)
	}

	// 3. Redis 令牌黑名单
	redisClient, err := appRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		sugar.Fatalf("无法连接到 Redis: %v", err)
	}
	defer redisClient.Close()
	tokenBlacklist := appRedis.NewRedisTokenBlacklist(redisClient)

	// 4. 会话变更事件发布
	var publisher services.EventPublisher = services.NewNoopEventPublisher()
	if cfg.Kafka.Enabled {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
		if err != nil {
			sugar.Fatalf("无法创建 Kafka 生产者: %v", err)
		}
		chatEvents := appKafka.NewChatEventPublisher(producer, cfg.Kafka)
		defer chatEvents.Close()
		publisher = chatEvents
		sugar.Infow("Kafka 事件发布已启用", "topic", cfg.Kafka.ChatEventsTopic, "brokers", cfg.Kafka.Brokers)
	} else {
		sugar.Warn("Kafka 未启用，会话变更不会推送到聊天服务器")
	}

	// 5. 文件存储
	fileStore, err := storage.NewStorageService(ctx, cfg.Storage)
	if err != nil {
		sugar.Fatalf("无法初始化文件存储: %v", err)
	}

	// 6. Repositories 与 Services
	userRepo := storage.NewGormUserRepository(db)
	contactRepo := storage.NewGormContactRepository(db)

	authService := services.NewAuthService(userRepo, tokenBlacklist, cfg.Auth)
	userService := services.NewUserService(userRepo)
	contactService := services.NewContactService(contactRepo, userRepo)
	conversationService := services.NewConversationService(chatStore.Conversations, chatStore.Messages, userRepo, publisher)
	messageService := services.NewMessageService(chatStore.Messages, chatStore.Conversations, userRepo, publisher)
	groupService := services.NewGroupService(chatStore.Conversations, userRepo, publisher)

	// 7. 路由
	r := mux.NewRouter()
	apiserver.RegisterRoutes(r, apiserver.Handlers{
		Auth:         apiserver.NewAuthHandler(authService),
		User:         apiserver.NewUserHandler(userService),
		Contact:      apiserver.NewContactHandler(contactService),
		Conversation: apiserver.NewConversationHandler(conversationService, messageService),
		Group:        apiserver.NewGroupHandler(groupService, conversationService),
		Upload:       apiserver.NewUploadHandler(fileStore, messageService, cfg.Storage),
	}, middleware.AuthMiddleware(cfg.Auth, tokenBlacklist))

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}

	// 本地存储时直接提供上传文件的静态访问
	if cfg.Storage.Type == "local" {
		staticPath := strings.TrimSuffix(cfg.Storage.BaseURL, "/") + "/"
		r.PathPrefix(staticPath).Handler(http.StripPrefix(staticPath, http.FileServer(http.Dir(cfg.Storage.LocalPath))))
		sugar.Infow("提供静态文件服务", "path", staticPath, "dir", cfg.Storage.LocalPath)
	}

	// 8. CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}

	// 9. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handlers.CORS(corsOptions...)(r),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("API 服务器启动于 %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("API 服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Info("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		zap.S().Errorf("API 服务器强制关闭: %v", err)
		return
	}
	sugar.Info("API 服务器已成功关闭")
}
