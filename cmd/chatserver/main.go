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
	"sync"
	"syscall"
	"time"

	"im-relay/internal/config"
	"im-relay/internal/handlers/chatserver"
	appKafka "im-relay/internal/kafka"
	kafkahandlers "im-relay/internal/kafka/handlers"
	"im-relay/internal/logger"
	"im-relay/internal/metrics"
	"im-relay/internal/presence"
	appRedis "im-relay/internal/redis"
	"im-relay/internal/services"
	"im-relay/internal/storage"
	"im-relay/internal/websocket"
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
	sugar.Infow("Chat 服务器配置加载成功", "app", cfg.AppName, "version", cfg.AppVersion)

	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 群聊中继需要会话成员，连接同一个会话存储 (只读，不迁移)
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		sugar.Fatalf("无法初始化数据库: %v", err)
	}
	chatStore, err := storage.OpenChatStore(ctx, cfg, db)
	if err != nil {
		sugar.Fatalf("无法初始化会话存储: %v", err)
	}
	defer chatStore.Close(context.Background())

	userRepo := storage.NewGormUserRepository(db)
	conversationService := services.NewConversationService(chatStore.Conversations, chatStore.Messages, userRepo, services.NewNoopEventPublisher())

	// 3. Redis 令牌黑名单，登出后的令牌不能再建立连接
	redisClient, err := appRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		sugar.Fatalf("无法连接到 Redis: %v", err)
	}
	defer redisClient.Close()
	tokenBlacklist := appRedis.NewRedisTokenBlacklist(redisClient)

	// 4. Presence + Hub + Relay
	registry := presence.NewMemoryRegistry()
	hub := websocket.NewHub(registry, cfg.WebSocket.SendBufferSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	relay := websocket.NewRelay(registry, hub, conversationService)
	sugar.Info("WebSocket Hub 已启动")

	// 5. Kafka 会话变更事件 -> 在线成员
	if cfg.Kafka.Enabled {
		consumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
		if err != nil {
			sugar.Fatalf("无法创建 Kafka 消费者: %v", err)
		}
		defer consumer.Close()

		chatEvents := kafkahandlers.NewChatEventConsumerLogic(hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sugar.Infow("Kafka 会话事件消费者启动", "topic", cfg.Kafka.ChatEventsTopic, "group", cfg.Kafka.ConsumerGroup)
			err := consumer.Consume(ctx, []string{cfg.Kafka.ChatEventsTopic}, cfg.Kafka.ConsumerGroup, chatEvents.HandleChatEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				sugar.Errorf("Kafka 会话事件消费者错误: %v", err)
			}
			sugar.Info("Kafka 会话事件消费者已停止")
		}()
	}

	// 6. 路由
	wsHandler := chatserver.NewWebSocketHandler(hub, relay, tokenBlacklist, cfg)
	mux := http.NewServeMux()
	wsPath := strings.TrimSuffix(cfg.Server.WebSocketPath, "/")
	mux.HandleFunc(wsPath, wsHandler.ServeWS)
	mux.HandleFunc(wsPath+"/", wsHandler.ServeWS)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	// 7. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:           serverAddr,
		Handler:        mux,
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		sugar.Infof("Chat HTTP 服务器启动于 %s, WebSocket 路径: %s", serverAddr, wsPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("Chat 服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Info("Chat 服务器准备关闭...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		sugar.Errorf("Chat 服务器关闭失败: %v", err)
	}

	// Hub 与消费者随 ctx 结束
	cancel()
	wg.Wait()
	sugar.Info("Chat 服务器已优雅关闭。")
}
