package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ckafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	redisDriver "github.com/redis/go-redis/v9"

	"chatsync/internal/config"
	"chatsync/internal/handlers/apiserver"
	appKafka "chatsync/internal/kafka"
	"chatsync/internal/middleware"
	"chatsync/internal/netmon"
	"chatsync/internal/offline"
	"chatsync/internal/retry"
	"chatsync/internal/services"
	"chatsync/internal/storage"
	appWebsocket "chatsync/internal/websocket"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Printf("%s 配置加载成功。", cfg.AppName)

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("数据库连接成功。")

	if err := storage.AutoMigrateTables(db); err != nil {
		log.Printf("警告：数据库表迁移可能失败: %v", err)
	} else {
		log.Println("数据库表迁移成功。")
	}

	// 3. 初始化 Redis Client (离线队列的持久化存储)
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("无法连接到 Redis: %v", err)
	}
	log.Println("成功连接到 Redis")

	// 4. 连通性监视器 + 重试执行器
	monitor := netmon.NewMonitor(storage.NewDBPinger(db))
	executor := retry.NewExecutor(cfg.Retry, monitor)

	probeCtx, cancelProbe := context.WithCancel(context.Background())
	defer cancelProbe()
	go monitor.RunProbe(probeCtx, cfg.Connectivity.ProbeInterval)

	// 5. 离线操作队列
	queue := offline.NewQueue(offline.NewRedisStore(redisClient, cfg.OfflineQueue.RedisKey))

	// 6. 初始化 Kafka Producer (通知实时分发)
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()
	log.Println("Kafka 生产者初始化成功。")

	// 7. 初始化 Repositories
	userRepo := storage.NewGormUserRepository(db)
	socialRepo := storage.NewGormSocialGraphRepository(db)
	followReqRepo := storage.NewGormFollowRequestRepository(db)
	convoRepo := storage.NewGormConversationRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	notifRepo := storage.NewGormNotificationRepository(db)

	// 8. 初始化 Services
	notificationService := services.NewNotificationService(notifRepo, socialRepo, executor, kfkProducer, cfg.Kafka)
	socialService := services.NewSocialService(userRepo, socialRepo, followReqRepo, executor, notificationService)
	chatService := services.NewChatService(convoRepo, msgRepo, socialRepo, executor, queue, notificationService)

	// 9. 重连后按序重放离线队列
	queueHandlers := chatService.QueueHandlers()
	unsubscribe := monitor.Subscribe(func(state netmon.State) {
		if !state.Reachable() {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := queue.Flush(ctx, queueHandlers); err != nil {
				log.Printf("离线队列重放未完成: %v", err)
			}
		}()
	})
	defer unsubscribe()

	// 10. WebSocket Hub + Kafka 消费者 (通知实时推送)
	hub := appWebsocket.NewHub()
	go hub.Run()

	notifConsumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建通知 Kafka 消费者: %v", err)
	}
	defer notifConsumer.Close()

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()

	go func() {
		topics := []string{cfg.Kafka.NotificationsTopic}
		log.Printf("Kafka 通知消费者启动，监听 topic: %s, GroupID: %s", cfg.Kafka.NotificationsTopic, cfg.Kafka.ConsumerGroup)
		err := notifConsumer.Consume(consumerCtx, topics, cfg.Kafka.ConsumerGroup, func(ctx context.Context, msg *ckafka.Message) error {
			return forwardNotification(hub, msg.Value)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Kafka 通知消费者错误: %v", err)
		}
		log.Println("Kafka 通知消费者 goroutine 已停止。")
	}()

	// 11. 初始化 Handlers
	socialHandler := apiserver.NewSocialHandler(socialService)
	convoHandler := apiserver.NewConversationHandler(chatService)
	notifHandler := apiserver.NewNotificationHandler(notificationService)

	// 12. 设置 HTTP 路由
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		state := monitor.State()
		status := http.StatusOK
		if !state.Reachable() {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(state)
	}).Methods(http.MethodGet)

	authMW := middleware.AuthMiddleware(cfg.Auth)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authMW)

	// 社交图路由
	apiRouter.HandleFunc("/users/{userID:[0-9]+}/follow", socialHandler.FollowHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/{userID:[0-9]+}/follow", socialHandler.UnfollowHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/users/{userID:[0-9]+}/block", socialHandler.BlockHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/{userID:[0-9]+}/block", socialHandler.UnblockHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/users/me/following", socialHandler.ListFollowingHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/me/followers", socialHandler.ListFollowersHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/follow-requests/pending", socialHandler.ListPendingRequestsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/follow-requests/accept", socialHandler.AcceptFollowRequestHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/follow-requests/reject", socialHandler.RejectFollowRequestHandler).Methods(http.MethodPost)

	// 会话与消息路由
	apiRouter.HandleFunc("/conversations", convoHandler.CreateConversationHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations", convoHandler.ListConversationsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/conversations/{conversationID:[0-9]+}/messages", convoHandler.SendMessageHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{conversationID:[0-9]+}/messages", convoHandler.GetMessagesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/conversations/{conversationID:[0-9]+}/read", convoHandler.MarkReadHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/messages/{messageID:[0-9]+}", convoHandler.DeleteMessageHandler).Methods(http.MethodDelete)

	// 通知路由
	apiRouter.HandleFunc("/notifications", notifHandler.ListNotificationsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/notifications/read", notifHandler.MarkAllReadHandler).Methods(http.MethodPost)

	// 通知实时推送 (WebSocket)
	apiRouter.HandleFunc("/ws/notifications", func(w http.ResponseWriter, req *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(req.Context())
		if !ok {
			http.Error(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
			return
		}
		appWebsocket.ServeNotifications(hub, userID, w, req, cfg.WebSocket)
	}).Methods(http.MethodGet)

	// 13. CORS
	corsHandler := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins(cfg.Server.CORS.AllowedOrigins),
		gorillaHandlers.AllowedMethods(cfg.Server.CORS.AllowedMethods),
		gorillaHandlers.AllowedHeaders(cfg.Server.CORS.AllowedHeaders),
		gorillaHandlers.ExposedHeaders(cfg.Server.CORS.ExposedHeaders),
		gorillaHandlers.AllowCredentials(),
		gorillaHandlers.MaxAge(cfg.Server.CORS.MaxAge),
	)(r)

	// 14. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        corsHandler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Printf("同步服务器启动，监听于 %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到关闭信号，开始优雅关闭...")

	cancelConsumer()
	cancelProbe()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP 服务器关闭出错: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Redis 连接关闭出错: %v", err)
	}
	log.Println("同步服务器已退出。")
}

// forwardNotification 把 Kafka 上的通知载荷转投给 WebSocket Hub。
func forwardNotification(hub *appWebsocket.Hub, payload []byte) error {
	var envelope struct {
		UserID uint `json:"userId"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("解码通知载荷失败: %w", err)
	}
	if envelope.UserID == 0 {
		return fmt.Errorf("通知载荷缺少 userId")
	}
	hub.DeliverNotification(envelope.UserID, payload)
	return nil
}
